package reconcile

import (
	"time"

	"github.com/roach88/docket/internal/clock"
)

// debouncer is the cancellable flush timer owned by the event loop.
//
// Arm restarts the window, Cancel drops it, and Fired confirms that a
// timer callback belongs to the current arming. The callback itself only
// posts an event carrying its arm id, so a fire that races with a re-arm is
// recognised as stale and ignored.
//
// Thread-safety: every method except the fire callback must be called
// from the loop goroutine.
type debouncer struct {
	clock clock.Clock
	delay time.Duration
	fire  func(armID uint64)

	timer clock.Timer
	armID uint64
	since time.Time
}

func newDebouncer(c clock.Clock, delay time.Duration, fire func(armID uint64)) *debouncer {
	return &debouncer{clock: c, delay: delay, fire: fire}
}

// Arm starts or restarts the window.
func (d *debouncer) Arm() {
	if d.timer != nil {
		d.timer.Stop()
	} else {
		d.since = d.clock.Now()
	}
	d.armID++
	id := d.armID
	d.timer = d.clock.AfterFunc(d.delay, func() { d.fire(id) })
}

// Cancel drops the pending window, if any.
func (d *debouncer) Cancel() {
	if d.timer == nil {
		return
	}
	d.timer.Stop()
	d.timer = nil
	d.armID++
	d.since = time.Time{}
}

// Fired reports whether armID is the live arming and, if so, clears it.
func (d *debouncer) Fired(armID uint64) bool {
	if d.timer == nil || armID != d.armID {
		return false
	}
	d.timer = nil
	d.since = time.Time{}
	return true
}

// Pending reports whether a window is open.
func (d *debouncer) Pending() bool { return d.timer != nil }

// Since returns when the open window was first armed.
func (d *debouncer) Since() time.Time { return d.since }
