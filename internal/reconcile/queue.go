package reconcile

import (
	"sync"

	"github.com/roach88/docket/internal/stock"
)

// eventType distinguishes loop events.
type eventType int

const (
	// eventEdit is a local increment or decrement.
	eventEdit eventType = iota + 1
	// eventRemote is a sheet pushed by the remote store.
	eventRemote
	// eventFlushDue is a debounce timer fire.
	eventFlushDue
	// eventWriteDone is the completion of an off-loop write.
	eventWriteDone
	// eventReset clears the tally and pushes the reset immediately.
	eventReset
	// eventResetDone is the completion of an off-loop reset.
	eventResetDone
	// eventFlushNow forces any pending local state out without waiting.
	eventFlushNow
	// eventSnapshot reads a copy of the tally.
	eventSnapshot
)

func (t eventType) String() string {
	switch t {
	case eventEdit:
		return "edit"
	case eventRemote:
		return "remote"
	case eventFlushDue:
		return "flush_due"
	case eventWriteDone:
		return "write_done"
	case eventReset:
		return "reset"
	case eventResetDone:
		return "reset_done"
	case eventFlushNow:
		return "flush_now"
	case eventSnapshot:
		return "snapshot"
	default:
		return "unknown"
	}
}

// event is one unit of work for the loop. Only the fields relevant to typ
// are set.
type event struct {
	typ eventType

	key   stock.Key
	field stock.Field
	delta int

	counters stock.Counters
	armID    uint64
	gen      uint64
	err      error

	reply chan reply
}

// reply carries an operation's result back to the waiting caller.
type reply struct {
	counter  stock.Counter
	counters stock.Counters
	err      error
}

func (ev event) respond(r reply) {
	if ev.reply != nil {
		ev.reply <- r
	}
}

// eventQueue is a thread-safe unbounded FIFO of loop events.
//
// Unbounded so that remote callbacks and timer fires never block the
// goroutine delivering them. The signal channel (buffer 1) coalesces
// wake-ups and is closed by Close to release the loop.
type eventQueue struct {
	mu     sync.Mutex
	events []event
	closed bool
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]event, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends an event. Returns false once the queue is closed.
func (q *eventQueue) Enqueue(e event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, e)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front event without blocking.
func (q *eventQueue) TryDequeue() (event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return event{}, false
	}
	e := q.events[0]
	// Clear the slot so the backing array does not pin counters maps.
	q.events[0] = event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait returns the wake-up channel for select-based waiting.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Closed reports whether Close has been called.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of queued events.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close rejects further events and wakes the loop.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Drain removes and returns everything still queued.
func (q *eventQueue) Drain() []event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.events
	q.events = nil
	return out
}
