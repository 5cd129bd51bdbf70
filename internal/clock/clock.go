// Package clock abstracts wall-clock time so timer-driven code (the
// debounce window, reconnect backoff) can be tested without sleeping.
//
// Production code uses Real(). Tests use testutil.FakeClock, which only
// moves when the test calls Advance.
package clock

import "time"

// Clock is the subset of the time package that docket components use.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After waits for d to elapse and then sends the current time on the
	// returned channel.
	After(d time.Duration) <-chan time.Time

	// AfterFunc calls f in its own goroutine (real clock) or on the
	// advancing goroutine (fake clock) after d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable scheduled call returned by AfterFunc.
type Timer interface {
	// Stop prevents the call from firing. It returns false if the call
	// already fired or was already stopped.
	Stop() bool
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
