package room

import "time"

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the call
	// stopped the timer (false if it already ran or was stopped).
	Stop() bool
}

// Scheduler runs callbacks after a delay. Debounce, echo guard, join delay,
// settle delay, resize debounce and redirect delay all go through it.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

type wallClock struct{}

func (wallClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// WallClock schedules callbacks on real timers.
var WallClock Scheduler = wallClock{}

// stopTimer stops t if set and returns nil for reassignment.
func stopTimer(t Timer) Timer {
	if t != nil {
		t.Stop()
	}
	return nil
}
