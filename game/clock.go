// game/clock.go - Injectable time source; all session timers run through it
package game

import "time"

// Timer is a cancellable single-shot timer handle.
type Timer interface {
	Stop() bool
}

// Clock abstracts wall time and timer scheduling so the state machine can be
// driven deterministically in tests.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	AfterFunc(d time.Duration, fn func()) Timer
}

type systemClock struct{}

// SystemClock returns the process-wide real clock.
func SystemClock() Clock { return systemClock{} }

func (systemClock) Now() time.Time                  { return time.Now() }
func (systemClock) Since(t time.Time) time.Duration { return time.Since(t) }

func (systemClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}
