// Package clock abstracts the timers used by call watchdogs and retry
// delays so tests can drive them deterministically.
package clock

import "time"

// Clock is the subset of the time package the call client depends on.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	// AfterFunc calls f once d has elapsed unless the returned Timer is
	// stopped first.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer cancels a pending AfterFunc call.
type Timer interface {
	// Stop reports whether the call was prevented.
	Stop() bool
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
