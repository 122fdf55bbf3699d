// Package clock abstracts wall-clock time and one-shot timers so that
// timeout-driven state (in-flight markers, toast expiry) can be tested
// deterministically.
package clock

import "time"

// Clock is the subset of the time package the sync layer depends on.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

type realClock struct{}

// Real returns a Clock backed by the time package.
func Real() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
