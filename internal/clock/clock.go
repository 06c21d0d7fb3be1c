// Package clock lets lock waits and timestamps be driven by a fake time source
// in tests.
package clock

import "time"

// Clock is the subset of the time package the session store depends on.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Real implements Clock on top of the time package.
type Real struct{}

// Now returns the current UTC time.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// After mirrors time.After.
func (Real) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Ensure returns c when non-nil, otherwise Real.
func Ensure(c Clock) Clock {
	if c == nil {
		return Real{}
	}
	return c
}
