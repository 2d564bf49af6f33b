// Package clock lets "now" be pinned for demos and UI tests.
package clock

import "time"

type Clock interface {
	Now() time.Time
}

// System is the wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Fixed always reports the same instant.
type Fixed time.Time

func (f Fixed) Now() time.Time { return time.Time(f) }

// FromOverride returns a Fixed clock when override is set and the wall
// clock otherwise.
func FromOverride(override *time.Time) Clock {
	if override == nil {
		return System{}
	}
	return Fixed(*override)
}
