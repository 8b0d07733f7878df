// Package clock abstracts time for components that stamp rows.
//
// Parsed values never depend on the clock; only audit fields
// (captured_at, started_at, created_at) are stamped with it.
package clock

import "time"

// Clock supplies the current instant in UTC.
type Clock interface {
	Now() time.Time
}

// System reads the real time.
type System struct{}

// NewSystem creates a real-time clock.
func NewSystem() *System {
	return &System{}
}

// Now returns the current time in UTC.
func (System) Now() time.Time {
	return time.Now().UTC()
}

// Fixed always returns the same instant. Test helper.
type Fixed struct {
	T time.Time
}

// NewFixed creates a clock pinned to t (normalized to UTC).
func NewFixed(t time.Time) *Fixed {
	return &Fixed{T: t.UTC()}
}

// Now returns the pinned instant.
func (f Fixed) Now() time.Time {
	return f.T
}
