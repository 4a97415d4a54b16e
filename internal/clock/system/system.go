// Package system provides clocks for stamping runs.
package system

import "time"

// Clock returns the current UTC time.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Fixed always reports the same instant. Useful for reproducible summaries.
type Fixed struct {
	At time.Time
}

// Now returns the fixed instant in UTC.
func (f Fixed) Now() time.Time {
	return f.At.UTC()
}
