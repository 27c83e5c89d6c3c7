// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock implements crawler.Clock with UTC wall time, so outcome timestamps
// written to the checkpoint store carry no local zone.
type Clock struct{}

// New creates a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Since returns the time elapsed since t.
func (c Clock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}
