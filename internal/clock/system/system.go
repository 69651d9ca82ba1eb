// Package system provides the wall clock used for run timestamps.
package system

import "time"

// Clock implements grades.Clock. Times are reported in the configured
// location so status output matches the schedule's timezone.
type Clock struct {
	loc *time.Location
}

// New creates a Clock reporting in loc; nil means UTC.
func New(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{loc: loc}
}

// Now returns the current time.
func (c *Clock) Now() time.Time {
	return time.Now().In(c.loc)
}
