// Package clock exposes a minimal, injectable time source so the
// scheduler's time-based decisions (§4.7's retention sweep anchor and due
// polls) can be driven by a fake clock in tests instead of sleeping on the
// wall clock. The Dispatcher's 2-minute batching window takes its own
// now func instead.
package clock

import "time"

// Clock returns the current time. The real implementation is just
// time.Now; tests substitute a fixed or steppable fake.
type Clock interface {
	Now() time.Time
}

// Real is the production Clock backed by time.Now, returned in Location
// (UTC when Location is nil, as in the worker's own wiring).
type Real struct {
	Location *time.Location
}

// Now returns the current wall-clock time in c.Location, or UTC if unset.
func (c Real) Now() time.Time {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	return time.Now().In(loc)
}
