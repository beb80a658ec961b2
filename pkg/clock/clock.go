package clock

import "time"

// Clock abstracts the time source so dispatch deadlines are testable.
// Deadlines are always computed as absolute instants from Now(); restarts
// never extend a budget.
type Clock interface {
	Now() time.Time
}

// Real is the wall-clock implementation used in production.
type Real struct{}

// Now returns the current UTC time.
func (Real) Now() time.Time {
	return time.Now().UTC()
}
