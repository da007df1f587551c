package engine

import "time"

// Clock supplies wall-clock time for enrolment start times and reports.
// Implemented by SystemClock and testutil.FixedClock.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the system time.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time {
	return time.Now()
}
