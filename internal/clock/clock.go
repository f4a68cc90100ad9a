package clock

import "time"

// Clock supplies the current time so staleness rules can be tested without
// real timers.
type Clock interface {
	Now() time.Time
}

// System is the wall-clock implementation.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Fixed is a settable clock for tests.
type Fixed struct {
	Time time.Time
}

func (f *Fixed) Now() time.Time { return f.Time }

// Advance moves the fixed clock forward.
func (f *Fixed) Advance(d time.Duration) { f.Time = f.Time.Add(d) }
