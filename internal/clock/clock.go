package clock

import "time"

// Clock is the time source used by lifecycle decisions.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// Fixed is a settable clock for tests and one-off replays.
type Fixed struct {
	T time.Time
}

func (f *Fixed) Now() time.Time {
	return f.T
}

// Advance moves the clock forward by d.
func (f *Fixed) Advance(d time.Duration) {
	f.T = f.T.Add(d)
}
