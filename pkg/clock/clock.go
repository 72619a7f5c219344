package clock

import "time"

// Clock abstracts the time source so signing nonces and tick windowing
// can be pinned in tests.
type Clock interface {
	Now() time.Time
}

// Real returns wall-clock time.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

// Fixed always returns the same instant.
type Fixed struct {
	T time.Time
}

func (f Fixed) Now() time.Time { return f.T }

// PreviousMinute returns the epoch timestamp of the start of the minute
// before the current one.
func PreviousMinute(c Clock) int64 {
	return c.Now().Add(-time.Minute).Truncate(time.Minute).Unix()
}
