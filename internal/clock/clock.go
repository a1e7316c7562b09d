package clock

import "time"

// Clock abstracts wall time so ledger, expiry and voucher rules can be
// evaluated against a controlled instant in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the process clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
