package delivery

import "time"

// Policy decides retry pacing as a pure function of the attempt
// number, independent of any transport. Attempt 1 is the first try;
// Next reports the wait before attempt n+1 and whether to continue.
type Policy struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultPolicy matches the pipeline defaults: 1s doubling to 1m,
// four attempts total.
func DefaultPolicy() Policy {
	return Policy{Initial: time.Second, Max: time.Minute, MaxAttempts: 4}
}

// Next returns the delay before the retry following attempt n
// (1-indexed) and false once the attempt budget is spent.
func (p Policy) Next(attempt int) (time.Duration, bool) {
	if attempt >= p.MaxAttempts {
		return 0, false
	}
	d := p.Initial << (attempt - 1) // 1x, 2x, 4x, ...
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	if d <= 0 {
		d = p.Initial
	}
	return d, true
}
