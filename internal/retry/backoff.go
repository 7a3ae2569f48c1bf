package retry

import "time"

// Backoff is the table-driven retry policy: one delay per attempt up to
// len(steps), then a flat ceiling for every attempt after that. Bounded by
// construction; never grows past the ceiling.
type Backoff struct {
	steps   []time.Duration
	ceiling time.Duration
}

func NewBackoff(steps []time.Duration, ceiling time.Duration) *Backoff {
	cp := make([]time.Duration, len(steps))
	copy(cp, steps)
	return &Backoff{steps: cp, ceiling: ceiling}
}

// DefaultBackoff returns the stock table: 30m, 1h, 4h, then flat 12h.
func DefaultBackoff() *Backoff {
	return NewBackoff([]time.Duration{
		30 * time.Minute,
		time.Hour,
		4 * time.Hour,
	}, 12*time.Hour)
}

func (b *Backoff) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount < len(b.steps) {
		return b.steps[retryCount]
	}
	return b.ceiling
}

func (b *Backoff) NextRetryAt(retryCount int, now time.Time) time.Time {
	return now.Add(b.Delay(retryCount))
}
