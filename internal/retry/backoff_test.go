package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelayTable(t *testing.T) {
	b := DefaultBackoff()

	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, 30 * time.Minute},
		{1, time.Hour},
		{2, 4 * time.Hour},
		{3, 12 * time.Hour},
		{4, 12 * time.Hour},
		{10, 12 * time.Hour},
		{100, 12 * time.Hour},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, b.Delay(tc.retryCount), "retry_count=%d", tc.retryCount)
	}
}

func TestBackoffFlatCeiling(t *testing.T) {
	b := DefaultBackoff()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// From the third retry on, the delay is exactly 43200s.
	for count := 3; count < 20; count++ {
		next := b.NextRetryAt(count, now)
		assert.Equal(t, 43200*time.Second, next.Sub(now))
	}
}

func TestBackoffNegativeCountClamped(t *testing.T) {
	b := DefaultBackoff()
	assert.Equal(t, 30*time.Minute, b.Delay(-1))
}

func TestBackoffCustomTable(t *testing.T) {
	b := NewBackoff([]time.Duration{time.Minute}, time.Hour)
	assert.Equal(t, time.Minute, b.Delay(0))
	assert.Equal(t, time.Hour, b.Delay(1))
	assert.Equal(t, time.Hour, b.Delay(50))
}
