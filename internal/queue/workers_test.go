package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffBounds(t *testing.T) {
	p := NewPool(nil, nil, PoolConfig{
		BaseDelay: time.Second,
		MaxDelay:  30 * time.Second,
	}, nil)

	// min(1s * 2^k, 30s) with +-20% jitter.
	cases := []struct {
		attempt int
		nominal time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},  // capped
		{10, 30 * time.Second}, // still capped
	}

	for _, tc := range cases {
		for i := 0; i < 50; i++ {
			d := p.Backoff(tc.attempt)
			lo := time.Duration(float64(tc.nominal) * 0.8)
			hi := time.Duration(float64(tc.nominal) * 1.2)
			assert.GreaterOrEqual(t, d, lo, "attempt %d", tc.attempt)
			assert.LessOrEqual(t, d, hi, "attempt %d", tc.attempt)
		}
	}
}

func TestBackoffOverflowSafe(t *testing.T) {
	p := NewPool(nil, nil, PoolConfig{
		BaseDelay: time.Second,
		MaxDelay:  30 * time.Second,
	}, nil)
	// Shifts large enough to overflow must still land on the cap.
	d := p.Backoff(70)
	assert.LessOrEqual(t, d, 36*time.Second)
	assert.Greater(t, d, time.Duration(0))
}

func TestTerminalErrorWrapping(t *testing.T) {
	err := Terminal(assert.AnError)
	assert.ErrorIs(t, err, assert.AnError)

	var terminal *TerminalError
	assert.ErrorAs(t, err, &terminal)
}

func TestPoolConfigDefaults(t *testing.T) {
	p := NewPool(nil, nil, PoolConfig{}, nil)
	assert.Equal(t, 10, p.cfg.Concurrency)
	assert.Equal(t, 100, p.cfg.RatePerMinute)
	assert.Equal(t, 3, p.cfg.MaxAttempts)

	// 100 jobs/minute refills at 1 token per 600ms.
	assert.InDelta(t, 100.0/60.0, float64(p.limiter.Limit()), 1e-9)
}

func TestJobCodecRoundTrip(t *testing.T) {
	job := &Job{ID: "id-1", OrderID: "id-1", Attempt: 2, EnqueuedAt: time.Now().UTC()}
	raw, err := encodeJob(job)
	assert.NoError(t, err)

	decoded, err := decodeJob(raw)
	assert.NoError(t, err)
	assert.Equal(t, job.ID, decoded.ID)
	assert.Equal(t, job.Attempt, decoded.Attempt)
	assert.Equal(t, raw, decoded.raw)
}
