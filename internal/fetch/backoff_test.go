package fetch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffPolicy_DelayWithinJitterWindow(t *testing.T) {
	t.Parallel()

	p := NewBackoffPolicy()
	for attempt := 0; attempt < 4; attempt++ {
		lo := time.Duration(float64(p.BaseDelay) * float64(int(1)<<attempt) * p.JitterMin)
		hi := p.Bound(attempt)
		for i := 0; i < 20; i++ {
			d := p.Delay(attempt)
			require.GreaterOrEqual(t, d, lo, "attempt %d", attempt)
			require.LessOrEqual(t, d, hi, "attempt %d", attempt)
		}
	}
}

func TestBackoffPolicy_DelayGrows(t *testing.T) {
	t.Parallel()

	p := NewBackoffPolicy()
	// The minimum possible delay of attempt n exceeds the maximum of
	// attempt n-2, so the schedule grows even under adverse jitter.
	minAttempt2 := time.Duration(float64(p.BaseDelay) * 4 * p.JitterMin)
	maxAttempt0 := p.Bound(0)
	require.Greater(t, minAttempt2, maxAttempt0)
}

func TestBackoffPolicy_DelayCapped(t *testing.T) {
	t.Parallel()

	p := NewBackoffPolicy()
	p.MaxDelay = 5 * time.Second
	for i := 0; i < 10; i++ {
		require.LessOrEqual(t, p.Delay(20), p.MaxDelay)
	}
}

func TestBackoffPolicy_NegativeAttemptTreatedAsZero(t *testing.T) {
	t.Parallel()

	p := NewBackoffPolicy()
	require.LessOrEqual(t, p.Delay(-5), p.Bound(0))
}

func TestRandomDuration_Bounds(t *testing.T) {
	t.Parallel()

	lo, hi := 100*time.Millisecond, 500*time.Millisecond
	for i := 0; i < 50; i++ {
		d := RandomDuration(lo, hi)
		require.GreaterOrEqual(t, d, lo)
		require.LessOrEqual(t, d, hi)
	}
}

func TestRandomDuration_DegenerateRange(t *testing.T) {
	t.Parallel()

	require.Equal(t, time.Second, RandomDuration(time.Second, time.Second))
	require.Equal(t, time.Second, RandomDuration(time.Second, time.Millisecond))
}
