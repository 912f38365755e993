package fetch

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// BackoffPolicy computes jittered exponential delays between retry
// attempts: base * 2^attempt, scaled by a random multiplier within
// [JitterMin, JitterMax] and capped at MaxDelay.
type BackoffPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	JitterMin  float64
	JitterMax  float64
}

// NewBackoffPolicy builds a policy with the original retry defaults.
func NewBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   2 * time.Minute,
		JitterMin:  1.5,
		JitterMax:  3.0,
	}
}

// Delay returns the wait duration before retrying after the given
// zero-based attempt.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	delay := time.Duration(base * p.jitterMultiplier())
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// Bound returns the maximum possible delay for the given attempt,
// ignoring the MaxDelay cap.
func (p BackoffPolicy) Bound(attempt int) time.Duration {
	return time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt)) * p.JitterMax)
}

func (p BackoffPolicy) jitterMultiplier() float64 {
	lo, hi := p.JitterMin, p.JitterMax
	if hi <= lo {
		return lo
	}
	return lo + (hi-lo)*randomUnit()
}

// RandomDuration returns a uniformly random duration in [lo, hi]. It is
// used for polite delays, cooldowns, and session rotation sleeps.
func RandomDuration(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	span := big.NewInt(int64(hi - lo))
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return lo + (hi-lo)/2
	}
	return lo + time.Duration(n.Int64())
}

func randomUnit() float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<53))
	if err != nil {
		return 0.5
	}
	return float64(n.Int64()) / float64(1<<53)
}
