package webhooks

import (
	"math"
	"time"
)

// Backoff is the retry schedule for failed deliveries.
type Backoff struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultBackoff retries up to five times, 1s doubling to a 5m cap.
func DefaultBackoff() Backoff {
	return Backoff{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     5 * time.Minute,
		Multiplier:   2.0,
	}
}

func (b Backoff) normalized() Backoff {
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = 5
	}
	if b.InitialDelay <= 0 {
		b.InitialDelay = time.Second
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = 5 * time.Minute
	}
	if b.Multiplier <= 1 {
		b.Multiplier = 2.0
	}
	return b
}

// ShouldRetry reports whether another attempt is allowed.
func (b Backoff) ShouldRetry(attempts int) bool {
	b = b.normalized()
	return attempts < b.MaxAttempts
}

// Delay returns the wait before the next attempt, exponential in the
// attempt count and capped at MaxDelay.
func (b Backoff) Delay(attempts int) time.Duration {
	b = b.normalized()
	if attempts <= 0 {
		return b.InitialDelay
	}
	d := float64(b.InitialDelay) * math.Pow(b.Multiplier, float64(attempts-1))
	if d > float64(b.MaxDelay) {
		return b.MaxDelay
	}
	return time.Duration(d)
}
