package webhooks

import (
	"sync"
	"time"
)

// rateLimiter is a per-subscription token bucket. It protects slow or
// broken endpoints from being hammered by a burst of events.
type rateLimiter struct {
	mu      sync.Mutex
	buckets map[int64]*bucket
	max     int
	refill  time.Duration
}

type bucket struct {
	mu         sync.Mutex
	tokens     int
	max        int
	refill     time.Duration
	lastRefill time.Time
}

func newRateLimiter(maxRequests int, period time.Duration) *rateLimiter {
	return &rateLimiter{
		buckets: make(map[int64]*bucket),
		max:     maxRequests,
		refill:  period / time.Duration(maxRequests),
	}
}

func (rl *rateLimiter) allow(subscriptionID int64) bool {
	rl.mu.Lock()
	b, ok := rl.buckets[subscriptionID]
	if !ok {
		b = &bucket{tokens: rl.max, max: rl.max, refill: rl.refill, lastRefill: time.Now()}
		rl.buckets[subscriptionID] = b
	}
	rl.mu.Unlock()
	return b.take()
}

func (b *bucket) take() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if elapsed := now.Sub(b.lastRefill); elapsed >= b.refill {
		refilled := int(elapsed / b.refill)
		b.tokens += refilled
		if b.tokens > b.max {
			b.tokens = b.max
		}
		b.lastRefill = b.lastRefill.Add(time.Duration(refilled) * b.refill)
	}
	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}
