package webhooks

import (
	"sort"
	"sync"
	"time"
)

// DeliveryStatus tracks one attempt chain against a subscription.
type DeliveryStatus string

const (
	DeliveryPending  DeliveryStatus = "pending"
	DeliverySuccess  DeliveryStatus = "success"
	DeliveryRetrying DeliveryStatus = "retrying"
	DeliveryFailed   DeliveryStatus = "failed"
)

// Delivery records the attempts made for one event against one
// subscription.
type Delivery struct {
	ID             string         `json:"id"`
	SubscriptionID int64          `json:"subscription_id"`
	EventID        string         `json:"event_id"`
	EventType      EventType      `json:"event_type"`
	URL            string         `json:"url"`
	Status         DeliveryStatus `json:"status"`
	StatusCode     int            `json:"status_code,omitempty"`
	Error          string         `json:"error,omitempty"`
	Attempts       int            `json:"attempts"`
	NextRetryAt    *time.Time     `json:"next_retry_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	Duration       time.Duration  `json:"duration,omitempty"`

	payload []byte
	secret  string
}

// DeliveryLog is a bounded in-memory record of recent deliveries.
// Oldest entries are evicted once the cap is reached; the log is an
// operator debugging aid, not a durable audit trail.
type DeliveryLog struct {
	mu      sync.RWMutex
	entries map[string]*Delivery
	cap     int
}

// NewDeliveryLog creates a log holding at most cap entries.
func NewDeliveryLog(cap int) *DeliveryLog {
	if cap <= 0 {
		cap = 1000
	}
	return &DeliveryLog{entries: make(map[string]*Delivery), cap: cap}
}

// Add records a delivery, evicting the oldest tenth when full.
func (l *DeliveryLog) Add(d *Delivery) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) >= l.cap {
		l.evictLocked()
	}
	l.entries[d.ID] = d
}

// Update replaces the stored state of a delivery.
func (l *DeliveryLog) Update(d *Delivery) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[d.ID] = d
}

// ForSubscription returns a subscription's deliveries, newest first.
func (l *DeliveryLog) ForSubscription(subscriptionID int64, limit int) []*Delivery {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*Delivery
	for _, d := range l.entries {
		if d.SubscriptionID == subscriptionID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Due returns deliveries whose retry time has passed.
func (l *DeliveryLog) Due(now time.Time) []*Delivery {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*Delivery
	for _, d := range l.entries {
		if d.Status == DeliveryRetrying && d.NextRetryAt != nil && d.NextRetryAt.Before(now) {
			out = append(out, d)
		}
	}
	return out
}

// Stats summarizes outcomes for one subscription.
type Stats struct {
	SubscriptionID int64   `json:"subscription_id"`
	Total          int     `json:"total"`
	Successful     int     `json:"successful"`
	Failed         int     `json:"failed"`
	Retrying       int     `json:"retrying"`
	SuccessRate    float64 `json:"success_rate"`
}

// StatsFor aggregates the logged deliveries of one subscription.
func (l *DeliveryLog) StatsFor(subscriptionID int64) Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	stats := Stats{SubscriptionID: subscriptionID}
	for _, d := range l.entries {
		if d.SubscriptionID != subscriptionID {
			continue
		}
		stats.Total++
		switch d.Status {
		case DeliverySuccess:
			stats.Successful++
		case DeliveryFailed:
			stats.Failed++
		case DeliveryRetrying:
			stats.Retrying++
		}
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Successful) / float64(stats.Total)
	}
	return stats
}

func (l *DeliveryLog) evictLocked() {
	all := make([]*Delivery, 0, len(l.entries))
	for _, d := range l.entries {
		all = append(all, d)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	evict := len(all) / 10
	if evict == 0 {
		evict = 1
	}
	for i := 0; i < evict; i++ {
		delete(l.entries, all[i].ID)
	}
}
