package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/appvend/appvend/pkg/async"
	"github.com/appvend/appvend/pkg/observability"
)

// Delivery request headers.
const (
	HeaderEvent     = "X-Appvend-Event"
	HeaderEventID   = "X-Appvend-Event-Id"
	HeaderDelivery  = "X-Appvend-Delivery"
	HeaderSignature = "X-Appvend-Signature"
)

// Dispatcher fans events out to matching subscriptions. Deliveries run
// on a bounded worker pool; a delivery never blocks the request that
// produced the event.
type Dispatcher struct {
	subs    *SubscriptionStore
	client  *http.Client
	pool    *async.Pool
	log     *DeliveryLog
	backoff Backoff
	limiter *rateLimiter
	logger  *observability.Logger

	stopOnce sync.Once
	stop     chan struct{}
}

// NewDispatcher builds a dispatcher. A nil client gets a 10 second
// timeout; ctx bounds the lifetime of the delivery workers.
func NewDispatcher(ctx context.Context, subs *SubscriptionStore, client *http.Client) *Dispatcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Dispatcher{
		subs:    subs,
		client:  client,
		pool:    async.NewPool(ctx, 8, "webhook delivery", 15*time.Second),
		log:     NewDeliveryLog(1000),
		backoff: DefaultBackoff(),
		limiter: newRateLimiter(100, time.Minute),
		logger:  observability.FromContext(ctx),
		stop:    make(chan struct{}),
	}
}

// Dispatch queues the event for every active subscription of its owner
// that selected the event type. Errors loading subscriptions are
// returned; individual delivery failures are retried in the background.
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	subs, err := d.subs.Matching(ctx, event.OwnerID, event.Type)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		delivery := &Delivery{
			ID:             uuid.NewString(),
			SubscriptionID: sub.ID,
			EventID:        event.ID,
			EventType:      event.Type,
			URL:            sub.URL,
			Status:         DeliveryPending,
			CreatedAt:      time.Now().UTC(),
			payload:        payload,
			secret:         sub.Secret,
		}
		d.log.Add(delivery)
		d.enqueue(delivery)
	}
	return nil
}

func (d *Dispatcher) enqueue(delivery *Delivery) {
	if err := d.pool.Submit(func(ctx context.Context) error {
		d.attempt(ctx, delivery)
		return nil
	}); err != nil {
		delivery.Status = DeliveryFailed
		delivery.Error = err.Error()
		d.log.Update(delivery)
	}
}

// attempt performs one POST and settles the delivery's next state.
func (d *Dispatcher) attempt(ctx context.Context, delivery *Delivery) {
	delivery.Attempts++
	start := time.Now()
	statusCode, err := d.send(ctx, delivery)
	delivery.Duration = time.Since(start)
	delivery.StatusCode = statusCode

	if err == nil {
		delivery.Status = DeliverySuccess
		delivery.Error = ""
		now := time.Now().UTC()
		delivery.CompletedAt = &now
		d.log.Update(delivery)
		return
	}

	delivery.Error = err.Error()
	if d.backoff.ShouldRetry(delivery.Attempts) {
		delivery.Status = DeliveryRetrying
		next := time.Now().UTC().Add(d.backoff.Delay(delivery.Attempts))
		delivery.NextRetryAt = &next
	} else {
		delivery.Status = DeliveryFailed
		now := time.Now().UTC()
		delivery.CompletedAt = &now
		d.logger.WithError(err).
			WithField("subscription_id", delivery.SubscriptionID).
			Warn("webhook delivery exhausted retries")
	}
	d.log.Update(delivery)
}

func (d *Dispatcher) send(ctx context.Context, delivery *Delivery) (int, error) {
	if !d.limiter.allow(delivery.SubscriptionID) {
		return 0, fmt.Errorf("delivery rate limit exceeded for subscription %d", delivery.SubscriptionID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, delivery.URL, bytes.NewReader(delivery.payload))
	if err != nil {
		return 0, fmt.Errorf("failed to build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(delivery.EventType))
	req.Header.Set(HeaderEventID, delivery.EventID)
	req.Header.Set(HeaderDelivery, delivery.ID)
	if delivery.secret != "" {
		req.Header.Set(HeaderSignature, Sign(delivery.payload, delivery.secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("delivery failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// StartRetries begins the background scan that requeues due retries.
func (d *Dispatcher) StartRetries(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-d.stop:
				return
			case <-ticker.C:
				for _, delivery := range d.log.Due(time.Now().UTC()) {
					delivery.Status = DeliveryPending
					delivery.NextRetryAt = nil
					d.log.Update(delivery)
					d.enqueue(delivery)
				}
			}
		}
	}()
}

// Deliveries exposes the recent delivery log for a subscription.
func (d *Dispatcher) Deliveries(subscriptionID int64, limit int) []*Delivery {
	return d.log.ForSubscription(subscriptionID, limit)
}

// StatsFor exposes delivery statistics for a subscription.
func (d *Dispatcher) StatsFor(subscriptionID int64) Stats {
	return d.log.StatsFor(subscriptionID)
}

// Close stops the retry scan and drains the delivery workers.
func (d *Dispatcher) Close() error {
	d.stopOnce.Do(func() { close(d.stop) })
	return d.pool.Shutdown(10 * time.Second)
}

// Sign computes the delivery signature: HMAC-SHA256 over the raw
// payload, hex encoded with a scheme prefix.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature in constant time.
// Subscribers use this to authenticate deliveries.
func VerifySignature(payload []byte, signature, secret string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}
