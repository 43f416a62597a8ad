package webhooks

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never satisfied")
}

func TestDispatchDeliversSignedPayload(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	var gotBody atomic.Value
	var gotSig atomic.Value
	var gotEvent atomic.Value
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody.Store(body)
		gotSig.Store(r.Header.Get(HeaderSignature))
		gotEvent.Store(r.Header.Get(HeaderEvent))
	}))
	defer receiver.Close()

	sub := &Subscription{
		OwnerID: 1,
		URL:     receiver.URL,
		Events:  []EventType{EventLicenseIssued},
		Secret:  "hook-secret",
	}
	if err := store.Create(ctx, sub); err != nil {
		t.Fatal(err)
	}

	d := NewDispatcher(ctx, store, nil)
	defer d.Close()

	event := NewEvent(EventLicenseIssued, 1, map[string]any{"license_id": 42})
	if err := d.Dispatch(ctx, event); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 2*time.Second, func() bool { return gotBody.Load() != nil })

	body := gotBody.Load().([]byte)
	sig := gotSig.Load().(string)
	if !VerifySignature(body, sig, "hook-secret") {
		t.Error("Signature does not verify against the payload")
	}
	if VerifySignature(body, sig, "wrong-secret") {
		t.Error("Signature verified with the wrong secret")
	}
	if gotEvent.Load().(string) != string(EventLicenseIssued) {
		t.Errorf("Unexpected event header %v", gotEvent.Load())
	}

	waitFor(t, 2*time.Second, func() bool {
		logs := d.Deliveries(sub.ID, 1)
		return len(logs) == 1 && logs[0].Status == DeliverySuccess
	})
}

func TestDispatchSkipsUnselectedEvents(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	var hits int64
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
	}))
	defer receiver.Close()

	sub := &Subscription{OwnerID: 1, URL: receiver.URL, Events: []EventType{EventLicenseRevoked}}
	if err := store.Create(ctx, sub); err != nil {
		t.Fatal(err)
	}

	d := NewDispatcher(ctx, store, nil)
	defer d.Close()

	if err := d.Dispatch(ctx, NewEvent(EventLicenseIssued, 1, nil)); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if atomic.LoadInt64(&hits) != 0 {
		t.Error("Unselected event must not be delivered")
	}
}

func TestFailedDeliveryIsRetried(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	var calls int64
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
	}))
	defer receiver.Close()

	sub := &Subscription{OwnerID: 1, URL: receiver.URL, Events: []EventType{EventLicenseIssued}}
	if err := store.Create(ctx, sub); err != nil {
		t.Fatal(err)
	}

	d := NewDispatcher(ctx, store, nil)
	defer d.Close()
	d.backoff = Backoff{MaxAttempts: 3, InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 2}
	d.StartRetries(20 * time.Millisecond)

	if err := d.Dispatch(ctx, NewEvent(EventLicenseIssued, 1, nil)); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 3*time.Second, func() bool {
		logs := d.Deliveries(sub.ID, 1)
		return len(logs) == 1 && logs[0].Status == DeliverySuccess
	})
	if got := atomic.LoadInt64(&calls); got != 2 {
		t.Errorf("Expected 2 attempts, got %d", got)
	}
	stats := d.StatsFor(sub.ID)
	if stats.Successful != 1 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestExhaustedRetriesFail(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer receiver.Close()

	sub := &Subscription{OwnerID: 1, URL: receiver.URL, Events: []EventType{EventLicenseIssued}}
	if err := store.Create(ctx, sub); err != nil {
		t.Fatal(err)
	}

	d := NewDispatcher(ctx, store, nil)
	defer d.Close()
	d.backoff = Backoff{MaxAttempts: 2, InitialDelay: 10 * time.Millisecond, MaxDelay: 20 * time.Millisecond, Multiplier: 2}
	d.StartRetries(20 * time.Millisecond)

	if err := d.Dispatch(ctx, NewEvent(EventLicenseIssued, 1, nil)); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 3*time.Second, func() bool {
		logs := d.Deliveries(sub.ID, 1)
		return len(logs) == 1 && logs[0].Status == DeliveryFailed
	})
	logs := d.Deliveries(sub.ID, 1)
	if logs[0].Attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", logs[0].Attempts)
	}
}

func TestBackoffSchedule(t *testing.T) {
	b := DefaultBackoff()
	if !b.ShouldRetry(1) || b.ShouldRetry(5) {
		t.Error("Retry window should span attempts 1 through 4")
	}
	if b.Delay(1) != time.Second || b.Delay(2) != 2*time.Second || b.Delay(3) != 4*time.Second {
		t.Errorf("Unexpected delays: %v %v %v", b.Delay(1), b.Delay(2), b.Delay(3))
	}
	if b.Delay(20) != 5*time.Minute {
		t.Errorf("Delay should cap at 5m, got %v", b.Delay(20))
	}
}
