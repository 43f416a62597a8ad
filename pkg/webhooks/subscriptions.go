package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/appvend/appvend/pkg/apperr"
	"github.com/appvend/appvend/pkg/database"
)

// Subscription is a registered callback endpoint. The secret signs every
// delivery and is write-only: it never appears in API responses.
type Subscription struct {
	ID          int64       `json:"id"`
	OwnerID     int64       `json:"owner_id"`
	URL         string      `json:"url"`
	Events      []EventType `json:"events"`
	Secret      string      `json:"-"`
	Description string      `json:"description,omitempty"`
	Active      bool        `json:"active"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Wants reports whether the subscription selected this event type.
func (s *Subscription) Wants(t EventType) bool {
	for _, e := range s.Events {
		if e == t {
			return true
		}
	}
	return false
}

// SubscriptionStore persists webhook subscriptions.
type SubscriptionStore struct {
	db database.Adapter
}

// NewSubscriptionStore creates a subscription store.
func NewSubscriptionStore(db database.Adapter) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

// Create validates and persists a new subscription. New subscriptions
// start active.
func (s *SubscriptionStore) Create(ctx context.Context, sub *Subscription) error {
	if err := validateSubscription(sub); err != nil {
		return err
	}
	events, err := json.Marshal(sub.Events)
	if err != nil {
		return fmt.Errorf("failed to encode event list: %w", err)
	}
	now := time.Now().UTC()
	sub.Active = true
	sub.CreatedAt = now
	sub.UpdatedAt = now
	id, err := s.db.Insert(ctx, "webhook_subscriptions", map[string]any{
		"owner_id":    sub.OwnerID,
		"url":         sub.URL,
		"events":      string(events),
		"secret":      sub.Secret,
		"description": sub.Description,
		"active":      true,
		"created_at":  now,
		"updated_at":  now,
	})
	if err != nil {
		return fmt.Errorf("failed to create webhook subscription: %w", err)
	}
	sub.ID = id
	return nil
}

func validateSubscription(sub *Subscription) error {
	if sub.OwnerID <= 0 {
		return apperr.Unprocessable(apperr.CodeMissingFields, "owner is required")
	}
	parsed, err := url.Parse(sub.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return apperr.Unprocessable(apperr.CodeMissingFields,
			"a valid http(s) callback URL is required")
	}
	if len(sub.Events) == 0 {
		return apperr.Unprocessable(apperr.CodeMissingFields,
			"at least one event type is required")
	}
	for _, e := range sub.Events {
		if !KnownEvent(e) {
			return apperr.Unprocessable(apperr.CodeMissingFields,
				"unknown event type").WithData("event", string(e))
		}
	}
	return nil
}

// ByID loads one subscription. A missing id is a NotFound error.
func (s *SubscriptionStore) ByID(ctx context.Context, id int64) (*Subscription, error) {
	row, err := s.db.GetRow(ctx, "SELECT * FROM webhook_subscriptions WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to load webhook subscription %d: %w", id, err)
	}
	if row == nil {
		return nil, apperr.NotFound(apperr.CodeSubscriptionNotFound, "subscription not found")
	}
	return subscriptionFromRow(row)
}

// ForOwner lists an owner's subscriptions, newest first.
func (s *SubscriptionStore) ForOwner(ctx context.Context, ownerID int64) ([]*Subscription, error) {
	rows, err := s.db.GetResults(ctx,
		"SELECT * FROM webhook_subscriptions WHERE owner_id = ? ORDER BY id DESC", ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook subscriptions: %w", err)
	}
	subs := make([]*Subscription, 0, len(rows))
	for _, row := range rows {
		sub, err := subscriptionFromRow(row)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// Matching returns the active subscriptions of one owner that selected
// the event type. This is the dispatch fan-out query.
func (s *SubscriptionStore) Matching(ctx context.Context, ownerID int64, t EventType) ([]*Subscription, error) {
	subs, err := s.ForOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	matched := subs[:0]
	for _, sub := range subs {
		if sub.Active && sub.Wants(t) {
			matched = append(matched, sub)
		}
	}
	return matched, nil
}

// Update patches URL, event list and description. Empty fields keep
// their stored value.
func (s *SubscriptionStore) Update(ctx context.Context, sub *Subscription) error {
	stored, err := s.ByID(ctx, sub.ID)
	if err != nil {
		return err
	}
	if sub.URL != "" {
		stored.URL = sub.URL
	}
	if len(sub.Events) > 0 {
		stored.Events = sub.Events
	}
	if sub.Description != "" {
		stored.Description = sub.Description
	}
	if sub.Secret != "" {
		stored.Secret = sub.Secret
	}
	if err := validateSubscription(stored); err != nil {
		return err
	}
	events, err := json.Marshal(stored.Events)
	if err != nil {
		return fmt.Errorf("failed to encode event list: %w", err)
	}
	stored.UpdatedAt = time.Now().UTC()
	_, err = s.db.Update(ctx, "webhook_subscriptions",
		map[string]any{
			"url":         stored.URL,
			"events":      string(events),
			"secret":      stored.Secret,
			"description": stored.Description,
			"updated_at":  stored.UpdatedAt,
		},
		map[string]any{"id": stored.ID})
	if err != nil {
		return fmt.Errorf("failed to update webhook subscription %d: %w", stored.ID, err)
	}
	*sub = *stored
	return nil
}

// SetActive toggles delivery for a subscription without losing its
// configuration.
func (s *SubscriptionStore) SetActive(ctx context.Context, id int64, active bool) error {
	affected, err := s.db.Update(ctx, "webhook_subscriptions",
		map[string]any{"active": active, "updated_at": time.Now().UTC()},
		map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("failed to toggle webhook subscription %d: %w", id, err)
	}
	if affected == 0 {
		return apperr.NotFound(apperr.CodeSubscriptionNotFound, "subscription not found")
	}
	return nil
}

// Delete removes a subscription permanently.
func (s *SubscriptionStore) Delete(ctx context.Context, id int64) error {
	affected, err := s.db.Delete(ctx, "webhook_subscriptions", map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("failed to delete webhook subscription %d: %w", id, err)
	}
	if affected == 0 {
		return apperr.NotFound(apperr.CodeSubscriptionNotFound, "subscription not found")
	}
	return nil
}

func subscriptionFromRow(row map[string]any) (*Subscription, error) {
	sub := &Subscription{
		ID:          database.Int64(row, "id"),
		OwnerID:     database.Int64(row, "owner_id"),
		URL:         database.String(row, "url"),
		Secret:      database.String(row, "secret"),
		Description: database.String(row, "description"),
		Active:      database.Bool(row, "active"),
		CreatedAt:   database.Time(row, "created_at"),
		UpdatedAt:   database.Time(row, "updated_at"),
	}
	raw := database.String(row, "events")
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &sub.Events); err != nil {
			return nil, fmt.Errorf("failed to decode event list for subscription %d: %w", sub.ID, err)
		}
	}
	return sub, nil
}
