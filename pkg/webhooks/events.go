package webhooks

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a notification kind a subscription can select.
type EventType string

const (
	EventLicenseIssued      EventType = "license.issued"
	EventLicenseActivated   EventType = "license.activated"
	EventLicenseDeactivated EventType = "license.deactivated"
	EventLicenseRevoked     EventType = "license.revoked"
	EventLicenseSuspended   EventType = "license.suspended"
	EventLicenseResumed     EventType = "license.resumed"
	EventLicenseExpired     EventType = "license.expired"
	EventDownloadCompleted  EventType = "download.completed"
	EventDownloadDenied     EventType = "download.denied"
)

// KnownEvent reports whether t is a registered event type.
func KnownEvent(t EventType) bool {
	switch t {
	case EventLicenseIssued, EventLicenseActivated, EventLicenseDeactivated,
		EventLicenseRevoked, EventLicenseSuspended, EventLicenseResumed,
		EventLicenseExpired, EventDownloadCompleted, EventDownloadDenied:
		return true
	}
	return false
}

// AllEvents lists every registered event type.
func AllEvents() []EventType {
	return []EventType{
		EventLicenseIssued, EventLicenseActivated, EventLicenseDeactivated,
		EventLicenseRevoked, EventLicenseSuspended, EventLicenseResumed,
		EventLicenseExpired, EventDownloadCompleted, EventDownloadDenied,
	}
}

// Event is the payload delivered to subscribers. OwnerID scopes the
// event to the tenant whose resources it concerns; only subscriptions
// of that owner receive it.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	OwnerID   int64          `json:"owner_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewEvent stamps an event with an id and the current time.
func NewEvent(t EventType, ownerID int64, data map[string]any) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      t,
		OwnerID:   ownerID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}
