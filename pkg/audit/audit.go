package audit

import (
	"context"
	"time"
)

// EventType categorizes audit events.
type EventType string

const (
	EventAuthResolved    EventType = "auth.principal_resolved"
	EventAuthDenied      EventType = "auth.denied"
	EventAuthKeyVerified EventType = "auth.api_key_verified"
	EventAuthKeyRejected EventType = "auth.api_key_rejected"
	EventOwnerSwitch     EventType = "auth.owner_switch"

	EventRoleAssigned EventType = "rbac.role_assigned"
	EventRoleRemoved  EventType = "rbac.role_removed"

	EventLicenseIssued     EventType = "license.issued"
	EventLicenseActivated  EventType = "license.domain_activated"
	EventLicenseTransition EventType = "license.status_change"
	EventTokenIssued       EventType = "license.token_issued"

	EventDownload       EventType = "files.download"
	EventDownloadDenied EventType = "files.download_denied"
)

// Status is the recorded outcome of an event.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusDenied  Status = "denied"
)

// Event is one audit log entry.
type Event struct {
	ID        int64          `json:"id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Type      EventType      `json:"event_type"`
	Status    Status         `json:"status"`
	ActorID   int64          `json:"actor_id,omitempty"`
	ActorType string         `json:"actor_type,omitempty"`
	OwnerID   int64          `json:"owner_id,omitempty"`
	Resource  string         `json:"resource,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Message   string         `json:"message,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Logger is an audit sink. Logging failures are reported to the caller
// but must never fail the operation being audited.
type Logger interface {
	Log(ctx context.Context, event *Event) error
	Close() error
}

// Discard is a no-op logger for wiring paths where auditing is off.
var Discard Logger = discard{}

type discard struct{}

func (discard) Log(context.Context, *Event) error { return nil }
func (discard) Close() error                      { return nil }

// Multi fans an event out to several sinks, returning the first error
// after attempting all of them.
type Multi []Logger

// Log implements Logger.
func (m Multi) Log(ctx context.Context, event *Event) error {
	var first error
	for _, l := range m {
		if err := l.Log(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close implements Logger.
func (m Multi) Close() error {
	var first error
	for _, l := range m {
		if err := l.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
