package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/appvend/appvend/pkg/database"
)

// DBLogger persists audit events in the audit_events table.
type DBLogger struct {
	db  database.Adapter
	now func() time.Time
}

// NewDBLogger creates a database-backed audit logger.
func NewDBLogger(db database.Adapter) *DBLogger {
	return &DBLogger{db: db, now: time.Now}
}

// Log implements Logger.
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now().UTC()
	}
	var detail any
	if len(event.Detail) > 0 {
		encoded, err := json.Marshal(event.Detail)
		if err != nil {
			return fmt.Errorf("failed to encode audit detail: %w", err)
		}
		detail = string(encoded)
	}
	id, err := l.db.Insert(ctx, "audit_events", map[string]any{
		"timestamp":  event.Timestamp,
		"event_type": string(event.Type),
		"status":     string(event.Status),
		"actor_id":   event.ActorID,
		"actor_type": event.ActorType,
		"owner_id":   event.OwnerID,
		"resource":   event.Resource,
		"request_id": event.RequestID,
		"message":    event.Message,
		"detail":     detail,
	})
	if err != nil {
		return fmt.Errorf("failed to store audit event: %w", err)
	}
	event.ID = id
	return nil
}

// Close implements Logger.
func (l *DBLogger) Close() error { return nil }

// Recent returns the latest events, newest first.
func (l *DBLogger) Recent(ctx context.Context, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.GetResults(ctx,
		"SELECT * FROM audit_events ORDER BY timestamp DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	out := make([]*Event, 0, len(rows))
	for _, row := range rows {
		e := &Event{
			ID:        database.Int64(row, "id"),
			Timestamp: database.Time(row, "timestamp"),
			Type:      EventType(database.String(row, "event_type")),
			Status:    Status(database.String(row, "status")),
			ActorID:   database.Int64(row, "actor_id"),
			ActorType: database.String(row, "actor_type"),
			OwnerID:   database.Int64(row, "owner_id"),
			Resource:  database.String(row, "resource"),
			RequestID: database.String(row, "request_id"),
			Message:   database.String(row, "message"),
		}
		if raw := database.String(row, "detail"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &e.Detail); err != nil {
				return nil, fmt.Errorf("failed to decode audit detail: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, nil
}
