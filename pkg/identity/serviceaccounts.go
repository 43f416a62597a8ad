package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/appvend/appvend/pkg/database"
)

// ServiceAccountByID loads a service account; nil when missing.
func (s *Store) ServiceAccountByID(ctx context.Context, id int64) (*ServiceAccount, error) {
	if id <= 0 {
		return nil, nil
	}
	row, err := s.db.GetRow(ctx, "SELECT * FROM service_accounts WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to load service account %d: %w", id, err)
	}
	if row == nil {
		return nil, nil
	}
	account := &ServiceAccount{
		ID:         database.Int64(row, "id"),
		OwnerID:    database.Int64(row, "owner_id"),
		Identifier: database.String(row, "identifier"),
		KeyHash:    database.String(row, "api_key_hash"),
		State:      Status(database.String(row, "status")),
		CreatedAt:  database.Time(row, "created_at"),
	}
	if lastUsed := database.Time(row, "last_used_at"); !lastUsed.IsZero() {
		account.LastUsedAt = &lastUsed
	}
	account.markExists(true)
	return account, nil
}

// CreateServiceAccount persists a new service account with its key hash.
func (s *Store) CreateServiceAccount(ctx context.Context, account *ServiceAccount) error {
	now := time.Now().UTC()
	if account.State == "" {
		account.State = StatusActive
	}
	id, err := s.db.Insert(ctx, "service_accounts", map[string]any{
		"owner_id":     account.OwnerID,
		"identifier":   account.Identifier,
		"api_key_hash": account.KeyHash,
		"status":       string(account.State),
		"created_at":   now,
	})
	if err != nil {
		return fmt.Errorf("failed to create service account: %w", err)
	}
	account.ID = id
	account.CreatedAt = now
	account.markExists(true)
	return nil
}

// RotateServiceAccountKey replaces the stored key hash inside a
// transaction so a concurrent verification never observes a half-rotated
// account.
func (s *Store) RotateServiceAccountKey(ctx context.Context, id int64, newHash string) error {
	return database.WithTx(ctx, s.db, func(tx database.Tx) error {
		affected, err := tx.Update(ctx, "service_accounts",
			map[string]any{"api_key_hash": newHash},
			map[string]any{"id": id})
		if err != nil {
			return fmt.Errorf("failed to rotate key: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("service account %d not found", id)
		}
		return nil
	})
}

// TouchServiceAccount records a successful key verification.
func (s *Store) TouchServiceAccount(ctx context.Context, id int64) error {
	_, err := s.db.Update(ctx, "service_accounts",
		map[string]any{"last_used_at": time.Now().UTC()},
		map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("failed to update last_used_at: %w", err)
	}
	return nil
}
