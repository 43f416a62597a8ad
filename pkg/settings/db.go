package settings

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/appvend/appvend/pkg/database"
)

// InstallationIDKey is the settings key (prefixed) holding this
// installation's UUID. It seeds the identity-federation issuer string.
const InstallationIDKey = "installation_id"

// DBStore persists settings in the relational store.
type DBStore struct {
	db     database.Adapter
	prefix string
}

// NewDBStore creates a database-backed settings store with the default
// prefix.
func NewDBStore(db database.Adapter) *DBStore {
	return &DBStore{db: db, prefix: DefaultPrefix}
}

// Get implements Store.Get.
func (s *DBStore) Get(ctx context.Context, key string, prefixed bool) (string, bool, error) {
	name := applyPrefix(s.prefix, key, prefixed)
	row, err := s.db.GetRow(ctx, "SELECT value FROM settings WHERE name = ?", name)
	if err != nil {
		return "", false, fmt.Errorf("failed to read setting %s: %w", name, err)
	}
	if row == nil {
		return "", false, nil
	}
	return database.String(row, "value"), true, nil
}

// Set implements Store.Set with update-then-insert semantics.
func (s *DBStore) Set(ctx context.Context, key, value string, prefixed bool) error {
	name := applyPrefix(s.prefix, key, prefixed)
	affected, err := s.db.Update(ctx, "settings",
		map[string]any{"value": value},
		map[string]any{"name": name})
	if err != nil {
		return fmt.Errorf("failed to update setting %s: %w", name, err)
	}
	if affected > 0 {
		return nil
	}
	if _, err := s.db.Insert(ctx, "settings", map[string]any{"name": name, "value": value}); err != nil {
		return fmt.Errorf("failed to insert setting %s: %w", name, err)
	}
	return nil
}

// Delete implements Store.Delete.
func (s *DBStore) Delete(ctx context.Context, key string, prefixed bool) error {
	name := applyPrefix(s.prefix, key, prefixed)
	if _, err := s.db.Delete(ctx, "settings", map[string]any{"name": name}); err != nil {
		return fmt.Errorf("failed to delete setting %s: %w", name, err)
	}
	return nil
}

// Has implements Store.Has.
func (s *DBStore) Has(ctx context.Context, key string, prefixed bool) (bool, error) {
	_, ok, err := s.Get(ctx, key, prefixed)
	return ok, err
}

// InstallationID returns the persisted installation UUID, generating and
// storing one on first call. The existence re-check before the write keeps
// the side effect idempotent.
func InstallationID(ctx context.Context, store Store) (string, error) {
	id, ok, err := store.Get(ctx, InstallationIDKey, true)
	if err != nil {
		return "", err
	}
	if ok && id != "" {
		return id, nil
	}
	id = uuid.NewString()
	if err := store.Set(ctx, InstallationIDKey, id, true); err != nil {
		return "", err
	}
	return id, nil
}
