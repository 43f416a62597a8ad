// Package settings provides the prefixed key/value configuration store,
// persisted independently of the relational entity tables. Two backends
// exist: a database-backed store for the server and a watched JSON file for
// tooling that runs without a database.
package settings

import "context"

// DefaultPrefix namespaces keys so several installations can share one
// backing store.
const DefaultPrefix = "appvend_"

// Store is the settings surface. Each operation takes a prefixed toggle;
// when true the configured key prefix is applied before hitting the
// backend.
type Store interface {
	Get(ctx context.Context, key string, prefixed bool) (string, bool, error)
	Set(ctx context.Context, key, value string, prefixed bool) error
	Delete(ctx context.Context, key string, prefixed bool) error
	Has(ctx context.Context, key string, prefixed bool) (bool, error)
}

func applyPrefix(prefix, key string, prefixed bool) string {
	if prefixed {
		return prefix + key
	}
	return key
}
