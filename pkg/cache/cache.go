// Package cache provides the pluggable key/value cache used to memoize
// expensive lookups (search results, computed metadata). Cached values are
// advisory: anything stored here must be recomputable from source-of-truth
// storage. Authorization decisions are never served from this layer.
package cache

import (
	"context"
	"time"
)

// NoExpiry stores a value without a TTL.
const NoExpiry = 0

// Cache is the key/value store interface. TTLs are expressed in seconds;
// a ttl of 0 means the value does not expire.
type Cache interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key with the given TTL in seconds.
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Has reports whether key is present and unexpired.
	Has(ctx context.Context, key string) (bool, error)

	// Clear removes every entry.
	Clear(ctx context.Context) error
}

func ttlDuration(ttlSeconds int) time.Duration {
	if ttlSeconds <= 0 {
		return 0
	}
	return time.Duration(ttlSeconds) * time.Second
}
