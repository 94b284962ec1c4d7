// Package store provides the key-value persistence used by the directory
// cache and the message correlation store.
//
// Implementations must make individual Get/Set/HGetAll/HSet calls atomic;
// no cross-key transactions are offered or needed.
package store

import (
	"context"
	"time"
)

// Store is a string-keyed key-value store with optional per-key TTL and
// a flat hash type for structured entries.
type Store interface {
	// Get returns the value for key. The second return is false when the
	// key is absent or expired.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set writes key=value. A ttl of zero means the key never expires.
	// Writing an existing key replaces the value and restarts the TTL.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// HGetAll returns all fields of the hash at key. An absent hash is
	// returned as an empty map, not an error.
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// HSet writes the given fields into the hash at key, creating it if
	// needed. Existing fields not named in fields are left untouched.
	HSet(ctx context.Context, key string, fields map[string]string) error

	// Delete removes a key (plain or hash). Deleting an absent key is not
	// an error.
	Delete(ctx context.Context, key string) error

	Close() error
}
