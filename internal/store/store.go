// Package store provides the shared counter/blob store backing rate limit
// windows, service statistics, cached principals, and the credential
// revocation set. Every call site defines its own fail-open or fail-closed
// policy; the store itself only reports errors.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned when a key is not present in the store.
var ErrKeyNotFound = errors.New("key not found")

// IsKeyNotFound reports whether the error indicates a missing key.
func IsKeyNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}

// Store is the narrow capability interface over the external store.
type Store interface {
	// Get retrieves the raw value for the given key.
	// Returns ErrKeyNotFound if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with an expiration. A zero expiration means the
	// entry never expires.
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error

	// Delete removes the key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether the key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Increment atomically increments the numeric value at key by delta
	// and returns the new value.
	Increment(ctx context.Context, key string, delta int64) (int64, error)

	// IncrementWithExpiry increments the numeric value at key by delta,
	// setting the expiration when the key is created by this call.
	IncrementWithExpiry(ctx context.Context, key string, delta int64, expiration time.Duration) (int64, error)

	// Ping checks connectivity to the backing store.
	Ping(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}
