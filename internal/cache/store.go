package cache

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no document exists for a key.
var ErrNotFound = errors.New("cache: key not found")

// Store is a key-value document store with atomic read-modify-write.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get unmarshals the document at key into out.
	// Returns ErrNotFound when the key is absent.
	Get(ctx context.Context, key string, out any) error

	// Update atomically replaces the value at key with fn(old).
	// fn receives nil when the key does not exist yet. The whole
	// read-modify-write is applied as a single transaction.
	Update(ctx context.Context, key string, fn func(old []byte) ([]byte, error)) error

	// Close releases store resources.
	Close() error
}
