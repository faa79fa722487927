// Package store provides the byte-level key/value backends the cache
// wrapper writes its envelopes to. Backends are envelope-agnostic: they
// store opaque bytes under a key with a hard expiry.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates the requested key does not exist.
var ErrNotFound = errors.New("key not found")

// Store is a byte-level key/value backend with expiry and glob listing.
type Store interface {
	// Get returns the bytes stored under key.
	// Returns ErrNotFound if the key does not exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. The key is removed after expiry.
	// An expiry <= 0 stores the value without expiry.
	Set(ctx context.Context, key string, value []byte, expiry time.Duration) error

	// Delete removes keys and returns how many existed.
	Delete(ctx context.Context, keys ...string) (int64, error)

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// KeysMatching returns all keys matching a glob pattern. Every
	// backend supports the * wildcard; richer glob syntax is
	// backend-dependent.
	KeysMatching(ctx context.Context, pattern string) ([]string, error)

	// Close releases backend resources.
	Close() error
}

// Invalidate removes every key matching pattern and returns the count.
// Keys written after the listing pass survive; the next invalidation
// catches them.
func Invalidate(ctx context.Context, s Store, pattern string) (int64, error) {
	keys, err := s.KeysMatching(ctx, pattern)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	return s.Delete(ctx, keys...)
}
