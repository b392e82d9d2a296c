package cache

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidKey is returned for an empty key.
var ErrInvalidKey = errors.New("cache key cannot be empty")

// Cache is a shared key-value cache with per-key TTL. It is a coherence
// layer only: callers must tolerate misses and errors by falling back to the
// system of record.
type Cache interface {
	// Get returns the value of key. found is false on a miss.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set stores value under key for ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// Close releases resources held by the cache.
	Close() error
}
