package counter

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidKey is returned for an empty key or prefix.
	ErrInvalidKey = errors.New("counter key cannot be empty")

	// ErrStoreFull is returned when a new window would exceed the store's
	// capacity and no expired window can be reclaimed.
	ErrStoreFull = errors.New("counter store is full")
)

// Store is an atomic counter store keyed by opaque strings. Every counter
// lives in a fixed window whose expiry is set exactly once, by the increment
// that creates it.
//
// Implementations must be safe for concurrent use by multiple goroutines,
// and IncrementAndMaybeExpire must be atomic: no increment is ever lost and
// the expiry of an existing window is never extended.
type Store interface {
	// IncrementAndMaybeExpire adds one to key. When the key did not exist
	// the new window expires after ttlIfNew. It returns the post-increment
	// count and the time remaining until the window expires; a ttl <= 0
	// means the expiry is unknown.
	IncrementAndMaybeExpire(ctx context.Context, key string, ttlIfNew time.Duration) (count int64, ttl time.Duration, err error)

	// Get returns the current count of key. found is false when the key
	// does not exist or its window has expired.
	Get(ctx context.Context, key string) (count int64, found bool, err error)

	// Decrement subtracts one from an existing, positive counter without
	// touching its expiry. Missing or zero counters are left alone and
	// reported as 0.
	Decrement(ctx context.Context, key string) (int64, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteByPrefix removes every key starting with prefix and returns the
	// number of keys removed.
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)

	// Close releases resources held by the store.
	Close() error
}
