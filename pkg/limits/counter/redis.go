package counter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrScript increments a window and sets its expiry only on creation, then
// reports the remaining TTL. Keys that somehow lost their expiry are given
// one so a window can never become permanent.
var incrScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl == -1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// decrScript decrements an existing positive counter, preserving its TTL.
var decrScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if not v then
	return 0
end
local n = tonumber(v)
if n == nil or n <= 0 then
	return 0
end
return redis.call("DECR", KEYS[1])
`)

// scanBatch is the COUNT hint for SCAN and the UNLINK batch size.
const scanBatch = 500

// RedisStore implements Store on Redis. Every operation is a single
// round trip; increments run as a Lua script so the increment and the
// first-hit expiry are one atomic step.
//
// The client is shared and not closed by Close.
type RedisStore struct {
	rdb       redis.UniversalClient
	prefix    string
	opTimeout time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix namespaces every key.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// WithOpTimeout bounds every Redis call. Zero leaves the caller's deadline
// untouched.
func WithOpTimeout(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.opTimeout = d }
}

// NewRedisStore creates a counter store on rdb.
func NewRedisStore(rdb redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{rdb: rdb}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IncrementAndMaybeExpire implements Store.
func (s *RedisStore) IncrementAndMaybeExpire(ctx context.Context, key string, ttlIfNew time.Duration) (int64, time.Duration, error) {
	if key == "" {
		return 0, 0, ErrInvalidKey
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ttlMillis := ttlIfNew.Milliseconds()
	if ttlMillis <= 0 {
		ttlMillis = 1
	}

	res, err := incrScript.Run(ctx, s.rdb, []string{s.prefix + key}, ttlMillis).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("increment %q: %w", key, err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("increment %q: unexpected script reply %v", key, res)
	}

	return res[0], time.Duration(res[1]) * time.Millisecond, nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (int64, bool, error) {
	if key == "" {
		return 0, false, ErrInvalidKey
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := s.rdb.Get(ctx, s.prefix+key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get %q: %w", key, err)
	}
	return n, true, nil
}

// Decrement implements Store.
func (s *RedisStore) Decrement(ctx context.Context, key string) (int64, error) {
	if key == "" {
		return 0, ErrInvalidKey
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := decrScript.Run(ctx, s.rdb, []string{s.prefix + key}).Int64()
	if err != nil {
		return 0, fmt.Errorf("decrement %q: %w", key, err)
	}
	return n, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.rdb.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// DeleteByPrefix implements Store. It walks the keyspace with SCAN, so it
// is not atomic with respect to concurrent increments; the op timeout is
// not applied because the walk is proportional to the keyspace.
func (s *RedisStore) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, ErrInvalidKey
	}

	match := escapeGlob(s.prefix+prefix) + "*"
	deleted := 0

	iter := s.rdb.Scan(ctx, 0, match, scanBatch).Iterator()
	batch := make([]string, 0, scanBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := s.rdb.Unlink(ctx, batch...).Result()
		if err != nil {
			return err
		}
		deleted += int(n)
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := flush(); err != nil {
				return deleted, fmt.Errorf("delete prefix %q: %w", prefix, err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("scan prefix %q: %w", prefix, err)
	}
	if err := flush(); err != nil {
		return deleted, fmt.Errorf("delete prefix %q: %w", prefix, err)
	}

	return deleted, nil
}

// Close implements Store. The shared client is left open.
func (s *RedisStore) Close() error {
	return nil
}

func (s *RedisStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// escapeGlob escapes the characters SCAN MATCH treats as pattern syntax.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
