package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/identity"
	"mercator-hq/tollgate/pkg/limits/counter"
)

var errStoreDown = errors.New("connection refused")

// failingStore simulates an unreachable counter store.
type failingStore struct{}

func (failingStore) IncrementAndMaybeExpire(context.Context, string, time.Duration) (int64, time.Duration, error) {
	return 0, 0, errStoreDown
}
func (failingStore) Get(context.Context, string) (int64, bool, error) { return 0, false, errStoreDown }
func (failingStore) Decrement(context.Context, string) (int64, error) { return 0, errStoreDown }
func (failingStore) Delete(context.Context, string) error             { return errStoreDown }
func (failingStore) DeleteByPrefix(context.Context, string) (int, error) {
	return 0, errStoreDown
}
func (failingStore) Close() error { return nil }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type limiterCase struct {
	name  string
	build func(t *testing.T) (*Limiter, counter.Store, func(time.Duration))
}

func limiterCases() []limiterCase {
	return []limiterCase{
		{
			name: "memory",
			build: func(t *testing.T) (*Limiter, counter.Store, func(time.Duration)) {
				c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
				s := counter.NewMemoryStore(counter.WithClock(c.Now))
				t.Cleanup(func() { s.Close() })
				return NewLimiter(s, WithClock(c.Now)), s, c.Advance
			},
		},
		{
			name: "redis",
			build: func(t *testing.T) (*Limiter, counter.Store, func(time.Duration)) {
				mr := miniredis.RunT(t)
				rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
				t.Cleanup(func() { rdb.Close() })
				s := counter.NewRedisStore(rdb, counter.WithKeyPrefix("test:"))
				return NewLimiter(s), s, mr.FastForward
			},
		},
	}
}

func TestLimiter_HundredAndOne(t *testing.T) {
	p := Policy{Name: "api", Window: 900 * time.Second, Max: 100, KeyStrategy: StrategyIP}

	for _, tc := range limiterCases() {
		t.Run(tc.name, func(t *testing.T) {
			l, _, _ := tc.build(t)
			ctx := context.Background()

			for i := 1; i <= 100; i++ {
				d := l.Check(ctx, "ip:1.2.3.4", p)
				if !d.Allowed {
					t.Fatalf("call %d: expected allowed", i)
				}
				if want := int64(100 - i); d.Remaining != want {
					t.Fatalf("call %d: expected remaining %d, got %d", i, want, d.Remaining)
				}
			}

			d := l.Check(ctx, "ip:1.2.3.4", p)
			if d.Allowed {
				t.Fatal("call 101: expected denied")
			}
			if d.Remaining != 0 {
				t.Errorf("expected remaining 0, got %d", d.Remaining)
			}
			if d.RetryAfter < 899*time.Second || d.RetryAfter > 900*time.Second {
				t.Errorf("expected retry after about 900s, got %v", d.RetryAfter)
			}
			if d.Limit != 100 {
				t.Errorf("expected limit 100, got %d", d.Limit)
			}
		})
	}
}

func TestLimiter_WindowNotExtended(t *testing.T) {
	p := Policy{Name: "api", Window: 10 * time.Second, Max: 2}

	for _, tc := range limiterCases() {
		t.Run(tc.name, func(t *testing.T) {
			l, _, advance := tc.build(t)
			ctx := context.Background()

			l.Check(ctx, "k", p)
			advance(6 * time.Second)
			l.Check(ctx, "k", p)
			d := l.Check(ctx, "k", p)
			if d.Allowed {
				t.Fatal("expected third call to be denied")
			}
			if d.RetryAfter > 4*time.Second {
				t.Errorf("expected window to keep its first-hit expiry, retry after %v", d.RetryAfter)
			}

			advance(5 * time.Second)
			if d := l.Check(ctx, "k", p); !d.Allowed || d.Remaining != 1 {
				t.Errorf("expected a fresh window, got %+v", d)
			}
		})
	}
}

func TestLimiter_ConcurrentBoundedness(t *testing.T) {
	const (
		limit   = 25
		callers = 200
	)
	p := Policy{Name: "api", Window: time.Minute, Max: limit}

	for _, tc := range limiterCases() {
		t.Run(tc.name, func(t *testing.T) {
			l, _, _ := tc.build(t)
			ctx := context.Background()

			var (
				wg      sync.WaitGroup
				allowed atomic.Int64
			)
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if l.Check(ctx, "shared", p).Allowed {
						allowed.Add(1)
					}
				}()
			}
			wg.Wait()

			if got := allowed.Load(); got != limit {
				t.Errorf("expected exactly %d allowed, got %d", limit, got)
			}
		})
	}
}

func TestLimiter_FailOpen(t *testing.T) {
	l := NewLimiter(failingStore{})
	p := Policy{Name: "api", Window: time.Minute, Max: 1}

	for i := 0; i < 3; i++ {
		d := l.Check(context.Background(), "k", p)
		if !d.Allowed || !d.FailedOpen {
			t.Fatalf("expected fail-open decision, got %+v", d)
		}
	}
}

func TestLimiter_FullStoreKeepsLiveWindows(t *testing.T) {
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := counter.NewMemoryStore(counter.WithClock(c.Now), counter.WithMaxEntries(1))
	defer s.Close()
	l := NewLimiter(s, WithClock(c.Now))
	p := Policy{Name: "api", Window: time.Minute, Max: 1}
	ctx := context.Background()

	if d := l.Check(ctx, "victim", p); !d.Allowed || d.FailedOpen {
		t.Fatalf("expected first check allowed, got %+v", d)
	}

	if d := l.Check(ctx, "flood", p); !d.Allowed || !d.FailedOpen {
		t.Fatalf("expected new key to fail open on a full store, got %+v", d)
	}

	if d := l.Check(ctx, "victim", p); d.Allowed {
		t.Errorf("expected live window to stay enforced, got %+v", d)
	}
}

func TestLimiter_Compensate(t *testing.T) {
	p := Policy{Name: "login", Window: time.Minute, Max: 2, SkipFailedRequests: true}

	for _, tc := range limiterCases() {
		t.Run(tc.name, func(t *testing.T) {
			l, _, _ := tc.build(t)
			ctx := context.Background()

			l.Check(ctx, "k", p)
			l.Check(ctx, "k", p)
			if err := l.Compensate(ctx, "k", p); err != nil {
				t.Fatalf("Compensate failed: %v", err)
			}
			if d := l.Check(ctx, "k", p); !d.Allowed {
				t.Error("expected compensated slot to be reusable")
			}

			if err := l.Compensate(ctx, "missing", p); err != nil {
				t.Errorf("expected compensation of missing key to be a no-op, got %v", err)
			}
		})
	}

	if err := NewLimiter(failingStore{}).Compensate(context.Background(), "k", p); err == nil {
		t.Error("expected compensation error from failing store")
	}
}

func TestLimiter_Reset(t *testing.T) {
	ip := Policy{Name: "api", Window: time.Minute, Max: 1, KeyStrategy: StrategyIP}
	mixed := Policy{Name: "login", Window: time.Minute, Max: 1, KeyStrategy: StrategySubjectOrIP}

	for _, tc := range limiterCases() {
		t.Run(tc.name, func(t *testing.T) {
			l, store, _ := tc.build(t)
			ctx := context.Background()

			k1, _ := DeriveKey(ip, identity.Identity{RemoteIP: "1.1.1.1"})
			k2, _ := DeriveKey(ip, identity.Identity{RemoteIP: "2.2.2.2"})
			k3, _ := DeriveKey(mixed, identity.Identity{SubjectID: "u1"})
			for _, k := range []string{k1, k2} {
				l.Check(ctx, k, ip)
			}
			l.Check(ctx, k3, mixed)

			if err := l.Reset(ctx, k1); err != nil {
				t.Fatalf("Reset failed: %v", err)
			}
			if !l.Check(ctx, k1, ip).Allowed {
				t.Error("expected k1 to be reset")
			}

			if err := l.ResetValue(ctx, mixed, "u1"); err != nil {
				t.Fatalf("ResetValue failed: %v", err)
			}
			if _, found, _ := store.Get(ctx, k3); found {
				t.Error("expected subject window to be removed")
			}

			n, err := l.ResetPolicy(ctx, ip)
			if err != nil {
				t.Fatalf("ResetPolicy failed: %v", err)
			}
			if n != 2 {
				t.Errorf("expected 2 keys removed, got %d", n)
			}
		})
	}
}

func TestDeriveKey(t *testing.T) {
	anon := identity.Identity{RemoteIP: "1.2.3.4"}
	user := identity.Identity{SubjectID: "u1", RemoteIP: "1.2.3.4"}

	tests := []struct {
		name     string
		strategy KeyStrategy
		id       identity.Identity
		want     string
		wantErr  error
	}{
		{"ip", StrategyIP, user, "rl:api:ip:1.2.3.4", nil},
		{"subject", StrategySubject, user, "rl:api:subject:u1", nil},
		{"subject missing", StrategySubject, anon, "", ErrNoKey},
		{"subject or ip with subject", StrategySubjectOrIP, user, "rl:api:subject:u1", nil},
		{"subject or ip without subject", StrategySubjectOrIP, anon, "rl:api:ip:1.2.3.4", nil},
		{"no address", StrategyIP, identity.Identity{}, "", ErrNoKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DeriveKey(Policy{Name: "api", KeyStrategy: tt.strategy}, tt.id)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(map[string]config.RateLimitConfig{
		"api":   {Window: 15 * time.Minute, Max: 100, KeyStrategy: "ip"},
		"login": {Window: time.Minute, Max: 5, KeyStrategy: "subject_or_ip", SkipFailedRequests: true},
	})

	p, ok := r.Lookup("login")
	if !ok {
		t.Fatal("expected login policy")
	}
	if p.Name != "login" || p.Max != 5 || p.KeyStrategy != StrategySubjectOrIP || !p.SkipFailedRequests {
		t.Errorf("unexpected policy %+v", p)
	}
	if _, ok := r.Lookup("missing"); ok {
		t.Error("expected missing policy lookup to fail")
	}
	if names := r.Names(); len(names) != 2 || names[0] != "api" || names[1] != "login" {
		t.Errorf("unexpected names %v", names)
	}
}

func TestCustomKey(t *testing.T) {
	p := Policy{Name: "webhook"}

	got, err := CustomKey(p, "tenant-7")
	if err != nil || got != "rl:webhook:key:tenant-7" {
		t.Fatalf("unexpected key %q (%v)", got, err)
	}
	if _, err := CustomKey(p, ""); !errors.Is(err, ErrNoKey) {
		t.Fatalf("expected ErrNoKey, got %v", err)
	}
}
