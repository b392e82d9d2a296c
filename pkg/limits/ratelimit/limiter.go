package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"mercator-hq/tollgate/pkg/limits/counter"
	"mercator-hq/tollgate/pkg/telemetry/metrics"
)

// failOpenLogInterval bounds how often store failures are logged.
const failOpenLogInterval = 10 * time.Second

// Limiter turns a key and a Policy into an allow/deny decision using a fixed
// window counted in a shared counter.Store.
//
// The Limiter holds no per-key state, so any number of instances can share
// one store. When the store is unreachable the Limiter fails open: the
// request is allowed and the failure is logged and counted.
type Limiter struct {
	store   counter.Store
	metrics *metrics.Collector
	logger  *slog.Logger
	now     func() time.Time

	failOpenLog rate.Sometimes
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithMetrics records decisions in c.
func WithMetrics(c *metrics.Collector) Option {
	return func(l *Limiter) { l.metrics = c }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// WithClock overrides the time source used to compute ResetAt.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// NewLimiter creates a limiter on store.
//
// Example:
//
//	limiter := ratelimit.NewLimiter(counter.NewRedisStore(rdb))
//	d := limiter.Check(ctx, "rl:api:ip:1.2.3.4", ratelimit.Policy{
//	    Name:   "api",
//	    Window: 15 * time.Minute,
//	    Max:    100,
//	})
//	if !d.Allowed {
//	    // respond 429 with d.RetryAfter
//	}
func NewLimiter(store counter.Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:       store,
		now:         time.Now,
		failOpenLog: rate.Sometimes{First: 1, Interval: failOpenLogInterval},
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default().With("component", "limits.ratelimit")
	}
	return l
}

// Check counts one request against key and decides whether it may proceed.
//
// The counter is incremented whether or not the request is allowed, so a
// denied caller cannot keep a window open by retrying. The window's expiry
// is set by the first hit only.
func (l *Limiter) Check(ctx context.Context, key string, p Policy) *Decision {
	now := l.now()

	count, ttl, err := l.store.IncrementAndMaybeExpire(ctx, key, p.Window)
	if err != nil {
		l.metrics.RecordRateLimitFailOpen(p.Name)
		l.failOpenLog.Do(func() {
			l.logger.Warn("rate limit store unavailable, failing open",
				"limiter", p.Name,
				"error", err,
			)
		})
		return &Decision{
			Allowed:    true,
			Limit:      p.Max,
			Remaining:  p.Max,
			RetryAfter: p.Window,
			ResetAt:    now.Add(p.Window),
			FailedOpen: true,
		}
	}

	if ttl <= 0 {
		ttl = p.Window
	}

	d := &Decision{
		Allowed:    count <= p.Max,
		Limit:      p.Max,
		Remaining:  max(0, p.Max-count),
		RetryAfter: ttl,
		ResetAt:    now.Add(ttl),
	}
	l.metrics.RecordRateLimitDecision(p.Name, d.Allowed)

	if !d.Allowed {
		l.logger.Debug("rate limit exceeded",
			"limiter", p.Name,
			"count", count,
			"limit", p.Max,
			"retry_after", ttl,
		)
	}
	return d
}

// Compensate undoes one earlier Check on key. It is a best-effort,
// non-atomic correction: it never drives a counter below zero, does nothing
// if the window already expired, and may race with concurrent checks.
func (l *Limiter) Compensate(ctx context.Context, key string, p Policy) error {
	_, err := l.store.Decrement(ctx, key)
	l.metrics.RecordRateLimitCompensation(p.Name, err)
	if err != nil {
		l.logger.Warn("rate limit compensation failed", "limiter", p.Name, "error", err)
	}
	return err
}

// Reset clears the window of a single key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.store.Delete(ctx, key)
}

// ResetValue clears every window of p keyed by value, whichever identity
// component it was derived from.
func (l *Limiter) ResetValue(ctx context.Context, p Policy, value string) error {
	for _, key := range keysForValue(p, value) {
		if err := l.store.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// ResetPolicy clears every window of p and returns the number removed.
func (l *Limiter) ResetPolicy(ctx context.Context, p Policy) (int, error) {
	n, err := l.store.DeleteByPrefix(ctx, policyPrefix(p.Name))
	if err != nil {
		return n, err
	}
	l.logger.Info("rate limit policy reset", "limiter", p.Name, "keys", n)
	return n, nil
}
