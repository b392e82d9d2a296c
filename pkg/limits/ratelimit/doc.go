// Package ratelimit provides fixed-window rate limiting over a shared
// counter store.
//
// # Overview
//
// Each window is a single counter keyed by policy and caller. The first
// request in a window creates the counter and sets its expiry in the same
// atomic step; later requests only increment it. A request is allowed while
// the post-increment count is at most the policy maximum.
//
//	registry := ratelimit.NewRegistry(cfg.RateLimits)
//	limiter := ratelimit.NewLimiter(store)
//
//	p, _ := registry.Lookup("api")
//	key, err := ratelimit.DeriveKey(p, id)
//	if err != nil {
//	    return err
//	}
//	d := limiter.Check(ctx, key, p)
//
// # Failure Handling
//
// Check never returns an error. If the counter store fails the request is
// allowed, Decision.FailedOpen is set and the failure is logged at most once
// per interval.
//
// # Compensation
//
// Policies with SkipFailedRequests expect the caller to call Compensate once
// the guarded operation failed. The decrement is best-effort; a concurrent
// check may observe the count before it is applied.
package ratelimit
