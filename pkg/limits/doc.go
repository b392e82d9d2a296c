// Package limits decides whether rate-sensitive and metered operations may
// proceed.
//
// # Overview
//
// The limits package combines two independent mechanisms:
//
//   - Rate limiting: fixed windows counted in a shared counter store, keyed
//     by client address or subject. Fails open.
//   - Quotas: per-feature daily allowances per subject and tier, persisted in
//     a SQL or in-memory store and reset at a fixed hour. Fails closed.
//
// # Architecture
//
// The package is organized into sub-packages:
//
//   - counter: atomic window counters (memory, Redis)
//   - cache: distributed snapshot cache and process-local freshness cache
//   - storage: quota records (memory, SQLite, PostgreSQL, MySQL)
//   - ratelimit: fixed-window limiter, policies and key derivation
//   - quota: tier table and quota manager
//   - reset: reset schedule, sweeper and cron scheduler
//
// # Usage
//
//	result, err := engine.Admit(ctx, limits.Request{
//	    Limiter:  "api",
//	    Identity: identity.Identity{SubjectID: "user-1", Tier: "silver", RemoteIP: ip},
//	    Feature:  "chapterTests",
//	})
//	switch {
//	case err != nil:
//	    // 503 or 400
//	case !result.Allowed && result.Reason == limits.ReasonRateLimit:
//	    // 429 with result.RateLimit
//	case !result.Allowed:
//	    // 403 with result.Exceeded
//	}
//
//	// Afterwards, for policies that skip failed requests:
//	engine.Complete(ctx, req, succeeded)
package limits
