// Package server provides the tollgate HTTP API.
//
// The API lets services that cannot embed the engine ask for admission
// decisions, report outcomes and inspect or administer quota state. Services
// written in Go can instead mount the guards from the middleware subpackage.
//
// # Routes
//
//   - GET /health: liveness probe
//   - GET /ready: readiness probe pinging Redis and the quota store
//   - GET /metrics: Prometheus metrics (when enabled)
//   - POST /v1/admit: rate limit and/or quota decision
//   - POST /v1/admit/complete: report an admitted operation's outcome
//   - GET /v1/quota/{subjectID}: quota status
//   - POST /v1/quota/{subjectID}/consume/{feature}: meter one unit
//   - POST /v1/admin/sweep: run the reset sweep now
//   - DELETE /v1/admin/ratelimit/{limiter}[/{value}]: clear windows
//
// # Admission
//
//	POST /v1/admit
//	{"limiter": "api", "feature": "chapterTests", "subject_id": "user-1", "tier": "silver"}
//
// Responses:
//
//   - 200: allowed, with the window state and the subject's quota status
//   - 429: rate limited, with X-RateLimit-Limit, X-RateLimit-Remaining,
//     X-RateLimit-Reset (Unix seconds) and Retry-After (seconds)
//   - 403: quota exhausted, with feature, used, limit and reset_at
//   - 503: quota store unavailable; the operation must not proceed
//   - 400: unknown feature or tier, or an identity the limiter cannot key
//
// A quota status served from cache while the store is down carries the
// X-Quota-Stale: true header.
//
// # Middleware Chain
//
// Recovery, request ID and logging wrap every route; /v1 routes are also
// traced and bounded by server.request_timeout.
//
// The admin routes carry no authentication of their own and are meant to be
// reachable only from the operator network.
package server
