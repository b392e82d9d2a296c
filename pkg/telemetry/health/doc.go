// Package health provides liveness and readiness probes.
//
// Liveness reports only that the process is running. Readiness pings every
// registered dependency concurrently, each under its own timeout, and
// returns 503 while any of them is unreachable:
//
//	checker := health.New(2 * time.Second)
//	checker.RegisterCheck("redis", func(ctx context.Context) error {
//	    return rdb.Ping(ctx).Err()
//	})
//	checker.RegisterCheck("quota_store", health.PingCheck(store))
//
//	r.Get("/health", checker.LivenessHandler())
//	r.Get("/ready", checker.ReadinessHandler())
//
// A failing readiness check does not affect request handling: the rate
// limiter fails open and the quota manager reports its own unavailability.
package health
