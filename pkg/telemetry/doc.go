// Package telemetry groups the observability building blocks of Tollgate.
//
// # Components
//
//   - logging: log/slog construction with request and subject context,
//     plus redaction of credentials in store DSNs
//   - metrics: Prometheus collectors for rate-limit decisions, quota
//     consumption, cache behavior and resets
//   - tracing: OpenTelemetry tracer provider and HTTP middleware
//   - health: liveness and readiness checks over the quota store and Redis
//
// # Usage
//
//	logger, err := logging.New(cfg.Telemetry.Logging, os.Stdout)
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//
//	tp, err := tracing.New(ctx, cfg.Telemetry.Tracing, version)
//	defer tp.Shutdown(context.Background())
//
//	checker := health.New(0)
//	checker.RegisterCheck("quota_store", health.PingCheck(store))
//
// Every metrics recorder is safe to call on a nil *metrics.Collector, so
// components accept an optional collector without branching.
package telemetry
