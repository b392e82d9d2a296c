// Package metrics provides Prometheus metrics collection for tollgate.
//
// # Metrics Categories
//
//   - Rate limit metrics: decisions, fail-open allowances, compensations
//   - Quota metrics: consume outcomes, race overcount, store errors, stale reads
//   - Reset metrics: records reset by lazy and sweep paths, sweep runs
//   - Cache metrics: hits, misses and errors of the local and distributed caches
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	collector.RecordRateLimitDecision("api", true)
//	http.Handle("/metrics", collector.Handler())
//
// A nil *Collector is valid and records nothing.
package metrics
