package metrics

import (
	"time"

	"mercator-hq/tollgate/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Collector is the single entry point for every Prometheus metric exported
// by tollgate. Components receive a *Collector at construction and call its
// Record methods; every method is safe on a nil receiver so components can
// run without metrics in tests.
type Collector struct {
	registry *prometheus.Registry

	rateLimitMetrics *RateLimitMetrics
	quotaMetrics     *QuotaMetrics
	resetMetrics     *ResetMetrics
	cacheMetrics     *CacheMetrics
}

// NewCollector creates a collector registering all metrics with registry.
// If registry is nil a fresh registry with the Go and process collectors is
// created.
//
// Example:
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	mux.Handle(cfg.Telemetry.Metrics.Path, collector.Handler())
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = config.DefaultMetricsNamespace
	}

	return &Collector{
		registry:         registry,
		rateLimitMetrics: NewRateLimitMetrics(namespace, registry),
		quotaMetrics:     NewQuotaMetrics(namespace, registry),
		resetMetrics:     NewResetMetrics(namespace, registry),
		cacheMetrics:     NewCacheMetrics(namespace, registry),
	}
}

// Registry returns the registry backing the collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordRateLimitDecision records an allow or deny decision of a limiter.
func (c *Collector) RecordRateLimitDecision(limiter string, allowed bool) {
	if c == nil {
		return
	}
	c.rateLimitMetrics.RecordDecision(limiter, allowed)
}

// RecordRateLimitFailOpen records a request allowed because the counter
// store failed.
func (c *Collector) RecordRateLimitFailOpen(limiter string) {
	if c == nil {
		return
	}
	c.rateLimitMetrics.RecordFailOpen(limiter)
}

// RecordRateLimitCompensation records a compensating decrement, successful
// or not.
func (c *Collector) RecordRateLimitCompensation(limiter string, err error) {
	if c == nil {
		return
	}
	c.rateLimitMetrics.RecordCompensation(limiter, err)
}

// RecordConsume records the outcome of a quota consume: "allowed",
// "exceeded" or "unavailable".
func (c *Collector) RecordConsume(feature, outcome string) {
	if c == nil {
		return
	}
	c.quotaMetrics.RecordConsume(feature, outcome)
}

// RecordRaceOvercount records one increment that landed above the limit.
// A consume that leaves used at limit+k overshot by one unit, not k; the
// other k-1 units belong to the callers that raced ahead of it.
func (c *Collector) RecordRaceOvercount(feature string) {
	if c == nil {
		return
	}
	c.quotaMetrics.RecordOvercount(feature)
}

// RecordStoreError records a quota store failure for operation op.
func (c *Collector) RecordStoreError(op string) {
	if c == nil {
		return
	}
	c.quotaMetrics.RecordStoreError(op)
}

// RecordStaleRead records a status served from a cached snapshot because
// the store was unavailable.
func (c *Collector) RecordStaleRead() {
	if c == nil {
		return
	}
	c.quotaMetrics.RecordStaleRead()
}

// RecordReset records a quota reset performed by path "lazy" or "sweep".
func (c *Collector) RecordReset(path string, count int) {
	if c == nil {
		return
	}
	c.resetMetrics.RecordReset(path, count)
}

// RecordSweep records a completed sweep run.
func (c *Collector) RecordSweep(duration time.Duration, err error) {
	if c == nil {
		return
	}
	c.resetMetrics.RecordSweep(duration, err)
}

// RecordCacheHit records a hit on cache "local" or "distributed".
func (c *Collector) RecordCacheHit(cacheName string) {
	if c == nil {
		return
	}
	c.cacheMetrics.RecordHit(cacheName)
}

// RecordCacheMiss records a miss on cache "local" or "distributed".
func (c *Collector) RecordCacheMiss(cacheName string) {
	if c == nil {
		return
	}
	c.cacheMetrics.RecordMiss(cacheName)
}

// RecordCacheError records a failed distributed cache operation.
func (c *Collector) RecordCacheError(cacheName string) {
	if c == nil {
		return
	}
	c.cacheMetrics.RecordError(cacheName)
}

// UpdateCacheSize sets the current entry count of a cache.
func (c *Collector) UpdateCacheSize(cacheName string, size int) {
	if c == nil {
		return
	}
	c.cacheMetrics.UpdateSize(cacheName, size)
}
