package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RateLimitMetrics tracks rate limiter decisions.
//
// Metrics:
//   - tollgate_ratelimit_decisions_total{limiter, allowed}
//   - tollgate_ratelimit_fail_open_total{limiter}
//   - tollgate_ratelimit_compensations_total{limiter, result}
type RateLimitMetrics struct {
	decisionsTotal     *prometheus.CounterVec
	failOpenTotal      *prometheus.CounterVec
	compensationsTotal *prometheus.CounterVec
}

// NewRateLimitMetrics creates and registers rate limiter metrics.
func NewRateLimitMetrics(namespace string, registry *prometheus.Registry) *RateLimitMetrics {
	m := &RateLimitMetrics{
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ratelimit",
				Name:      "decisions_total",
				Help:      "Total number of rate limit decisions",
			},
			[]string{"limiter", "allowed"},
		),
		failOpenTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ratelimit",
				Name:      "fail_open_total",
				Help:      "Requests allowed because the counter store was unavailable",
			},
			[]string{"limiter"},
		),
		compensationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ratelimit",
				Name:      "compensations_total",
				Help:      "Compensating decrements issued for failed requests",
			},
			[]string{"limiter", "result"},
		),
	}

	registry.MustRegister(m.decisionsTotal, m.failOpenTotal, m.compensationsTotal)
	return m
}

// RecordDecision records one decision.
func (m *RateLimitMetrics) RecordDecision(limiter string, allowed bool) {
	m.decisionsTotal.WithLabelValues(limiter, strconv.FormatBool(allowed)).Inc()
}

// RecordFailOpen records a fail-open decision.
func (m *RateLimitMetrics) RecordFailOpen(limiter string) {
	m.failOpenTotal.WithLabelValues(limiter).Inc()
}

// RecordCompensation records a compensating decrement.
func (m *RateLimitMetrics) RecordCompensation(limiter string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.compensationsTotal.WithLabelValues(limiter, result).Inc()
}

// QuotaMetrics tracks quota consumption.
//
// Metrics:
//   - tollgate_quota_consume_total{feature, outcome}
//   - tollgate_quota_race_overcount_total{feature}
//   - tollgate_quota_store_errors_total{op}
//   - tollgate_quota_stale_reads_total
type QuotaMetrics struct {
	consumeTotal     *prometheus.CounterVec
	overcountTotal   *prometheus.CounterVec
	storeErrorsTotal *prometheus.CounterVec
	staleReadsTotal  prometheus.Counter
}

// NewQuotaMetrics creates and registers quota metrics.
func NewQuotaMetrics(namespace string, registry *prometheus.Registry) *QuotaMetrics {
	m := &QuotaMetrics{
		consumeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "quota",
				Name:      "consume_total",
				Help:      "Quota consume attempts by outcome",
			},
			[]string{"feature", "outcome"},
		),
		overcountTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "quota",
				Name:      "race_overcount_total",
				Help:      "Units consumed beyond the limit by concurrent check-then-increment",
			},
			[]string{"feature"},
		),
		storeErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "quota",
				Name:      "store_errors_total",
				Help:      "Quota store failures by operation",
			},
			[]string{"op"},
		),
		staleReadsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "quota",
				Name:      "stale_reads_total",
				Help:      "Status reads served from a cached snapshot during a store outage",
			},
		),
	}

	registry.MustRegister(m.consumeTotal, m.overcountTotal, m.storeErrorsTotal, m.staleReadsTotal)
	return m
}

// RecordConsume records a consume outcome.
func (m *QuotaMetrics) RecordConsume(feature, outcome string) {
	m.consumeTotal.WithLabelValues(feature, outcome).Inc()
}

// RecordOvercount counts one unit consumed past the limit.
func (m *QuotaMetrics) RecordOvercount(feature string) {
	m.overcountTotal.WithLabelValues(feature).Inc()
}

// RecordStoreError records a store failure.
func (m *QuotaMetrics) RecordStoreError(op string) {
	m.storeErrorsTotal.WithLabelValues(op).Inc()
}

// RecordStaleRead records a stale read.
func (m *QuotaMetrics) RecordStaleRead() {
	m.staleReadsTotal.Inc()
}

// ResetMetrics tracks daily resets.
//
// Metrics:
//   - tollgate_reset_records_total{path}
//   - tollgate_reset_sweeps_total{result}
//   - tollgate_reset_sweep_duration_seconds
type ResetMetrics struct {
	recordsTotal  *prometheus.CounterVec
	sweepsTotal   *prometheus.CounterVec
	sweepDuration prometheus.Histogram
}

// NewResetMetrics creates and registers reset metrics.
func NewResetMetrics(namespace string, registry *prometheus.Registry) *ResetMetrics {
	m := &ResetMetrics{
		recordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reset",
				Name:      "records_total",
				Help:      "Quota records reset, by lazy or sweep path",
			},
			[]string{"path"},
		),
		sweepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reset",
				Name:      "sweeps_total",
				Help:      "Sweep runs by result",
			},
			[]string{"result"},
		),
		sweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "reset",
				Name:      "sweep_duration_seconds",
				Help:      "Duration of sweep runs",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
		),
	}

	registry.MustRegister(m.recordsTotal, m.sweepsTotal, m.sweepDuration)
	return m
}

// RecordReset adds count resets on path.
func (m *ResetMetrics) RecordReset(path string, count int) {
	m.recordsTotal.WithLabelValues(path).Add(float64(count))
}

// RecordSweep records a sweep run.
func (m *ResetMetrics) RecordSweep(duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.sweepsTotal.WithLabelValues(result).Inc()
	m.sweepDuration.Observe(duration.Seconds())
}
