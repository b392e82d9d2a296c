package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mercator-hq/tollgate/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	return NewCollector(&config.MetricsConfig{Namespace: "test"}, prometheus.NewRegistry())
}

func TestCollector_RateLimit(t *testing.T) {
	c := newTestCollector(t)

	c.RecordRateLimitDecision("api", true)
	c.RecordRateLimitDecision("api", true)
	c.RecordRateLimitDecision("api", false)
	c.RecordRateLimitFailOpen("api")
	c.RecordRateLimitCompensation("login", nil)
	c.RecordRateLimitCompensation("login", errors.New("boom"))

	if got := testutil.ToFloat64(c.rateLimitMetrics.decisionsTotal.WithLabelValues("api", "true")); got != 2 {
		t.Errorf("expected 2 allowed decisions, got %v", got)
	}
	if got := testutil.ToFloat64(c.rateLimitMetrics.decisionsTotal.WithLabelValues("api", "false")); got != 1 {
		t.Errorf("expected 1 denied decision, got %v", got)
	}
	if got := testutil.ToFloat64(c.rateLimitMetrics.failOpenTotal.WithLabelValues("api")); got != 1 {
		t.Errorf("expected 1 fail-open, got %v", got)
	}
	if got := testutil.ToFloat64(c.rateLimitMetrics.compensationsTotal.WithLabelValues("login", "error")); got != 1 {
		t.Errorf("expected 1 failed compensation, got %v", got)
	}
}

func TestCollector_Quota(t *testing.T) {
	c := newTestCollector(t)

	c.RecordConsume("questions", "allowed")
	c.RecordConsume("questions", "exceeded")
	c.RecordRaceOvercount("questions")
	c.RecordRaceOvercount("questions")
	c.RecordStoreError("find")
	c.RecordStaleRead()

	if got := testutil.ToFloat64(c.quotaMetrics.overcountTotal.WithLabelValues("questions")); got != 2 {
		t.Errorf("expected overcount 2, got %v", got)
	}
	if got := testutil.ToFloat64(c.quotaMetrics.consumeTotal.WithLabelValues("questions", "exceeded")); got != 1 {
		t.Errorf("expected 1 exceeded, got %v", got)
	}
	if got := testutil.ToFloat64(c.quotaMetrics.staleReadsTotal); got != 1 {
		t.Errorf("expected 1 stale read, got %v", got)
	}
}

func TestCollector_Reset(t *testing.T) {
	c := newTestCollector(t)

	c.RecordReset("sweep", 5)
	c.RecordReset("lazy", 1)
	c.RecordSweep(10*time.Millisecond, nil)
	c.RecordSweep(time.Second, errors.New("store down"))

	if got := testutil.ToFloat64(c.resetMetrics.recordsTotal.WithLabelValues("sweep")); got != 5 {
		t.Errorf("expected 5 sweep resets, got %v", got)
	}
	if got := testutil.ToFloat64(c.resetMetrics.sweepsTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("expected 1 failed sweep, got %v", got)
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector

	c.RecordRateLimitDecision("api", true)
	c.RecordConsume("questions", "allowed")
	c.RecordReset("lazy", 1)
	c.RecordCacheHit("local")
	c.UpdateCacheSize("local", 3)
}

func TestCollector_Handler(t *testing.T) {
	c := newTestCollector(t)
	c.RecordCacheHit("distributed")
	c.RecordCacheMiss("local")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `test_cache_hits_total{cache="distributed"} 1`) {
		t.Errorf("expected cache hit metric in output, got:\n%s", rec.Body.String())
	}
}
