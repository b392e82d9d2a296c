package quota

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/limits/cache"
	"mercator-hq/tollgate/pkg/limits/reset"
	"mercator-hq/tollgate/pkg/limits/storage"
	"mercator-hq/tollgate/pkg/telemetry/metrics"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// plainStore hides IncrementIfBelow, forcing check-then-increment.
type plainStore struct {
	storage.Store
}

// flakyStore fails every call while down is set.
type flakyStore struct {
	storage.Store
	down atomic.Bool
}

var errDown = errors.New("dial tcp: connection refused")

func (f *flakyStore) Find(ctx context.Context, id string) (*storage.Record, error) {
	if f.down.Load() {
		return nil, errDown
	}
	return f.Store.Find(ctx, id)
}

func (f *flakyStore) Increment(ctx context.Context, id, feature string, now time.Time) (*storage.Record, error) {
	if f.down.Load() {
		return nil, errDown
	}
	return f.Store.Increment(ctx, id, feature, now)
}

// lateCommitStore reports a fixed questions usage from Find, as seen by callers that
// all read before any concurrent increment committed.
type lateCommitStore struct {
	storage.Store
	used int64
}

func (s lateCommitStore) Find(ctx context.Context, id string) (*storage.Record, error) {
	rec, err := s.Store.Find(ctx, id)
	if err != nil || rec == nil {
		return rec, err
	}
	rec = rec.Clone()
	rec.Usage["questions"] = s.used
	return rec, nil
}

type fixture struct {
	manager  *Manager
	store    storage.Store
	clock    *fakeClock
	schedule *reset.Schedule
	registry *prometheus.Registry
}

func newFixture(t *testing.T, store storage.Store, softLimits bool) *fixture {
	t.Helper()

	tiers, err := NewTierTable(testQuotaConfig())
	if err != nil {
		t.Fatalf("NewTierTable failed: %v", err)
	}
	schedule, err := reset.NewSchedule(4, 0)
	if err != nil {
		t.Fatalf("NewSchedule failed: %v", err)
	}
	clock := &fakeClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	registry := prometheus.NewRegistry()

	m, err := NewManager(Config{
		Store:      store,
		Tiers:      tiers,
		Schedule:   schedule,
		Cache:      cache.NewMemoryCache(clock.Now),
		SoftLimits: softLimits,
		Metrics:    metrics.NewCollector(&config.MetricsConfig{Namespace: "test"}, registry),
		Clock:      clock.Now,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return &fixture{manager: m, store: store, clock: clock, schedule: schedule, registry: registry}
}

func TestManager_LazyCreate(t *testing.T) {
	f := newFixture(t, storage.NewMemoryStore(), false)
	ctx := context.Background()

	st, err := f.manager.GetStatus(ctx, "new-user")
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if st.Tier != "free" {
		t.Errorf("expected default tier, got %s", st.Tier)
	}
	for name, fs := range st.Features {
		if fs.Used != 0 || fs.Reached {
			t.Errorf("expected zeroed %s, got %+v", name, fs)
		}
	}
	want := time.Date(2026, 3, 11, 4, 0, 0, 0, time.UTC)
	if !st.ResetAt.Equal(want) {
		t.Errorf("expected reset at %v, got %v", want, st.ResetAt)
	}

	rec, _ := f.store.Find(ctx, "new-user")
	if rec == nil {
		t.Fatal("expected record to be persisted")
	}
}

func TestManager_Consume(t *testing.T) {
	f := newFixture(t, storage.NewMemoryStore(), false)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		st, err := f.manager.Consume(ctx, "u1", "chapterTests")
		if err != nil {
			t.Fatalf("consume %d failed: %v", i, err)
		}
		if got := st.Features["chapterTests"].Used; got != int64(i) {
			t.Fatalf("consume %d: expected used %d, got %d", i, i, got)
		}
	}

	_, err := f.manager.Consume(ctx, "u1", "chapterTests")
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	var exceeded *ExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected *ExceededError, got %T", err)
	}
	if exceeded.Used != 3 || exceeded.Limit != 3 || exceeded.Feature != "chapterTests" {
		t.Errorf("unexpected exceeded error %+v", exceeded)
	}

	st, _ := f.manager.GetStatus(ctx, "u1")
	if !st.Features["chapterTests"].Reached || st.Features["questions"].Used != 0 {
		t.Errorf("unexpected status %+v", st.Features)
	}
}

func TestManager_ConsumeUnknownFeature(t *testing.T) {
	f := newFixture(t, storage.NewMemoryStore(), false)

	if _, err := f.manager.Consume(context.Background(), "u1", "videos"); !errors.Is(err, ErrUnknownFeature) {
		t.Fatalf("expected ErrUnknownFeature, got %v", err)
	}
	if _, err := f.manager.Consume(context.Background(), "", "questions"); !errors.Is(err, ErrInvalidSubject) {
		t.Fatalf("expected ErrInvalidSubject, got %v", err)
	}
	if _, err := f.manager.GetStatus(context.Background(), "u1", WithTier("platinum")); !errors.Is(err, ErrUnknownTier) {
		t.Fatalf("expected ErrUnknownTier, got %v", err)
	}
}

func TestManager_SilverScenario(t *testing.T) {
	f := newFixture(t, storage.NewMemoryStore(), false)
	ctx := context.Background()
	resetAt := f.schedule.ComputeNextReset(f.clock.Now())

	err := f.store.Upsert(ctx, &storage.Record{
		SubjectID: "s1",
		Tier:      "silver",
		Usage:     map[string]int64{"chapterTests": 10},
		ResetAt:   resetAt,
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	if _, err := f.manager.Consume(ctx, "s1", "chapterTests", WithTier("silver")); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}

	f.clock.Set(resetAt.Add(time.Minute))

	st, err := f.manager.GetStatus(ctx, "s1", WithTier("silver"))
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if st.Features["chapterTests"].Used != 0 {
		t.Fatalf("expected lazy reset, got used %d", st.Features["chapterTests"].Used)
	}
	if !st.ResetAt.After(f.clock.Now()) {
		t.Errorf("expected fresh reset time after now, got %v", st.ResetAt)
	}

	st, err = f.manager.Consume(ctx, "s1", "chapterTests", WithTier("silver"))
	if err != nil {
		t.Fatalf("Consume after reset failed: %v", err)
	}
	if st.Features["chapterTests"].Used != 1 {
		t.Errorf("expected used 1, got %d", st.Features["chapterTests"].Used)
	}
}

func TestManager_LazyResetOnConsume(t *testing.T) {
	f := newFixture(t, storage.NewMemoryStore(), false)
	ctx := context.Background()
	now := f.clock.Now()

	f.store.Upsert(ctx, &storage.Record{
		SubjectID: "u1",
		Tier:      "free",
		Usage:     map[string]int64{"questions": 20, "chapterTests": 3},
		ResetAt:   now.Add(-time.Hour),
	})

	st, err := f.manager.Consume(ctx, "u1", "questions")
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if st.Features["questions"].Used != 1 || st.Features["chapterTests"].Used != 0 {
		t.Errorf("expected reset then one use, got %+v", st.Features)
	}
	if want := f.schedule.ComputeNextReset(now); !st.ResetAt.Equal(want) {
		t.Errorf("expected reset at %v, got %v", want, st.ResetAt)
	}
}

func TestManager_TierChange(t *testing.T) {
	f := newFixture(t, storage.NewMemoryStore(), false)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := f.manager.Consume(ctx, "u1", "chapterTests", WithTier("free")); err != nil {
			t.Fatalf("Consume failed: %v", err)
		}
	}
	if _, err := f.manager.Consume(ctx, "u1", "chapterTests", WithTier("free")); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded on free, got %v", err)
	}

	st, err := f.manager.Consume(ctx, "u1", "chapterTests", WithTier("gold"))
	if err != nil {
		t.Fatalf("Consume after upgrade failed: %v", err)
	}
	ct := st.Features["chapterTests"]
	if st.Tier != "gold" || ct.Used != 4 || ct.Limit != 100 {
		t.Errorf("expected usage kept across tier change, got tier=%s %+v", st.Tier, ct)
	}

	rec, _ := f.store.Find(ctx, "u1")
	if rec.Tier != "gold" {
		t.Errorf("expected tier persisted, got %s", rec.Tier)
	}
}

func TestManager_ServiceUnavailable(t *testing.T) {
	store := &flakyStore{Store: storage.NewMemoryStore()}
	f := newFixture(t, store, false)
	ctx := context.Background()

	if _, err := f.manager.Consume(ctx, "u1", "questions"); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}

	store.down.Store(true)

	_, err := f.manager.Consume(ctx, "u1", "questions")
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}
	if errors.Is(err, errDown) {
		t.Error("raw store error leaked to caller")
	}

	f.manager.local.Purge()
	st, err := f.manager.GetStatus(ctx, "u1")
	if err != nil {
		t.Fatalf("expected stale status, got %v", err)
	}
	if !st.Stale || st.Features["questions"].Used != 1 {
		t.Errorf("expected stale snapshot with used 1, got %+v", st)
	}

	if _, err := f.manager.GetStatus(ctx, "never-seen"); !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable without snapshot, got %v", err)
	}
}

func TestManager_ReadFromCache(t *testing.T) {
	store := &flakyStore{Store: storage.NewMemoryStore()}
	f := newFixture(t, store, false)
	ctx := context.Background()

	if _, err := f.manager.Consume(ctx, "u1", "questions"); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}

	store.down.Store(true)
	st, err := f.manager.GetStatus(ctx, "u1")
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if st.Stale || st.Features["questions"].Used != 1 {
		t.Errorf("expected fresh cached status, got %+v", st)
	}
}

func TestManager_Invalidate(t *testing.T) {
	f := newFixture(t, storage.NewMemoryStore(), false)
	ctx := context.Background()

	f.manager.Consume(ctx, "u1", "questions")
	if !f.manager.local.Fresh("u1") {
		t.Fatal("expected local entry after consume")
	}

	f.manager.Invalidate(ctx, "u1")
	if f.manager.local.Fresh("u1") {
		t.Error("expected local entry to be dropped")
	}
	if rec := f.manager.readSnapshot(ctx, "u1"); rec != nil {
		t.Error("expected snapshot to be dropped")
	}
}

func TestManager_ConcurrentConsume(t *testing.T) {
	const (
		limit   = 20
		callers = 16
	)

	tests := []struct {
		name        string
		store       func() storage.Store
		soft        bool
		exact       bool
		maxOvershot int64
	}{
		{
			name:  "conditional increment",
			store: func() storage.Store { return storage.NewMemoryStore() },
			exact: true,
		},
		{
			name:        "check then increment",
			store:       func() storage.Store { return plainStore{storage.NewMemoryStore()} },
			maxOvershot: callers - 1,
		},
		{
			name:        "soft limits",
			store:       func() storage.Store { return storage.NewMemoryStore() },
			soft:        true,
			maxOvershot: callers - 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := tt.store()
			f := newFixture(t, store, tt.soft)
			ctx := context.Background()

			err := store.Upsert(ctx, &storage.Record{
				SubjectID: "u1",
				Tier:      "free",
				Usage:     map[string]int64{"questions": limit - 1},
				ResetAt:   f.schedule.ComputeNextReset(f.clock.Now()),
			})
			if err != nil {
				t.Fatalf("Upsert failed: %v", err)
			}

			var (
				wg        sync.WaitGroup
				successes atomic.Int64
			)
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := f.manager.Consume(ctx, "u1", "questions")
					switch {
					case err == nil:
						successes.Add(1)
					case errors.Is(err, ErrQuotaExceeded):
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}()
			}
			wg.Wait()

			rec, _ := store.Find(ctx, "u1")
			used := rec.Used("questions")
			if used < limit || used > limit+tt.maxOvershot {
				t.Fatalf("expected used in [%d, %d], got %d", limit, limit+tt.maxOvershot, used)
			}
			if tt.exact {
				if used != limit {
					t.Errorf("expected exactly %d, got %d", limit, used)
				}
				if successes.Load() != 1 {
					t.Errorf("expected one success, got %d", successes.Load())
				}
			}
			if got := successes.Load(); got != used-(limit-1) {
				t.Errorf("expected successes to match increments, got %d successes for used %d", got, used)
			}
		})
	}
}

func TestManager_RaceOvercountMetric(t *testing.T) {
	const limit = 20

	inner := storage.NewMemoryStore()
	f := newFixture(t, lateCommitStore{Store: inner, used: limit - 1}, false)
	ctx := context.Background()

	err := inner.Upsert(ctx, &storage.Record{
		SubjectID: "u1",
		Tier:      "free",
		Usage:     map[string]int64{"questions": limit - 1, "chapterTests": 0},
		ResetAt:   f.schedule.ComputeNextReset(f.clock.Now()),
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	for i := 0; i < 4; i++ {
		if _, err := f.manager.Consume(ctx, "u1", "questions"); err != nil {
			t.Fatalf("Consume %d failed: %v", i, err)
		}
	}

	rec, _ := inner.Find(ctx, "u1")
	if got := rec.Used("questions"); got != limit+3 {
		t.Fatalf("expected used %d, got %d", limit+3, got)
	}

	expected := `
# HELP test_quota_race_overcount_total Units consumed beyond the limit by concurrent check-then-increment
# TYPE test_quota_race_overcount_total counter
test_quota_race_overcount_total{feature="questions"} 3
`
	if err := testutil.GatherAndCompare(f.registry, strings.NewReader(expected), "test_quota_race_overcount_total"); err != nil {
		t.Errorf("unexpected overcount metric: %v", err)
	}
}

func TestManager_SweepAgreesWithLazyReset(t *testing.T) {
	store := storage.NewMemoryStore()
	f := newFixture(t, store, false)
	ctx := context.Background()
	now := f.clock.Now()

	for _, id := range []string{"lazy", "swept"} {
		store.Upsert(ctx, &storage.Record{
			SubjectID: id,
			Tier:      "free",
			Usage:     map[string]int64{"questions": 5},
			ResetAt:   now.Add(-time.Minute),
		})
	}

	sweeper := reset.NewSweeper(store, f.schedule, reset.WithInvalidator(f.manager))
	if _, err := sweeper.SweepAll(ctx, now); err != nil {
		t.Fatalf("SweepAll failed: %v", err)
	}
	swept, _ := store.Find(ctx, "swept")

	store.Upsert(ctx, &storage.Record{
		SubjectID: "lazy",
		Tier:      "free",
		Usage:     map[string]int64{"questions": 5},
		ResetAt:   now.Add(-time.Minute),
	})
	st, err := f.manager.GetStatus(ctx, "lazy")
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}

	if !st.ResetAt.Equal(swept.ResetAt) {
		t.Errorf("lazy reset %v disagrees with sweep %v", st.ResetAt, swept.ResetAt)
	}
}
