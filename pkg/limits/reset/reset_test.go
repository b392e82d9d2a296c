package reset

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"mercator-hq/tollgate/pkg/limits/storage"
)

func mustSchedule(t *testing.T, hour, offset int) *Schedule {
	t.Helper()
	s, err := NewSchedule(hour, offset)
	if err != nil {
		t.Fatalf("NewSchedule failed: %v", err)
	}
	return s
}

func TestComputeNextReset(t *testing.T) {
	day := func(d, h, m int, loc *time.Location) time.Time {
		return time.Date(2026, 3, d, h, m, 0, 0, loc)
	}
	ist := time.FixedZone("IST", 330*60)

	tests := []struct {
		name   string
		hour   int
		offset int
		ref    time.Time
		want   time.Time
	}{
		{"before target hour", 4, 0, day(10, 3, 0, time.UTC), day(10, 4, 0, time.UTC)},
		{"after target hour", 4, 0, day(10, 4, 30, time.UTC), day(11, 4, 0, time.UTC)},
		{"exactly at target hour", 4, 0, day(10, 4, 0, time.UTC), day(11, 4, 0, time.UTC)},
		{"one nanosecond before", 4, 0, day(10, 4, 0, time.UTC).Add(-time.Nanosecond), day(10, 4, 0, time.UTC)},
		{"midnight reset", 0, 0, day(10, 23, 59, time.UTC), day(11, 0, 0, time.UTC)},
		{"positive offset", 4, 330, day(10, 22, 0, time.UTC), day(11, 4, 0, ist).UTC()},
		{"negative offset crosses utc day", 4, -300, day(10, 8, 0, time.UTC), day(10, 9, 0, time.UTC)},
		{"month rollover", 4, 0, time.Date(2026, 3, 31, 5, 0, 0, 0, time.UTC), time.Date(2026, 4, 1, 4, 0, 0, 0, time.UTC)},
		{"non-utc reference", 4, 0, day(10, 3, 0, ist), day(10, 4, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := mustSchedule(t, tt.hour, tt.offset)
			got := s.ComputeNextReset(tt.ref)
			if !got.Equal(tt.want) {
				t.Errorf("ComputeNextReset(%v) = %v, want %v", tt.ref, got, tt.want)
			}
			if got.Location() != time.UTC {
				t.Errorf("expected UTC result, got %v", got.Location())
			}
			if !got.After(tt.ref) {
				t.Errorf("expected reset after reference")
			}
			if again := s.ComputeNextReset(tt.ref); !again.Equal(got) {
				t.Errorf("expected deterministic result, got %v then %v", got, again)
			}
		})
	}
}

func TestNewSchedule_Invalid(t *testing.T) {
	tests := []struct {
		hour, offset int
	}{
		{-1, 0},
		{24, 0},
		{4, -721},
		{4, 841},
	}

	for _, tt := range tests {
		if _, err := NewSchedule(tt.hour, tt.offset); !errors.Is(err, ErrInvalidSchedule) {
			t.Errorf("NewSchedule(%d, %d): expected ErrInvalidSchedule, got %v", tt.hour, tt.offset, err)
		}
	}
}

func TestNeedsReset(t *testing.T) {
	resetAt := time.Date(2026, 3, 10, 4, 0, 0, 0, time.UTC)

	if NeedsReset(resetAt, resetAt.Add(-time.Second)) {
		t.Error("expected no reset before resetAt")
	}
	if !NeedsReset(resetAt, resetAt) {
		t.Error("expected reset at resetAt")
	}
	if !NeedsReset(resetAt, resetAt.Add(time.Hour)) {
		t.Error("expected reset after resetAt")
	}
}

type recordingInvalidator struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, ids ...string) {
	r.mu.Lock()
	r.ids = append(r.ids, ids...)
	r.mu.Unlock()
}

func seed(t *testing.T, store storage.Store, id string, resetAt time.Time, used int64) {
	t.Helper()
	err := store.Upsert(context.Background(), &storage.Record{
		SubjectID: id,
		Tier:      "free",
		Usage:     map[string]int64{"queries": used},
		ResetAt:   resetAt,
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
}

func TestSweeper_SweepAll(t *testing.T) {
	store := storage.NewMemoryStore()
	schedule := mustSchedule(t, 4, 0)
	inv := &recordingInvalidator{}
	sweeper := NewSweeper(store, schedule, WithInvalidator(inv))

	now := time.Date(2026, 3, 10, 4, 30, 0, 0, time.UTC)
	seed(t, store, "due-1", now.Add(-30*time.Minute), 20)
	seed(t, store, "due-2", now.Add(-24*time.Hour), 3)
	seed(t, store, "fresh", now.Add(23*time.Hour), 7)

	result, err := sweeper.SweepAll(context.Background(), now)
	if err != nil {
		t.Fatalf("SweepAll failed: %v", err)
	}
	if result.ResetCount != 2 {
		t.Fatalf("expected 2 resets, got %d", result.ResetCount)
	}
	if result.RunID == "" {
		t.Error("expected run id")
	}
	want := time.Date(2026, 3, 11, 4, 0, 0, 0, time.UTC)
	if !result.NextReset.Equal(want) {
		t.Errorf("expected next reset %v, got %v", want, result.NextReset)
	}

	sort.Strings(inv.ids)
	if len(inv.ids) != 2 || inv.ids[0] != "due-1" || inv.ids[1] != "due-2" {
		t.Errorf("expected caches of reset subjects to be invalidated, got %v", inv.ids)
	}

	rec, _ := store.Find(context.Background(), "due-1")
	if rec.Used("queries") != 0 || !rec.ResetAt.Equal(want) {
		t.Errorf("expected reset record, got %+v", rec)
	}
	rec, _ = store.Find(context.Background(), "fresh")
	if rec.Used("queries") != 7 {
		t.Errorf("expected fresh record untouched, got %+v", rec)
	}

	again, err := sweeper.SweepAll(context.Background(), now)
	if err != nil {
		t.Fatalf("SweepAll failed: %v", err)
	}
	if again.ResetCount != 0 {
		t.Errorf("expected idempotent second sweep, got %d resets", again.ResetCount)
	}
}

func TestSweeper_ConcurrentInstances(t *testing.T) {
	store := storage.NewMemoryStore()
	schedule := mustSchedule(t, 4, 0)
	now := time.Date(2026, 3, 10, 5, 0, 0, 0, time.UTC)

	for _, id := range []string{"a", "b", "c", "d"} {
		seed(t, store, id, now.Add(-time.Minute), 5)
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := NewSweeper(store, schedule).SweepAll(context.Background(), now)
			if err != nil {
				t.Errorf("SweepAll failed: %v", err)
				return
			}
			mu.Lock()
			total += res.ResetCount
			mu.Unlock()
		}()
	}
	wg.Wait()

	if total != 4 {
		t.Errorf("expected each record reset exactly once, got %d resets", total)
	}
}

func TestScheduler_Start(t *testing.T) {
	tests := []struct {
		name        string
		spec        string
		wantRunning bool
		wantError   bool
	}{
		{"every ten minutes", "*/10 * * * *", true, false},
		{"daily", "5 4 * * *", true, false},
		{"invalid", "invalid cron", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.NewMemoryStore()
			sweeper := NewSweeper(store, mustSchedule(t, 4, 0))
			scheduler := NewScheduler(sweeper, tt.spec)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			err := scheduler.Start(ctx)
			if (err != nil) != tt.wantError {
				t.Fatalf("Start() error = %v, wantError %v", err, tt.wantError)
			}
			if scheduler.IsRunning() != tt.wantRunning {
				t.Errorf("IsRunning() = %v, want %v", scheduler.IsRunning(), tt.wantRunning)
			}

			if tt.wantRunning {
				next := scheduler.NextRun()
				if next == nil {
					t.Fatal("NextRun() returned nil for running scheduler")
				}
				if !next.After(time.Now()) {
					t.Errorf("NextRun() = %v, expected a future time", next)
				}
				scheduler.Stop()
				if scheduler.IsRunning() {
					t.Error("expected scheduler to stop")
				}
			}
		})
	}
}

func TestScheduler_InitialSweep(t *testing.T) {
	store := storage.NewMemoryStore()
	now := time.Date(2026, 3, 10, 5, 0, 0, 0, time.UTC)
	seed(t, store, "due", now.Add(-time.Hour), 9)

	sweeper := NewSweeper(store, mustSchedule(t, 4, 0), WithClock(func() time.Time { return now }))
	scheduler := NewScheduler(sweeper, "0 4 * * *")

	if err := scheduler.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	scheduler.Stop()

	rec, _ := store.Find(context.Background(), "due")
	if rec.Used("queries") != 0 {
		t.Errorf("expected initial sweep to reset due record, got %d", rec.Used("queries"))
	}
}

func TestScheduler_Restart(t *testing.T) {
	sweeper := NewSweeper(storage.NewMemoryStore(), mustSchedule(t, 4, 0))
	scheduler := NewScheduler(sweeper, "*/10 * * * *")
	ctx := context.Background()

	if scheduler.NextRun() != nil {
		t.Error("expected no next run before Start")
	}

	for i := 0; i < 3; i++ {
		if err := scheduler.Start(ctx); err != nil {
			t.Fatalf("Start %d failed: %v", i, err)
		}
		if n := len(scheduler.cron.Entries()); n != 1 {
			t.Fatalf("expected 1 cron entry after start %d, got %d", i, n)
		}
		if scheduler.NextRun() == nil {
			t.Errorf("expected next run after start %d", i)
		}
		scheduler.Stop()
		if scheduler.IsRunning() {
			t.Fatalf("expected scheduler stopped after cycle %d", i)
		}
	}
}
