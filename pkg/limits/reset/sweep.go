package reset

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/tollgate/pkg/limits/storage"
	"mercator-hq/tollgate/pkg/telemetry/metrics"
)

const tracerName = "mercator-hq/tollgate/pkg/limits/reset"

// Invalidator drops cached quota state of subjects after a reset.
type Invalidator interface {
	Invalidate(ctx context.Context, subjectIDs ...string)
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	// RunID identifies the sweep in logs.
	RunID string `json:"run_id"`

	// ResetCount is the number of records this sweep reset.
	ResetCount int `json:"reset_count"`

	// Subjects lists the reset subjects.
	Subjects []string `json:"subjects,omitempty"`

	// NextReset is the reset instant written to every reset record.
	NextReset time.Time `json:"next_reset"`

	// Duration is how long the sweep took.
	Duration time.Duration `json:"duration"`
}

// Sweeper resets every due quota record in one pass. It is the backstop to
// the lazy reset performed on read and shares its Schedule, so both paths
// write the same next reset for the same now.
type Sweeper struct {
	store       storage.Store
	schedule    *Schedule
	invalidator Invalidator
	metrics     *metrics.Collector
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithInvalidator drops caches of reset subjects.
func WithInvalidator(inv Invalidator) SweeperOption {
	return func(s *Sweeper) { s.invalidator = inv }
}

// WithMetrics records sweeps in c.
func WithMetrics(c *metrics.Collector) SweeperOption {
	return func(s *Sweeper) { s.metrics = c }
}

// WithClock overrides the time source used by scheduled sweeps.
func WithClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) { s.now = now }
}

// NewSweeper creates a sweeper over store.
func NewSweeper(store storage.Store, schedule *Schedule, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		store:    store,
		schedule: schedule,
		logger:   slog.Default().With("component", "limits.reset"),
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SweepAll resets every record whose reset time is at or before now. The
// store conditions each record's update on that at write time, so running
// SweepAll concurrently on many instances never resets a record twice.
func (s *Sweeper) SweepAll(ctx context.Context, now time.Time) (*SweepResult, error) {
	ctx, span := s.tracer.Start(ctx, "quota.sweep_all")
	defer span.End()

	start := time.Now()
	result := &SweepResult{
		RunID:     uuid.NewString(),
		NextReset: s.schedule.ComputeNextReset(now),
	}

	ids, err := s.store.ResetDue(ctx, now, result.NextReset)
	result.Subjects = ids
	result.ResetCount = len(ids)
	result.Duration = time.Since(start)

	if len(ids) > 0 && s.invalidator != nil {
		s.invalidator.Invalidate(ctx, ids...)
	}
	s.metrics.RecordReset("sweep", len(ids))
	s.metrics.RecordSweep(result.Duration, err)

	span.SetAttributes(
		attribute.String("sweep.run_id", result.RunID),
		attribute.Int("sweep.reset_count", result.ResetCount),
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sweep failed")
		s.logger.Error("quota sweep failed",
			"run_id", result.RunID,
			"reset_count", result.ResetCount,
			"error", err,
		)
		return result, fmt.Errorf("quota sweep: %w", err)
	}

	if result.ResetCount > 0 {
		s.logger.Info("quota sweep completed",
			"run_id", result.RunID,
			"reset_count", result.ResetCount,
			"next_reset", result.NextReset,
			"duration", result.Duration,
		)
	} else {
		s.logger.Debug("quota sweep completed, nothing due", "run_id", result.RunID)
	}
	return result, nil
}

// Sweep runs SweepAll at the sweeper's current time.
func (s *Sweeper) Sweep(ctx context.Context) (*SweepResult, error) {
	return s.SweepAll(ctx, s.now())
}

// Schedule returns the sweeper's reset schedule.
func (s *Sweeper) Schedule() *Schedule {
	return s.schedule
}
