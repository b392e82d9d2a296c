package reset

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs SweepAll on a cron schedule, independent of traffic.
// It is safe to run one Scheduler per instance.
type Scheduler struct {
	sweeper *Sweeper
	spec    string
	cron    *cron.Cron
	mu      sync.Mutex
	logger  *slog.Logger
	running bool
	stopped chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler running sweeper on spec, a standard
// five-field cron expression evaluated in the reset schedule's zone.
func NewScheduler(sweeper *Sweeper, spec string) *Scheduler {
	return &Scheduler{
		sweeper: sweeper,
		spec:    spec,
		logger:  slog.Default().With("component", "limits.reset.scheduler"),
	}
}

// Start registers the sweep and runs one immediately in the background.
// A stopped scheduler can be started again; each start gets a fresh cron.
//
// Common cron expressions:
//   - "*/10 * * * *" - Every 10 minutes
//   - "0 * * * *"    - Hourly
//   - "5 4 * * *"    - Daily, shortly after a 04:00 reset
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	if _, err := cron.ParseStandard(s.spec); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.spec, err)
	}

	c := cron.New(cron.WithLocation(s.sweeper.schedule.Location()))
	if _, err := c.AddFunc(s.spec, func() { s.runSweep(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	s.cron = c
	s.cron.Start()
	s.running = true
	stopped := make(chan struct{})
	s.stopped = stopped

	s.logger.Info("reset scheduler started",
		"schedule", s.spec,
		"reset_hour", s.sweeper.schedule.Hour(),
		"utc_offset_minutes", s.sweeper.schedule.UTCOffsetMinutes(),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runSweep(ctx)
	}()

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopped:
		}
	}()

	return nil
}

// runSweep executes a sweep cycle. Errors are logged by the sweeper.
func (s *Scheduler) runSweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	_, _ = s.sweeper.Sweep(ctx)
}

// Stop stops the scheduler and waits for any running sweep to complete.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	done := s.cron.Stop()
	<-done.Done()
	s.wg.Wait()
	close(s.stopped)
	s.running = false
	s.logger.Info("reset scheduler stopped")
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// NextRun returns the next scheduled sweep time.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return nil
	}
	entries := s.cron.Entries()
	if len(entries) == 0 || entries[0].Next.IsZero() {
		return nil
	}

	next := entries[0].Next
	return &next
}
