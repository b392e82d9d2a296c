// Package reset computes daily quota reset instants and sweeps due records.
//
// # Schedule
//
// A Schedule resets quotas once a day at a target hour in a fixed UTC
// offset. ComputeNextReset is a pure function; the lazy reset in the quota
// manager and the background sweep both use it, so they agree on the next
// reset for the same now.
//
//	schedule, _ := reset.NewSchedule(4, 0)
//	schedule.ComputeNextReset(time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC))
//	// 2026-03-01 04:00:00 UTC
//
// # Sweeps
//
// A Sweeper resets every record whose reset time has passed. A Scheduler
// runs it on a cron expression:
//
//	sweeper := reset.NewSweeper(store, schedule, reset.WithInvalidator(manager))
//	scheduler := reset.NewScheduler(sweeper, "*/10 * * * *")
//	if err := scheduler.Start(ctx); err != nil {
//	    return err
//	}
//	defer scheduler.Stop()
package reset
