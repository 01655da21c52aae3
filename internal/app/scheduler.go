/**
 * @description
 * Cron scheduler setup for the externally scheduled run mode. Instead of the
 * deadline monitoring loop, a cron expression drives independent
 * check-and-transfer cycles, for deployments where an external scheduler owns
 * the cadence.
 */

package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs check-and-transfer cycles on a cron schedule.
type Scheduler struct {
	cron     *cron.Cron
	runner   CycleRunner
	lock     TriggerLock
	logger   *slog.Logger
	schedule string
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(runner CycleRunner, lock TriggerLock, logger *slog.Logger, schedule string) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:     c,
		runner:   runner,
		lock:     lock,
		logger:   logger,
		schedule: schedule,
	}
}

// Start registers the check job and starts the cron scheduler. The context
// is propagated into every scheduled cycle, so cancelling it aborts an
// in-flight check during shutdown.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.schedule, func() { s.RunScheduledCheck(ctx) }); err != nil {
		s.logger.Error("failed to schedule transfer check job", "schedule", s.schedule, "error", err)
		return err
	}
	s.logger.Info("scheduled transfer check job", "schedule", s.schedule)

	s.cron.Start()
	return nil
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RunScheduledCheck executes a single check-and-transfer cycle. Overlapping
// runs are skipped via the trigger lock; a cycle can poll for up to ten
// minutes, longer than most sensible schedules.
func (s *Scheduler) RunScheduledCheck(ctx context.Context) {
	s.logger.Info("starting scheduled transfer check")

	acquired, err := s.lock.TryAcquire(ctx, TransferSlotKey)
	if err != nil {
		s.logger.Error("failed to acquire transfer lock", "error", err)
		return
	}
	if !acquired {
		s.logger.Info("previous transfer check still running, skipping")
		return
	}
	defer func() {
		// Release with a fresh context so a cancelled cycle still frees
		// the slot.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.lock.Release(releaseCtx, TransferSlotKey); err != nil {
			s.logger.Warn("failed to release transfer lock", "error", err)
		}
	}()

	session, err := s.runner.Authenticate(ctx)
	if err != nil {
		s.logger.Error("scheduled check authentication failed", "error", err)
		return
	}

	if err := s.runner.CheckAndTransfer(ctx, session); err != nil {
		s.logger.Info("scheduled transfer check finished without transfer", "error", err)
		return
	}
	s.logger.Info("scheduled transfer check completed a transfer")
}
