/**
 * @description
 * Cron scheduler for the periodic bank feed sync.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// BankSyncEnqueuer is implemented by Service.
type BankSyncEnqueuer interface {
	EnqueueBankSyncs(ctx context.Context) (int, error)
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron     *cron.Cron
	enqueuer BankSyncEnqueuer
	logger   *slog.Logger
	schedule string
	timeout  time.Duration
}

// NewScheduler creates a new scheduler instance. An empty schedule disables the job.
func NewScheduler(enqueuer BankSyncEnqueuer, logger *slog.Logger, schedule string) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:     c,
		enqueuer: enqueuer,
		logger:   logger,
		schedule: schedule,
		timeout:  10 * time.Minute,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if s.schedule == "" {
		s.logger.Info("bank sync job disabled")
		return nil
	}
	if _, err := s.cron.AddFunc(s.schedule, s.RunBankSync); err != nil {
		s.logger.Error("failed to schedule bank sync job", "error", err)
		return err
	}
	s.logger.Info("scheduled bank sync job", "schedule", s.schedule)

	s.cron.Start()
	return nil
}

// RunBankSync enqueues a sync for every linked account.
func (s *Scheduler) RunBankSync() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	started := time.Now()
	enqueued, err := s.enqueuer.EnqueueBankSyncs(ctx)
	if err != nil {
		s.logger.Error("bank sync job failed", "error", err)
		return
	}
	s.logger.Info("bank sync job finished", "enqueued", enqueued, "duration", time.Since(started))
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
