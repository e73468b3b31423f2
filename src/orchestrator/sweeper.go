package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// Sweeper drives the recurring orchestration sweep: on each tick it fans
// out one pass per enabled account, bounded by the worker pool semaphore so
// outbound exchange traffic stays capped.
type Sweeper struct {
	logger *logrus.Entry
	engine *Engine
	cron   *cron.Cron
	sem    *semaphore.Weighted
	cfg    Config
}

func NewSweeper(logger *logrus.Entry, engine *Engine, cfg Config) *Sweeper {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Sweeper{
		logger: logger,
		engine: engine,
		cron:   cron.New(),
		sem:    semaphore.NewWeighted(cfg.WorkerPoolSize),
		cfg:    cfg,
	}
}

// Start registers the sweep schedule and starts the cron loop.
func (s *Sweeper) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.cfg.SweepSchedule, func() { s.Sweep(ctx) }); err != nil {
		return fmt.Errorf("failed to register sweep schedule: %w", err)
	}

	s.cron.Start()
	s.logger.WithField("schedule", s.cfg.SweepSchedule).Info("Sweep scheduler started")
	return nil
}

// Stop halts the scheduler and waits for the running sweep callbacks to
// return. Passes already in flight finish on their own deadlines.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("Sweep scheduler stopped")
}

// Sweep runs one pass per enabled account. An account whose coordinator
// lease is held is skipped for this sweep; an account failure never touches
// the other accounts.
func (s *Sweeper) Sweep(ctx context.Context) {
	accounts, err := s.engine.EnabledAccounts(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list enabled accounts, skipping sweep")
		return
	}

	s.logger.WithField("accounts", len(accounts)).Debug("Sweep tick")

	for _, cfg := range accounts {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			// Shutdown while waiting for a worker slot.
			return
		}

		go func(accountID uint) {
			defer s.sem.Release(1)

			passCtx, cancel := context.WithTimeout(ctx, s.cfg.PassDeadline)
			defer cancel()

			result, err := s.engine.RunPass(passCtx, accountID)
			switch {
			case errors.Is(err, ErrAccountBusy):
				s.logger.WithField("accountID", accountID).Debug("Sweep pass skipped, account busy")
			case err != nil:
				s.logger.WithError(err).WithField("accountID", accountID).Error("Sweep pass failed")
			default:
				s.logger.WithFields(logrus.Fields{
					"accountID":  accountID,
					"candidates": result.Candidates,
					"submitted":  result.Submitted,
					"failed":     result.Failed,
					"conflicts":  result.Conflicts,
					"skipped":    result.Skipped,
				}).Info("Sweep pass completed")
			}
		}(cfg.AccountID)
	}
}
