// Package scheduler runs periodic snapshot refreshes on a cron spec.
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"portfolio-sentinel/internal/logger"
	"portfolio-sentinel/internal/types"
)

// Refresher triggers a fresh fetch generation. Satisfied by engine.Engine.
type Refresher interface {
	Refresh(ctx context.Context) (types.Snapshot, error)
	Busy() bool
}

// Scheduler owns the cron runner.
type Scheduler struct {
	cron *cron.Cron
	eng  Refresher
}

// New creates a scheduler over the standard 5-field cron format.
func New(eng Refresher) *Scheduler {
	return &Scheduler{cron: cron.New(), eng: eng}
}

// Register adds the periodic refresh task. An empty spec disables it.
func (s *Scheduler) Register(refreshCron string) error {
	if refreshCron == "" {
		return nil
	}
	if _, err := s.cron.AddFunc(refreshCron, s.refreshTask); err != nil {
		return fmt.Errorf("register refresh task: %w", err)
	}
	return nil
}

// Start begins firing registered tasks.
func (s *Scheduler) Start() {
	s.cron.Start()
	logger.Info(context.Background(), "scheduler started")
}

// Stop stops the cron runner; running tasks finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	logger.Info(context.Background(), "scheduler stopped")
}

// refreshTask skips the tick when a generation is already in flight; the
// running fetch will publish fresher data than a superseding one would.
func (s *Scheduler) refreshTask() {
	ctx := context.Background()
	if s.eng.Busy() {
		logger.Debug(ctx, "scheduled refresh skipped, fetch in flight")
		return
	}
	if _, err := s.eng.Refresh(ctx); err != nil {
		logger.ErrorWithErr(ctx, "scheduled refresh failed", err)
	}
}
