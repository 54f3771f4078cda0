package service

import (
	"context"
	"fmt"
	"time"

	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/pkg/logger"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler runs the reconciliation sweep on a cron schedule.
type Scheduler struct {
	cron     *cron.Cron
	recon    ports.ReconciliationService
	schedule string
	timeout  time.Duration
	log      zerolog.Logger
}

// NewScheduler creates a scheduler. Each sweep gets at most timeout to finish.
func NewScheduler(recon ports.ReconciliationService, schedule string, timeout time.Duration, log zerolog.Logger) *Scheduler {
	cronLogger := logger.NewCronLogger(log)
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger),
		cron.SkipIfStillRunning(cronLogger),
	))

	return &Scheduler{
		cron:     c,
		recon:    recon,
		schedule: schedule,
		timeout:  timeout,
		log:      log,
	}
}

// Start registers the sweep job and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.runSweep); err != nil {
		return fmt.Errorf("scheduling reconciliation sweep %q: %w", s.schedule, err)
	}
	s.log.Info().Str("schedule", s.schedule).Msg("scheduled reconciliation sweep")
	s.cron.Start()
	return nil
}

// Stop stops scheduling; the returned context is done when running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.recon.Sweep(ctx); err != nil {
		s.log.Error().Err(err).Msg("reconciliation sweep failed")
	}
}
