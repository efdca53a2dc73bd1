// Package scheduler drives the billing-period monitor on its configured
// cadence (config.MonitorConfig.Cadence), using a time.NewTicker loop
// (internal/service/onboarding.go's generateEvents) for the default
// path, with an optional Temporal-backed cron schedule
// (internal/temporal/workflows/billing_workflow.go) for deployments
// that run a Temporal cluster.
package scheduler

import (
	"context"
	"time"

	"github.com/ridgeline/meterbill/internal/config"
	"github.com/ridgeline/meterbill/internal/logger"
	"github.com/ridgeline/meterbill/internal/monitor"
)

// Scheduler runs the monitor's tick on the configured cadence until its
// context is cancelled.
type Scheduler struct {
	monitor *monitor.Monitor
	cfg     config.MonitorConfig
	logger  *logger.Logger
}

func New(m *monitor.Monitor, cfg config.MonitorConfig, log *logger.Logger) *Scheduler {
	return &Scheduler{monitor: m, cfg: cfg, logger: log}
}

// Run blocks, firing Tick on every cadence interval, until ctx is
// cancelled. Cancellation takes effect at the next subscription
// boundary inside the in-flight tick, never mid-write.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Cadence)
	defer ticker.Stop()

	s.logger.Infow("billing-period monitor scheduler started", "cadence", s.cfg.Cadence)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("billing-period monitor scheduler stopping")
			return
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

func (s *Scheduler) runTick(ctx context.Context) {
	tickCtx, cancel := context.WithTimeout(ctx, s.cfg.Cadence)
	defer cancel()

	if _, err := s.monitor.Tick(tickCtx); err != nil {
		s.logger.Errorw("billing-period monitor tick aborted", "error", err)
	}
}
