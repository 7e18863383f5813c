// Package scheduler runs recurring price syncs in the background
package scheduler

import (
	"context"
	"time"

	businessflow "github.com/amirphl/metal-price-sync/business_flow"
	"github.com/amirphl/metal-price-sync/models"
	"github.com/amirphl/metal-price-sync/utils"
	"go.uber.org/zap"
)

// PriceRunner is the part of the price sync flow the scheduler needs.
type PriceRunner interface {
	Run(ctx context.Context, in businessflow.RunInput) (*models.RunReport, error)
}

// PriceScheduler triggers a price run every interval. Runs never overlap:
// the flow's run lock rejects a tick while another run holds it.
type PriceScheduler struct {
	runner     PriceRunner
	template   businessflow.RunInput
	interval   time.Duration
	runAtStart bool
	logger     *zap.Logger
}

func NewPriceScheduler(runner PriceRunner, template businessflow.RunInput, interval time.Duration, runAtStart bool, logger *zap.Logger) *PriceScheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	template.Trigger = utils.TriggerScheduler
	return &PriceScheduler{
		runner:     runner,
		template:   template,
		interval:   interval,
		runAtStart: runAtStart,
		logger:     logger.With(zap.String("component", "scheduler")),
	}
}

// Start launches the loop. The returned func stops it and waits for the
// in-flight run, if any, to return.
func (s *PriceScheduler) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("scheduler started", zap.Duration("interval", s.interval))
		if s.runAtStart {
			s.runOnce(ctx)
		}

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("scheduler stopped")
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func (s *PriceScheduler) runOnce(ctx context.Context) {
	report, err := s.runner.Run(ctx, s.template)
	switch {
	case businessflow.IsRunInProgress(err):
		s.logger.Info("skipping tick, a price run is already in progress")
		return
	case report == nil && err != nil:
		s.logger.Error("scheduled price run failed to start", zap.Error(err))
		return
	}

	fields := []zap.Field{
		zap.String("run_id", report.RunID.String()),
		zap.String("outcome", string(report.Outcome())),
		zap.Int("variants_updated", report.Counters.VariantsUpdated),
		zap.Int("variants_failed", report.Counters.VariantsFailed),
		zap.Int("products_failed", report.Counters.ProductsFailed),
		zap.String("summary", report.Summary()),
	}
	if err != nil {
		s.logger.Error("scheduled price run aborted", append(fields, zap.Error(err))...)
		return
	}
	s.logger.Info("scheduled price run finished", fields...)
}
