package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/lusis-developers/bakano-billing/adapters/metrics"
	"github.com/lusis-developers/bakano-billing/domain/subscription"
	"github.com/lusis-developers/bakano-billing/ports"
)

// Sweeper finalizes subscriptions whose cancel-at-period-end flag has come
// due. It is the scheduled collaborator the lifecycle deliberately leaves
// expiration to: reads report IsExpired without changing state, and the
// sweep performs the actual transition through the same cancel primitive.
//
// Runs are idempotent. A subscription finalized by one run no longer
// surfaces as due, and an entry that was canceled or replaced by a fresh
// start since the listing produces ErrNoActiveSubscription, which the sweep
// treats as an expected outcome rather than an operational error.
type Sweeper struct {
	lifecycle *LifecycleService
	store     ports.LedgerStore
	clock     ports.Clock
	logger    zerolog.Logger
	metrics   *metrics.Collector // optional

	cron *cron.Cron
}

// NewSweeper creates a new period-end sweeper. The metrics collector may be
// nil.
func NewSweeper(
	lifecycle *LifecycleService,
	store ports.LedgerStore,
	clock ports.Clock,
	logger zerolog.Logger,
	collector *metrics.Collector,
) *Sweeper {
	return &Sweeper{
		lifecycle: lifecycle,
		store:     store,
		clock:     clock,
		logger:    logger,
		metrics:   collector,
	}
}

// Start schedules the sweep with a cron spec (e.g. "@every 1h").
func (s *Sweeper) Start(schedule string) error {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if _, err := s.RunOnce(context.Background()); err != nil {
			s.logger.Error().Err(err).Msg("period-end sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	c.Start()
	s.cron = c
	s.logger.Info().Str("schedule", schedule).Msg("period-end sweeper started")
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
}

// RunOnce performs a single sweep and returns the number of subscriptions
// finalized.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	if s.metrics != nil {
		s.metrics.SweepRuns.Inc()
	}

	now := s.clock.Now().UTC()
	due, err := s.store.DueForCancellation(ctx, now)
	if err != nil {
		if s.metrics != nil {
			s.metrics.SweepErrors.Inc()
		}
		return 0, fmt.Errorf("list due subscriptions: %w", err)
	}

	finalized := 0
	for _, sub := range due {
		err := s.lifecycle.FinalizeDue(ctx, sub.AccountID, sub.ID)
		switch {
		case err == nil:
			finalized++
			if s.metrics != nil {
				s.metrics.SweepFinalized.Inc()
			}
		case errors.Is(err, subscription.ErrNoActiveSubscription):
			// Finalized, canceled, or replaced by a fresh start between the
			// listing and the transition. Expected, not an alert.
			s.logger.Debug().
				Str("account_id", sub.AccountID).
				Str("subscription_id", sub.ID).
				Msg("subscription no longer due")
		default:
			if s.metrics != nil {
				s.metrics.SweepErrors.Inc()
			}
			s.logger.Error().Err(err).
				Str("account_id", sub.AccountID).
				Str("subscription_id", sub.ID).
				Msg("failed to finalize subscription")
		}
	}

	if finalized > 0 {
		s.logger.Info().
			Int("finalized", finalized).
			Int("due", len(due)).
			Msg("period-end sweep completed")
	}

	return finalized, nil
}
