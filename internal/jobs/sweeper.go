package jobs

import (
	"context"
	"fmt"
	"time"

	"creatorhub/internal/domain"
	"creatorhub/internal/infra"
)

// StaleReason is recorded on jobs whose webhook never arrived.
const StaleReason = "webhook timeout"

const sweepBatch = 100

// Sweeper fails jobs stuck in processing for longer than staleAfter.
// It never confirms billing.
type Sweeper struct {
	store      domain.JobStateStore
	notifier   domain.Notifier
	staleAfter time.Duration
	interval   time.Duration
	logger     infra.Logger
	now        func() time.Time
}

func NewSweeper(store domain.JobStateStore, notifier domain.Notifier, staleAfter, interval time.Duration, logger infra.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		store:      store,
		notifier:   notifier,
		staleAfter: staleAfter,
		interval:   interval,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info().Dur("stale_after", s.staleAfter).Dur("interval", s.interval).Msg("sweeper: started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if n, err := s.SweepOnce(ctx); err != nil {
			s.logger.Error().Err(err).Msg("sweeper: sweep failed")
		} else if n > 0 {
			s.logger.Info().Int("failed", n).Msg("sweeper: stale jobs failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// SweepOnce fails every stale job and returns how many transitions it won.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	if s.staleAfter <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.staleAfter)
	failed := 0
	for {
		stale, err := s.store.ListProcessingBefore(ctx, cutoff, sweepBatch)
		if err != nil {
			return failed, fmt.Errorf("list stale jobs: %w", err)
		}
		won := 0
		for _, job := range stale {
			update := domain.JobUpdate{Status: domain.JobStatusError, FailureReason: StaleReason, UpdatedAt: s.now()}
			swapped, err := s.store.CompareAndSwapStatus(ctx, job.ID, domain.JobStatusProcessing, update)
			if err != nil {
				return failed, fmt.Errorf("fail stale job %s: %w", job.ID, err)
			}
			if !swapped {
				continue
			}
			won++
			applied := job.Apply(update)
			s.logger.Warn().Str("job_id", job.ID).Str("provider", string(job.Provider)).Msg("sweeper: job timed out")
			if err := s.notifier.JobFailed(ctx, applied); err != nil {
				s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("sweeper: failure notification failed")
			}
		}
		failed += won
		if len(stale) < sweepBatch || won == 0 {
			return failed, nil
		}
	}
}
