package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"creatorhub/internal/domain"
	"creatorhub/internal/infra"
)

// Outcome is the provider-reported result of a job.
type Outcome struct {
	Status    string
	ResultRef string
	Error     string
}

// Delivery is one authenticated webhook callback.
type Delivery struct {
	JobID string
	// OwnerHint is the owner bound in the callback token. Empty skips the check.
	OwnerHint string
	Provider  domain.Provider
	Outcome   Outcome
}

// Result reports how a delivery was applied.
type Result struct {
	Duplicate bool
	Job       *domain.Job
}

type WebhookReceiver struct {
	store    domain.JobStateStore
	ledger   UsageLedger
	notifier domain.Notifier
	logger   infra.Logger
	now      func() time.Time
}

func NewWebhookReceiver(store domain.JobStateStore, ledger UsageLedger, notifier domain.Notifier, logger infra.Logger) *WebhookReceiver {
	return &WebhookReceiver{
		store:    store,
		ledger:   ledger,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ParseStatus maps a provider status word to a terminal job status.
func ParseStatus(s string) (domain.JobStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "completed", "succeeded", "success", "done":
		return domain.JobStatusCompleted, true
	case "error", "failed", "failure", "cancelled", "canceled":
		return domain.JobStatusError, true
	}
	return "", false
}

// Receive applies d exactly once. Later deliveries for the same job are acknowledged as duplicates.
func (r *WebhookReceiver) Receive(ctx context.Context, d Delivery) (Result, error) {
	jobID := strings.TrimSpace(d.JobID)
	if jobID == "" {
		return Result{}, domain.Errorf(domain.ErrValidation, "jobId is required")
	}

	job, err := r.store.Get(ctx, jobID)
	if errors.Is(err, domain.ErrNotFound) {
		return Result{}, domain.Errorf(domain.ErrNotFound, "job not found")
	}
	if err != nil {
		return Result{}, fmt.Errorf("load job: %w", err)
	}
	if d.OwnerHint != "" && d.OwnerHint != job.OwnerID {
		return Result{}, domain.Errorf(domain.ErrAuth, "callback token does not match the job owner")
	}
	if d.Provider != "" && d.Provider != job.Provider {
		return Result{}, domain.Errorf(domain.ErrAuth, "callback provider does not match the job")
	}
	if job.Status.Terminal() {
		return Result{Duplicate: true, Job: job}, nil
	}

	status, ok := ParseStatus(d.Outcome.Status)
	if !ok {
		return Result{}, domain.Errorf(domain.ErrValidation, "unknown status %q", d.Outcome.Status)
	}
	update := domain.JobUpdate{Status: status, UpdatedAt: r.now()}
	if status == domain.JobStatusCompleted {
		update.ResultRef = strings.TrimSpace(d.Outcome.ResultRef)
	} else {
		update.FailureReason = strings.TrimSpace(d.Outcome.Error)
		if update.FailureReason == "" {
			update.FailureReason = "provider reported " + strings.ToLower(strings.TrimSpace(d.Outcome.Status))
		}
	}

	swapped, err := r.store.CompareAndSwapStatus(ctx, job.ID, domain.JobStatusProcessing, update)
	if err != nil {
		return Result{}, fmt.Errorf("apply webhook: %w", err)
	}
	if !swapped {
		current, err := r.store.Get(ctx, job.ID)
		if err != nil {
			current = job
		}
		return Result{Duplicate: true, Job: current}, nil
	}

	applied := job.Apply(update)
	logger := r.logger.With().
		Str("job_id", applied.ID).
		Str("provider", string(applied.Provider)).
		Str("status", string(applied.Status)).
		Logger()
	logger.Info().Msg("jobs: webhook applied")

	if applied.Status == domain.JobStatusCompleted {
		r.confirmOnCompletion(ctx, logger, applied)
		if err := r.notifier.JobCompleted(ctx, applied); err != nil {
			logger.Warn().Err(err).Msg("jobs: completion notification failed")
		}
	} else {
		if err := r.notifier.JobFailed(ctx, applied); err != nil {
			logger.Warn().Err(err).Msg("jobs: failure notification failed")
		}
	}
	return Result{Job: &applied}, nil
}

func (r *WebhookReceiver) confirmOnCompletion(ctx context.Context, logger infra.Logger, job domain.Job) {
	if job.Billing.ChargeOn != domain.ChargeOnCompletion {
		return
	}
	_, err := r.ledger.Confirm(ctx, domain.Charge{
		OwnerID:        job.OwnerID,
		Kind:           job.Billing.Kind,
		Quantity:       job.Billing.Quantity,
		IdempotencyKey: job.Billing.IdempotencyKey,
	})
	if err != nil {
		logger.Error().Err(err).Str("idempotency_key", job.Billing.IdempotencyKey).Msg("jobs: confirm on completion failed")
	}
}
