// Package jobs orchestrates asynchronous provider jobs: submission, webhook
// completion, synthetic deliveries for simulated mode and stale job sweeping.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"creatorhub/internal/domain"
	"creatorhub/internal/infra"
	"creatorhub/internal/providers/media"
)

// UsageLedger is the part of the usage ledger the job flows depend on.
type UsageLedger interface {
	Preview(ctx context.Context, c domain.Charge) error
	Confirm(ctx context.Context, c domain.Charge) (domain.UsageLedgerEntry, error)
}

// Enqueuer accepts synthetic webhook deliveries.
type Enqueuer interface {
	Enqueue(ctx context.Context, d Delivery) error
}

// SubmitRequest describes one job submission.
type SubmitRequest struct {
	OwnerID        string
	Provider       domain.Provider
	InputRefs      map[string]string
	IdempotencyKey string
	Quantity       int
	// SkipBilling submits without touching the usage ledger.
	SkipBilling bool
}

// SubmitterConfig holds process-wide submission settings.
type SubmitterConfig struct {
	Simulated          bool
	PublicBaseURL      string
	ProviderTimeout    time.Duration
	ChargeOnCompletion []domain.Provider
}

type Submitter struct {
	store     domain.JobStateStore
	ledger    UsageLedger
	creators  map[domain.Provider]media.Creator
	tokens    *CallbackTokens
	enqueuer  Enqueuer
	cfg       SubmitterConfig
	onFinish  map[domain.Provider]bool
	logger    infra.Logger
	validator *validator.Validate
	now       func() time.Time
	newID     func() string
}

func NewSubmitter(
	store domain.JobStateStore,
	ledger UsageLedger,
	creators map[domain.Provider]media.Creator,
	tokens *CallbackTokens,
	enqueuer Enqueuer,
	cfg SubmitterConfig,
	logger infra.Logger,
) *Submitter {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 30 * time.Second
	}
	onFinish := make(map[domain.Provider]bool, len(cfg.ChargeOnCompletion))
	for _, p := range cfg.ChargeOnCompletion {
		onFinish[p] = true
	}
	return &Submitter{
		store:     store,
		ledger:    ledger,
		creators:  creators,
		tokens:    tokens,
		enqueuer:  enqueuer,
		cfg:       cfg,
		onFinish:  onFinish,
		logger:    logger,
		validator: newValidator(),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     func() string { return uuid.NewString() },
	}
}

// Validate checks req the way Submit does without touching any store or provider.
func (s *Submitter) Validate(req SubmitRequest) error {
	_, err := normalizeSubmit(s.validator, req)
	return err
}

// Simulated reports whether jobs are completed by synthetic deliveries.
func (s *Submitter) Simulated() bool {
	return s.cfg.Simulated
}

// ChargePolicy returns when jobs on provider are billed.
func (s *Submitter) ChargePolicy(provider domain.Provider) domain.ChargePolicy {
	if s.onFinish[provider] {
		return domain.ChargeOnCompletion
	}
	return domain.ChargeOnSubmit
}

// Submit starts one provider job and returns it in processing state.
func (s *Submitter) Submit(ctx context.Context, req SubmitRequest) (*domain.Job, error) {
	req, err := normalizeSubmit(s.validator, req)
	if err != nil {
		return nil, err
	}

	billing := domain.JobBilling{
		IdempotencyKey: req.IdempotencyKey,
		Kind:           req.Provider.UsageKind(),
		Quantity:       req.Quantity,
		ChargeOn:       s.ChargePolicy(req.Provider),
	}
	if req.SkipBilling {
		billing.ChargeOn = domain.ChargeNone
	}
	charge := domain.Charge{
		OwnerID:        req.OwnerID,
		Kind:           billing.Kind,
		Quantity:       billing.Quantity,
		IdempotencyKey: billing.IdempotencyKey,
	}
	logger := s.logger.With().
		Str("owner_id", req.OwnerID).
		Str("provider", string(req.Provider)).
		Str("idempotency_key", req.IdempotencyKey).
		Logger()

	// A key that already backs a stored job is a retry of an accepted action.
	// It skips eligibility so a later balance change cannot deny it.
	existing, err := s.existingJob(ctx, req)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		logger.Debug().Str("job_id", existing.ID).Msg("jobs: resubmission matched existing job")
		return s.finishSubmit(ctx, logger, existing, charge)
	}

	if billing.ChargeOn != domain.ChargeNone {
		if err := s.ledger.Preview(ctx, charge); err != nil {
			if domain.IsQuotaError(err) {
				logger.Info().Err(err).Msg("jobs: submission denied")
				return nil, domain.Wrap(domain.ErrQuotaDenied, err, "submission denied")
			}
			return nil, err
		}
	}

	now := s.now()
	job := &domain.Job{
		OwnerID:   req.OwnerID,
		Provider:  req.Provider,
		Status:    domain.JobStatusProcessing,
		InputRefs: req.InputRefs,
		Billing:   billing,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if s.cfg.Simulated {
		job.ID = s.newID()
		job.Simulated = true
		stored, err := s.put(ctx, job)
		if err != nil {
			return nil, err
		}
		result, err := s.finishSubmit(ctx, logger, stored, charge)
		if err != nil || stored.ID != job.ID {
			return result, err
		}
		delivery := Delivery{
			JobID:     job.ID,
			OwnerHint: job.OwnerID,
			Provider:  job.Provider,
			Outcome: Outcome{
				Status:    "completed",
				ResultRef: fmt.Sprintf("simulated://%s/%s", job.Provider, job.ID),
			},
		}
		if err := s.enqueuer.Enqueue(ctx, delivery); err != nil {
			logger.Error().Err(err).Str("job_id", job.ID).Msg("jobs: enqueue synthetic delivery failed")
		}
		logger.Info().Str("job_id", job.ID).Msg("jobs: simulated job submitted")
		return result, nil
	}

	creator, ok := s.creators[req.Provider]
	if !ok || creator == nil {
		return nil, domain.Errorf(domain.ErrUpstreamUnavailable, "provider %s is not configured", req.Provider)
	}
	token, err := s.tokens.Issue(req.OwnerID, req.Provider)
	if err != nil {
		return nil, fmt.Errorf("issue callback token: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	accepted, err := creator.CreateJob(callCtx, media.JobRequest{
		InputRefs:      req.InputRefs,
		CallbackURL:    CallbackURL(s.cfg.PublicBaseURL, req.Provider, token),
		IdempotencyKey: req.IdempotencyKey,
		Quantity:       req.Quantity,
	})
	cancel()
	if err != nil {
		logger.Warn().Err(err).Msg("jobs: provider rejected submission")
		return nil, domain.Wrap(domain.ErrUpstreamUnavailable, err, fmt.Sprintf("%s provider is unavailable, retry with the same idempotency key", req.Provider))
	}

	job.ID = accepted.JobID
	stored, err := s.put(ctx, job)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("job_id", stored.ID).Msg("jobs: job submitted")
	return s.finishSubmit(ctx, logger, stored, charge)
}

// existingJob returns the job already created under the request's key, if any.
func (s *Submitter) existingJob(ctx context.Context, req SubmitRequest) (*domain.Job, error) {
	job, err := s.store.FindByIdempotencyKey(ctx, req.IdempotencyKey)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find job by idempotency key: %w", err)
	}
	if job.OwnerID != req.OwnerID || job.Provider != req.Provider || job.Billing.Quantity != req.Quantity {
		return nil, domain.Errorf(domain.ErrConflict, "idempotency key %q was already used for a different job", req.IdempotencyKey)
	}
	return job, nil
}

// put stores job and resolves the winner when a concurrent submission with
// the same key stored first.
func (s *Submitter) put(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	inserted, err := s.store.PutIfAbsent(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("store job: %w", err)
	}
	if inserted {
		return job, nil
	}
	if winner, err := s.store.FindByIdempotencyKey(ctx, job.Billing.IdempotencyKey); err == nil {
		return winner, nil
	}
	stored, err := s.store.Get(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("load existing job: %w", err)
	}
	if stored.OwnerID != job.OwnerID {
		return nil, domain.Errorf(domain.ErrConflict, "job %s already exists", job.ID)
	}
	return stored, nil
}

// finishSubmit confirms charge-on-submit billing for job.
func (s *Submitter) finishSubmit(ctx context.Context, logger infra.Logger, job *domain.Job, charge domain.Charge) (*domain.Job, error) {
	if job.Billing.ChargeOn != domain.ChargeOnSubmit {
		return job, nil
	}
	if _, err := s.ledger.Confirm(ctx, charge); err != nil {
		logger.Error().Err(err).Str("job_id", job.ID).Msg("jobs: confirm after provider accepted failed")
		return nil, err
	}
	return job, nil
}
