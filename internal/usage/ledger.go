// Package usage implements the two-phase idempotent usage ledger.
//
// Preview checks eligibility and reserves the idempotency key without charging.
// Confirm moves the entry to success and deducts the account in one atomic
// store operation, so any number of concurrent confirms for a key charge once.
package usage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"creatorhub/internal/domain"
	"creatorhub/internal/infra"
)

// MaxKeyLength bounds client supplied idempotency keys.
const MaxKeyLength = 128

type Ledger struct {
	store  domain.LedgerStore
	logger infra.Logger
	now    func() time.Time
}

func NewLedger(store domain.LedgerStore, logger infra.Logger) *Ledger {
	return &Ledger{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Preview checks whether c may be charged. It never changes the balance.
// A denial is recorded only for a key that has no entry yet.
func (l *Ledger) Preview(ctx context.Context, c domain.Charge) error {
	c, err := normalizeCharge(c)
	if err != nil {
		return err
	}

	existing, err := l.store.GetEntry(ctx, c.IdempotencyKey)
	switch {
	case err == nil:
		if !existing.Matches(c) {
			return conflictError(c.IdempotencyKey)
		}
		switch existing.Status {
		case domain.UsageStatusSuccess:
			return nil
		case domain.UsageStatusDenied:
			return denialError(existing.DenialReason)
		}
	case !errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("usage preview: load entry: %w", err)
	}

	reason, err := l.eligibility(ctx, c)
	if err != nil {
		return err
	}
	now := l.now()
	if reason != "" {
		entry := domain.NewEntry(c, domain.UsageStatusDenied, now)
		entry.DenialReason = reason
		stored, err := l.store.Deny(ctx, entry)
		if err != nil {
			if errors.Is(err, domain.ErrConflict) {
				return conflictError(c.IdempotencyKey)
			}
			return fmt.Errorf("usage preview: record denial: %w", err)
		}
		switch stored.Status {
		case domain.UsageStatusSuccess:
			return nil
		case domain.UsageStatusPending:
			// The key is already reserved; report the denial without recording it.
			return denialError(reason)
		}
		l.logger.Info().
			Str("owner_id", c.OwnerID).
			Str("idempotency_key", c.IdempotencyKey).
			Str("reason", stored.DenialReason).
			Msg("usage: preview denied")
		return denialError(stored.DenialReason)
	}

	stored, _, err := l.store.CreatePending(ctx, domain.NewEntry(c, domain.UsageStatusPending, now))
	if err != nil {
		return fmt.Errorf("usage preview: reserve key: %w", err)
	}
	if !stored.Matches(c) {
		return conflictError(c.IdempotencyKey)
	}
	if stored.Status == domain.UsageStatusDenied {
		return denialError(stored.DenialReason)
	}
	return nil
}

// Confirm charges c exactly once. Calling it without a prior Preview is valid.
func (l *Ledger) Confirm(ctx context.Context, c domain.Charge) (domain.UsageLedgerEntry, error) {
	c, err := normalizeCharge(c)
	if err != nil {
		return domain.UsageLedgerEntry{}, err
	}

	stored, charged, err := l.store.ConfirmCharge(ctx, domain.NewEntry(c, domain.UsageStatusSuccess, l.now()))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrConflict):
			return domain.UsageLedgerEntry{}, conflictError(c.IdempotencyKey)
		case errors.Is(err, domain.ErrNoActiveSubscription):
			return domain.UsageLedgerEntry{}, denialError(domain.DenialNoActiveSubscription)
		case errors.Is(err, domain.ErrInsufficientCredit):
			return domain.UsageLedgerEntry{}, denialError(domain.DenialInsufficientCredit)
		}
		return domain.UsageLedgerEntry{}, fmt.Errorf("usage confirm: %w", err)
	}
	if charged {
		l.logger.Info().
			Str("owner_id", c.OwnerID).
			Str("idempotency_key", c.IdempotencyKey).
			Str("kind", string(c.Kind)).
			Int("quantity", c.Quantity).
			Msg("usage: charged")
	} else {
		l.logger.Debug().
			Str("idempotency_key", c.IdempotencyKey).
			Msg("usage: confirm replayed")
	}
	return stored, nil
}

// Get returns the entry recorded under key.
func (l *Ledger) Get(ctx context.Context, key string) (*domain.UsageLedgerEntry, error) {
	entry, err := l.store.GetEntry(ctx, strings.TrimSpace(key))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.Errorf(domain.ErrNotFound, "usage entry not found")
		}
		return nil, err
	}
	return entry, nil
}

func (l *Ledger) eligibility(ctx context.Context, c domain.Charge) (string, error) {
	account, err := l.store.GetAccount(ctx, c.OwnerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.DenialNoActiveSubscription, nil
		}
		return "", fmt.Errorf("usage preview: load account: %w", err)
	}
	if !account.SubscriptionActive {
		return domain.DenialNoActiveSubscription, nil
	}
	if account.Credits < c.Quantity {
		return domain.DenialInsufficientCredit, nil
	}
	return "", nil
}

// ValidateKey checks the shape of a client supplied idempotency key.
func ValidateKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.Errorf(domain.ErrValidation, "idempotency key is required")
	}
	if len(key) > MaxKeyLength {
		return domain.Errorf(domain.ErrValidation, "idempotency key exceeds %d characters", MaxKeyLength)
	}
	for _, r := range key {
		if r <= ' ' || r > '~' {
			return domain.Errorf(domain.ErrValidation, "idempotency key must be printable ascii without spaces")
		}
	}
	return nil
}

func normalizeCharge(c domain.Charge) (domain.Charge, error) {
	c.IdempotencyKey = strings.TrimSpace(c.IdempotencyKey)
	c.OwnerID = strings.TrimSpace(c.OwnerID)
	if err := ValidateKey(c.IdempotencyKey); err != nil {
		return c, err
	}
	if c.OwnerID == "" {
		return c, domain.Errorf(domain.ErrValidation, "owner id is required")
	}
	if _, ok := domain.ParseUsageKind(string(c.Kind)); !ok {
		return c, domain.Errorf(domain.ErrValidation, "unknown usage kind %q", c.Kind)
	}
	if c.Quantity <= 0 {
		return c, domain.Errorf(domain.ErrValidation, "quantity must be positive")
	}
	return c, nil
}

func denialError(reason string) error {
	if reason == domain.DenialNoActiveSubscription {
		return domain.Errorf(domain.ErrNoActiveSubscription, "an active subscription is required")
	}
	return domain.Errorf(domain.ErrInsufficientCredit, "not enough credits for this action")
}

func conflictError(key string) error {
	return domain.Errorf(domain.ErrConflict, "idempotency key %q was already used for a different action", key)
}
