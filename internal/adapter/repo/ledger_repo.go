package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"creatorhub/internal/domain"
	"creatorhub/internal/infra"
	"creatorhub/internal/sqlinline"
)

// confirmAttempts bounds the retries when the account changes between the
// claim statement and the follow-up classification read.
const confirmAttempts = 3

const checkViolation = "23514"

// LedgerRepositoryPG implements domain.LedgerStore backed by PostgreSQL.
type LedgerRepositoryPG struct {
	sql infra.SQLExecutor
	now func() time.Time
}

func NewLedgerRepository(sql infra.SQLExecutor) *LedgerRepositoryPG {
	return &LedgerRepositoryPG{sql: sql, now: func() time.Time { return time.Now().UTC() }}
}

var _ domain.LedgerStore = (*LedgerRepositoryPG)(nil)

func (r *LedgerRepositoryPG) GetEntry(ctx context.Context, key string) (*domain.UsageLedgerEntry, error) {
	entry, err := scanEntry(r.sql.QueryRow(ctx, sqlinline.QSelectUsageEntry, key))
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *LedgerRepositoryPG) CreatePending(ctx context.Context, entry domain.UsageLedgerEntry) (domain.UsageLedgerEntry, bool, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QInsertPendingUsage,
		entry.IdempotencyKey,
		entry.OwnerID,
		string(entry.Kind),
		entry.Quantity,
		entry.CreatedAt,
	)
	var created bool
	stored, err := scanEntry(row, &created)
	if errors.Is(err, domain.ErrNotFound) {
		// Lost the race to a concurrent insert that our snapshot cannot see.
		existing, err := r.GetEntry(ctx, entry.IdempotencyKey)
		if err != nil {
			return domain.UsageLedgerEntry{}, false, err
		}
		return *existing, false, nil
	}
	if err != nil {
		return domain.UsageLedgerEntry{}, false, err
	}
	return stored, created, nil
}

func (r *LedgerRepositoryPG) Deny(ctx context.Context, entry domain.UsageLedgerEntry) (domain.UsageLedgerEntry, error) {
	at := entry.CreatedAt
	if entry.CompletedAt != nil {
		at = *entry.CompletedAt
	}
	stored, err := scanEntry(r.sql.QueryRow(ctx, sqlinline.QDenyUsage,
		entry.IdempotencyKey,
		entry.OwnerID,
		string(entry.Kind),
		entry.Quantity,
		entry.DenialReason,
		at,
	))
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.UsageLedgerEntry{}, err
	}

	existing, err := r.GetEntry(ctx, entry.IdempotencyKey)
	if err != nil {
		return domain.UsageLedgerEntry{}, err
	}
	if !existing.Matches(entry.Charge()) {
		return *existing, domain.ErrConflict
	}
	return *existing, nil
}

func (r *LedgerRepositoryPG) ConfirmCharge(ctx context.Context, entry domain.UsageLedgerEntry) (domain.UsageLedgerEntry, bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QReserveUsageKey,
		entry.IdempotencyKey,
		entry.OwnerID,
		string(entry.Kind),
		entry.Quantity,
		entry.CreatedAt,
	)
	if err != nil {
		return domain.UsageLedgerEntry{}, false, err
	}
	// A row reserved here is released again when nothing could be charged.
	reserved := tag.RowsAffected() == 1
	fail := func(cause error) (domain.UsageLedgerEntry, bool, error) {
		if reserved {
			if _, err := r.sql.Exec(ctx, sqlinline.QReleaseUsageKey, entry.IdempotencyKey); err != nil {
				return domain.UsageLedgerEntry{}, false, errors.Join(cause, err)
			}
		}
		return domain.UsageLedgerEntry{}, false, cause
	}

	for attempt := 0; attempt < confirmAttempts; attempt++ {
		var claimed, charged int
		err := r.sql.QueryRow(ctx, sqlinline.QConfirmUsage,
			entry.IdempotencyKey,
			entry.OwnerID,
			string(entry.Kind),
			entry.Quantity,
			r.now(),
		).Scan(&claimed, &charged)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == checkViolation {
				return fail(domain.ErrInsufficientCredit)
			}
			return domain.UsageLedgerEntry{}, false, err
		}

		existing, err := r.GetEntry(ctx, entry.IdempotencyKey)
		if err != nil {
			return domain.UsageLedgerEntry{}, false, err
		}
		if claimed == 1 && charged == 1 {
			return *existing, true, nil
		}
		if !existing.Matches(entry.Charge()) {
			return *existing, false, domain.ErrConflict
		}
		switch existing.Status {
		case domain.UsageStatusSuccess:
			return *existing, false, nil
		case domain.UsageStatusDenied:
			return *existing, false, domain.DenialError(existing.DenialReason)
		}

		account, err := r.GetAccount(ctx, entry.OwnerID)
		if errors.Is(err, domain.ErrNotFound) {
			return fail(domain.ErrNoActiveSubscription)
		}
		if err != nil {
			return domain.UsageLedgerEntry{}, false, err
		}
		if !account.SubscriptionActive {
			return fail(domain.ErrNoActiveSubscription)
		}
		if account.Credits < entry.Quantity {
			return fail(domain.ErrInsufficientCredit)
		}
	}
	return fail(errors.New("usage confirm: account changed concurrently"))
}

func (r *LedgerRepositoryPG) GetAccount(ctx context.Context, ownerID string) (*domain.Account, error) {
	return scanAccount(r.sql.QueryRow(ctx, sqlinline.QSelectAccount, ownerID))
}

func (r *LedgerRepositoryPG) UpsertAccount(ctx context.Context, account domain.Account) error {
	if account.OwnerID == "" {
		return domain.Errorf(domain.ErrValidation, "owner id is required")
	}
	if account.Credits < 0 {
		return domain.Errorf(domain.ErrValidation, "credits must not be negative")
	}
	_, err := r.sql.Exec(ctx, sqlinline.QUpsertAccount, account.OwnerID, account.SubscriptionActive, account.Credits, r.now())
	return err
}

func (r *LedgerRepositoryPG) AddCredits(ctx context.Context, ownerID string, delta int) (*domain.Account, error) {
	return scanAccount(r.sql.QueryRow(ctx, sqlinline.QAddCredits, ownerID, delta, r.now()))
}

func scanEntry(row pgx.Row, extra ...any) (domain.UsageLedgerEntry, error) {
	var (
		entry  domain.UsageLedgerEntry
		kind   string
		status string
	)
	dest := []any{
		&entry.IdempotencyKey,
		&entry.OwnerID,
		&kind,
		&entry.Quantity,
		&status,
		&entry.DenialReason,
		&entry.CreatedAt,
		&entry.CompletedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if infra.IsNoRows(err) {
			return domain.UsageLedgerEntry{}, domain.ErrNotFound
		}
		return domain.UsageLedgerEntry{}, err
	}
	entry.Kind = domain.UsageKind(kind)
	entry.Status = domain.UsageStatus(status)
	return entry, nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var account domain.Account
	if err := row.Scan(&account.OwnerID, &account.SubscriptionActive, &account.Credits, &account.UpdatedAt); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &account, nil
}
