// Package sqlite implements the domain stores on an embedded SQLite database.
// Every multi-step write runs in an immediate transaction on a single connection, which
// makes check-then-write sequences atomic across goroutines.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"creatorhub/internal/domain"
	"creatorhub/internal/infra"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond

	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ domain.JobStateStore     = (*Store)(nil)
	_ domain.LedgerStore       = (*Store)(nil)
	_ domain.RegenerationStore = (*Store)(nil)
)

// Open opens the database at path and creates the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := infra.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := retryOnBusy(ctx, func() error {
		_, execErr := db.ExecContext(ctx, schemaDDL)
		return execErr
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return store, nil
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// inTx runs fn in a transaction, retrying the whole unit when the file is locked
// by another process.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Job store

func (s *Store) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	return scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, strings.TrimSpace(jobID)))
}

func (s *Store) PutIfAbsent(ctx context.Context, job *domain.Job) (bool, error) {
	if job == nil || strings.TrimSpace(job.ID) == "" {
		return false, domain.Errorf(domain.ErrValidation, "job id is required")
	}
	refs, err := json.Marshal(job.InputRefs)
	if err != nil {
		return false, fmt.Errorf("encode input refs: %w", err)
	}
	if job.InputRefs == nil {
		refs = []byte("{}")
	}

	var inserted bool
	err = retryOnBusy(ctx, func() error {
		res, execErr := s.db.ExecContext(ctx, `INSERT INTO jobs (`+jobColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT DO NOTHING`,
			job.ID,
			job.OwnerID,
			string(job.Provider),
			string(job.Status),
			boolToInt(job.Simulated),
			string(refs),
			job.ResultRef,
			job.FailureReason,
			job.Billing.IdempotencyKey,
			string(job.Billing.Kind),
			job.Billing.Quantity,
			string(job.Billing.ChargeOn),
			formatTime(job.CreatedAt),
			formatTime(job.UpdatedAt),
		)
		if execErr != nil {
			return execErr
		}
		n, execErr := res.RowsAffected()
		inserted = n == 1
		return execErr
	})
	return inserted, err
}

func (s *Store) CompareAndSwapStatus(ctx context.Context, jobID string, expected domain.JobStatus, update domain.JobUpdate) (bool, error) {
	var swapped bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		job, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID))
		if err != nil {
			return err
		}
		if job.Status != expected {
			swapped = false
			return nil
		}
		next := job.Apply(update)
		if next.UpdatedAt.IsZero() {
			next.UpdatedAt = s.now()
		}
		_, err = tx.ExecContext(ctx, `UPDATE jobs SET status = ?, result_ref = ?, failure_reason = ?, updated_at = ? WHERE id = ? AND status = ?`,
			string(next.Status), next.ResultRef, next.FailureReason, formatTime(next.UpdatedAt), jobID, string(expected))
		swapped = err == nil
		return err
	})
	return swapped, err
}

func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (*domain.Job, error) {
	if key == "" {
		return nil, domain.ErrNotFound
	}
	return scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE idempotency_key = ?`, key))
}

func (s *Store) ListProcessingBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status = ? AND updated_at < ? ORDER BY updated_at LIMIT ?`,
		string(domain.JobStatusProcessing), formatTime(cutoff), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *job)
	}
	return items, rows.Err()
}

// Ledger store

func (s *Store) GetEntry(ctx context.Context, key string) (*domain.UsageLedgerEntry, error) {
	return getEntry(ctx, s.db, key)
}

func (s *Store) CreatePending(ctx context.Context, entry domain.UsageLedgerEntry) (domain.UsageLedgerEntry, bool, error) {
	var (
		stored  domain.UsageLedgerEntry
		created bool
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		existing, err := getEntry(ctx, tx, entry.IdempotencyKey)
		if err == nil {
			stored, created = *existing, false
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		entry.Status = domain.UsageStatusPending
		entry.CompletedAt = nil
		if err := putEntry(ctx, tx, entry); err != nil {
			return err
		}
		stored, created = entry, true
		return nil
	})
	return stored, created, err
}

func (s *Store) Deny(ctx context.Context, entry domain.UsageLedgerEntry) (domain.UsageLedgerEntry, error) {
	var stored domain.UsageLedgerEntry
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		existing, err := getEntry(ctx, tx, entry.IdempotencyKey)
		switch {
		case err == nil:
			stored = *existing
			if !existing.Matches(entry.Charge()) {
				return domain.ErrConflict
			}
			return nil
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}
		entry.Status = domain.UsageStatusDenied
		if entry.CompletedAt == nil {
			now := s.now()
			entry.CompletedAt = &now
		}
		if err := putEntry(ctx, tx, entry); err != nil {
			return err
		}
		stored = entry
		return nil
	})
	return stored, err
}

func (s *Store) ConfirmCharge(ctx context.Context, entry domain.UsageLedgerEntry) (domain.UsageLedgerEntry, bool, error) {
	var (
		stored  domain.UsageLedgerEntry
		charged bool
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		existing, err := getEntry(ctx, tx, entry.IdempotencyKey)
		switch {
		case err == nil:
			if !existing.Matches(entry.Charge()) {
				stored = *existing
				return domain.ErrConflict
			}
			switch existing.Status {
			case domain.UsageStatusSuccess:
				stored, charged = *existing, false
				return nil
			case domain.UsageStatusDenied:
				stored = *existing
				return domain.DenialError(existing.DenialReason)
			}
			entry.CreatedAt = existing.CreatedAt
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}

		account, err := scanAccount(tx.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE owner_id = ?`, entry.OwnerID))
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNoActiveSubscription
		}
		if err != nil {
			return err
		}
		if !account.SubscriptionActive {
			return domain.ErrNoActiveSubscription
		}
		if account.Credits < entry.Quantity {
			return domain.ErrInsufficientCredit
		}

		now := s.now()
		if _, err := tx.ExecContext(ctx, `UPDATE accounts SET credits = credits - ?, updated_at = ? WHERE owner_id = ?`,
			entry.Quantity, formatTime(now), entry.OwnerID); err != nil {
			return err
		}
		entry.Status = domain.UsageStatusSuccess
		entry.DenialReason = ""
		if entry.CompletedAt == nil {
			entry.CompletedAt = &now
		}
		if err := putEntry(ctx, tx, entry); err != nil {
			return err
		}
		stored, charged = entry, true
		return nil
	})
	if err != nil {
		return stored, false, err
	}
	return stored, charged, nil
}

func (s *Store) GetAccount(ctx context.Context, ownerID string) (*domain.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE owner_id = ?`, ownerID))
}

func (s *Store) UpsertAccount(ctx context.Context, account domain.Account) error {
	if strings.TrimSpace(account.OwnerID) == "" {
		return domain.Errorf(domain.ErrValidation, "owner id is required")
	}
	if account.Credits < 0 {
		return domain.Errorf(domain.ErrValidation, "credits must not be negative")
	}
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?)
ON CONFLICT(owner_id) DO UPDATE SET subscription_active = excluded.subscription_active, credits = excluded.credits, updated_at = excluded.updated_at`,
			account.OwnerID, boolToInt(account.SubscriptionActive), account.Credits, formatTime(s.now()))
		return err
	})
}

func (s *Store) AddCredits(ctx context.Context, ownerID string, delta int) (*domain.Account, error) {
	var account *domain.Account
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE accounts SET credits = MAX(credits + ?, 0), updated_at = ? WHERE owner_id = ?`,
			delta, formatTime(s.now()), ownerID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrNotFound
		}
		account, err = scanAccount(tx.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE owner_id = ?`, ownerID))
		return err
	})
	return account, err
}

// Regeneration store

func (s *Store) Consume(ctx context.Context, artifactID string, artifactType domain.ArtifactType, limit int) (domain.RegenerationCounter, bool, error) {
	var (
		counter domain.RegenerationCounter
		ok      bool
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		existing, err := scanCounter(tx.QueryRowContext(ctx, `SELECT `+counterColumns+` FROM regeneration_counters WHERE artifact_id = ?`, artifactID))
		switch {
		case err == nil:
			counter = *existing
		case errors.Is(err, domain.ErrNotFound):
			counter = domain.RegenerationCounter{ArtifactID: artifactID, ArtifactType: artifactType, CreatedAt: now}
		default:
			return err
		}
		counter.FreeLimit = limit
		if counter.Used >= limit {
			ok = false
			return nil
		}
		counter.Used++
		counter.UpdatedAt = now
		_, err = tx.ExecContext(ctx, `INSERT INTO regeneration_counters (`+counterColumns+`) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(artifact_id) DO UPDATE SET used = excluded.used, free_limit = excluded.free_limit, updated_at = excluded.updated_at`,
			counter.ArtifactID, string(counter.ArtifactType), counter.Used, counter.FreeLimit, formatTime(counter.CreatedAt), formatTime(counter.UpdatedAt))
		ok = err == nil
		return err
	})
	return counter, ok, err
}

func (s *Store) GetCounter(ctx context.Context, artifactID string) (*domain.RegenerationCounter, error) {
	return scanCounter(s.db.QueryRowContext(ctx, `SELECT `+counterColumns+` FROM regeneration_counters WHERE artifact_id = ?`, artifactID))
}

func getEntry(ctx context.Context, q queryer, key string) (*domain.UsageLedgerEntry, error) {
	return scanEntry(q.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM usage_ledger WHERE idempotency_key = ?`, key))
}

func putEntry(ctx context.Context, tx *sql.Tx, entry domain.UsageLedgerEntry) error {
	var completed sql.NullString
	if entry.CompletedAt != nil {
		completed = sql.NullString{String: formatTime(*entry.CompletedAt), Valid: true}
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO usage_ledger (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(idempotency_key) DO UPDATE SET status = excluded.status, denial_reason = excluded.denial_reason, completed_at = excluded.completed_at`,
		entry.IdempotencyKey,
		entry.OwnerID,
		string(entry.Kind),
		entry.Quantity,
		string(entry.Status),
		entry.DenialReason,
		formatTime(entry.CreatedAt),
		completed,
	)
	return err
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job                  domain.Job
		provider, status     string
		simulated            int
		refs                 string
		kind, chargeOn       string
		createdAt, updatedAt string
	)
	if err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&provider,
		&status,
		&simulated,
		&refs,
		&job.ResultRef,
		&job.FailureReason,
		&job.Billing.IdempotencyKey,
		&kind,
		&job.Billing.Quantity,
		&chargeOn,
		&createdAt,
		&updatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	job.Provider = domain.Provider(provider)
	job.Status = domain.JobStatus(status)
	job.Simulated = simulated != 0
	job.Billing.Kind = domain.UsageKind(kind)
	job.Billing.ChargeOn = domain.ChargePolicy(chargeOn)
	if refs != "" {
		if err := json.Unmarshal([]byte(refs), &job.InputRefs); err != nil {
			return nil, fmt.Errorf("decode input refs: %w", err)
		}
	}
	var err error
	if job.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if job.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &job, nil
}

func scanEntry(row rowScanner) (*domain.UsageLedgerEntry, error) {
	var (
		entry        domain.UsageLedgerEntry
		kind, status string
		createdAt    string
		completedAt  sql.NullString
	)
	if err := row.Scan(
		&entry.IdempotencyKey,
		&entry.OwnerID,
		&kind,
		&entry.Quantity,
		&status,
		&entry.DenialReason,
		&createdAt,
		&completedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	entry.Kind = domain.UsageKind(kind)
	entry.Status = domain.UsageStatus(status)
	var err error
	if entry.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t, err := parseTime(completedAt.String)
		if err != nil {
			return nil, err
		}
		entry.CompletedAt = &t
	}
	return &entry, nil
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var (
		account   domain.Account
		active    int
		updatedAt string
	)
	if err := row.Scan(&account.OwnerID, &active, &account.Credits, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	account.SubscriptionActive = active != 0
	var err error
	if account.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &account, nil
}

func scanCounter(row rowScanner) (*domain.RegenerationCounter, error) {
	var (
		counter              domain.RegenerationCounter
		artifactType         string
		createdAt, updatedAt string
	)
	if err := row.Scan(&counter.ArtifactID, &artifactType, &counter.Used, &counter.FreeLimit, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	counter.ArtifactType = domain.ArtifactType(artifactType)
	var err error
	if counter.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if counter.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &counter, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	if t, err := time.Parse(timeLayout, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
