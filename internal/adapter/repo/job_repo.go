package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"creatorhub/internal/domain"
	"creatorhub/internal/infra"
	"creatorhub/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobStateStore backed by PostgreSQL.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

var _ domain.JobStateStore = (*JobRepositoryPG)(nil)

// Get fetches a job by its identifier.
func (r *JobRepositoryPG) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	return scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectJobByID, jobID))
}

// PutIfAbsent inserts job unless its id or idempotency key is already stored.
func (r *JobRepositoryPG) PutIfAbsent(ctx context.Context, job *domain.Job) (bool, error) {
	if job == nil || job.ID == "" {
		return false, domain.Errorf(domain.ErrValidation, "job id is required")
	}
	refs, err := json.Marshal(refsOrEmpty(job.InputRefs))
	if err != nil {
		return false, fmt.Errorf("encode input refs: %w", err)
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QInsertJobIfAbsent,
		job.ID,
		job.OwnerID,
		string(job.Provider),
		string(job.Status),
		job.Simulated,
		refs,
		job.ResultRef,
		job.FailureReason,
		job.Billing.IdempotencyKey,
		string(job.Billing.Kind),
		job.Billing.Quantity,
		string(job.Billing.ChargeOn),
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CompareAndSwapStatus applies update only while the stored status equals expected.
func (r *JobRepositoryPG) CompareAndSwapStatus(ctx context.Context, jobID string, expected domain.JobStatus, update domain.JobUpdate) (bool, error) {
	updatedAt := update.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QCompareAndSwapJobStatus,
		jobID,
		string(expected),
		string(update.Status),
		update.ResultRef,
		update.FailureReason,
		updatedAt,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := r.sql.QueryRow(ctx, sqlinline.QJobExists, jobID).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, domain.ErrNotFound
	}
	return false, nil
}

// FindByIdempotencyKey returns the job billed under key.
func (r *JobRepositoryPG) FindByIdempotencyKey(ctx context.Context, key string) (*domain.Job, error) {
	return scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectJobByIdempotencyKey, key))
}

// ListProcessingBefore returns processing jobs last updated before cutoff, oldest first.
func (r *JobRepositoryPG) ListProcessingBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.sql.Query(ctx, sqlinline.QListProcessingJobsBefore, cutoff, limit)
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

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job      domain.Job
		provider string
		status   string
		refs     []byte
		kind     string
		chargeOn string
	)
	if err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&provider,
		&status,
		&job.Simulated,
		&refs,
		&job.ResultRef,
		&job.FailureReason,
		&job.Billing.IdempotencyKey,
		&kind,
		&job.Billing.Quantity,
		&chargeOn,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	job.Provider = domain.Provider(provider)
	job.Status = domain.JobStatus(status)
	job.Billing.Kind = domain.UsageKind(kind)
	job.Billing.ChargeOn = domain.ChargePolicy(chargeOn)
	if len(refs) > 0 {
		if err := json.Unmarshal(refs, &job.InputRefs); err != nil {
			return nil, fmt.Errorf("decode input refs: %w", err)
		}
	}
	return &job, nil
}

func refsOrEmpty(refs map[string]string) map[string]string {
	if refs == nil {
		return map[string]string{}
	}
	return refs
}
