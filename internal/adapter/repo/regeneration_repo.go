package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"creatorhub/internal/domain"
	"creatorhub/internal/infra"
	"creatorhub/internal/sqlinline"
)

// RegenerationRepositoryPG implements domain.RegenerationStore backed by PostgreSQL.
type RegenerationRepositoryPG struct {
	sql infra.SQLExecutor
	now func() time.Time
}

func NewRegenerationRepository(sql infra.SQLExecutor) *RegenerationRepositoryPG {
	return &RegenerationRepositoryPG{sql: sql, now: func() time.Time { return time.Now().UTC() }}
}

var _ domain.RegenerationStore = (*RegenerationRepositoryPG)(nil)

func (r *RegenerationRepositoryPG) Consume(ctx context.Context, artifactID string, artifactType domain.ArtifactType, limit int) (domain.RegenerationCounter, bool, error) {
	counter, err := scanCounter(r.sql.QueryRow(ctx, sqlinline.QConsumeRegeneration, artifactID, string(artifactType), limit, r.now()))
	if err == nil {
		return *counter, true, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.RegenerationCounter{}, false, err
	}

	existing, err := r.GetCounter(ctx, artifactID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.RegenerationCounter{ArtifactID: artifactID, ArtifactType: artifactType, FreeLimit: limit}, false, nil
	}
	if err != nil {
		return domain.RegenerationCounter{}, false, err
	}
	return *existing, false, nil
}

func (r *RegenerationRepositoryPG) GetCounter(ctx context.Context, artifactID string) (*domain.RegenerationCounter, error) {
	return scanCounter(r.sql.QueryRow(ctx, sqlinline.QSelectRegenerationCounter, artifactID))
}

func scanCounter(row pgx.Row) (*domain.RegenerationCounter, error) {
	var (
		counter      domain.RegenerationCounter
		artifactType string
	)
	if err := row.Scan(
		&counter.ArtifactID,
		&artifactType,
		&counter.Used,
		&counter.FreeLimit,
		&counter.CreatedAt,
		&counter.UpdatedAt,
	); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	counter.ArtifactType = domain.ArtifactType(artifactType)
	return &counter, nil
}
