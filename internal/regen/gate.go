// Package regen caps the free regenerations allowed per parent artifact.
package regen

import (
	"context"
	"fmt"
	"strings"

	"creatorhub/internal/domain"
	"creatorhub/internal/infra"
)

type Gate struct {
	store  domain.RegenerationStore
	logger infra.Logger
}

func NewGate(store domain.RegenerationStore, logger infra.Logger) *Gate {
	return &Gate{store: store, logger: logger}
}

// TryConsume uses one free regeneration of artifactID and returns how many remain.
// It fails with ErrLimitReached without changing the counter once the limit is hit.
func (g *Gate) TryConsume(ctx context.Context, artifactID string, artifactType domain.ArtifactType) (domain.RegenerationCounter, error) {
	artifactID = strings.TrimSpace(artifactID)
	if artifactID == "" {
		return domain.RegenerationCounter{}, domain.Errorf(domain.ErrValidation, "parentArtifactId is required")
	}
	limit, ok := artifactType.FreeLimit()
	if !ok {
		return domain.RegenerationCounter{}, domain.Errorf(domain.ErrValidation, "unknown artifact type %q", artifactType)
	}

	counter, consumed, err := g.store.Consume(ctx, artifactID, artifactType, limit)
	if err != nil {
		return domain.RegenerationCounter{}, fmt.Errorf("consume regeneration: %w", err)
	}
	if !consumed {
		g.logger.Info().Str("artifact_id", artifactID).Int("used", counter.Used).Msg("regen: limit reached")
		return counter, domain.Errorf(domain.ErrLimitReached, "free regeneration limit of %d reached", limit)
	}
	return counter, nil
}
