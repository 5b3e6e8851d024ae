package regen

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"creatorhub/internal/domain"
	"creatorhub/internal/jobs"
)

// JobSubmitter starts the provider job for a regeneration.
type JobSubmitter interface {
	Validate(req jobs.SubmitRequest) error
	Submit(ctx context.Context, req jobs.SubmitRequest) (*domain.Job, error)
}

// Request asks for one free regeneration of an artifact.
type Request struct {
	OwnerID          string
	ParentArtifactID string
	ArtifactType     domain.ArtifactType
	NewParams        map[string]string
}

// Outcome reports the remaining allowance and the job started for the regeneration.
type Outcome struct {
	Remaining int
	JobID     string
}

type Service struct {
	gate      *Gate
	submitter JobSubmitter
}

func NewService(gate *Gate, submitter JobSubmitter) *Service {
	return &Service{gate: gate, submitter: submitter}
}

// Regenerate validates the job parameters, consumes a free regeneration, then
// submits an unbilled TTS job. The counter stays consumed when the provider
// call fails.
func (s *Service) Regenerate(ctx context.Context, req Request) (Outcome, error) {
	submit := jobs.SubmitRequest{
		OwnerID:     req.OwnerID,
		Provider:    domain.ProviderTTS,
		InputRefs:   req.NewParams,
		SkipBilling: true,
	}
	// The key is filled in after consuming; validate with a placeholder of the same shape.
	submit.IdempotencyKey = jobKey(req.ParentArtifactID, 0)
	if err := s.submitter.Validate(submit); err != nil {
		return Outcome{}, err
	}

	counter, err := s.gate.TryConsume(ctx, req.ParentArtifactID, req.ArtifactType)
	if err != nil {
		return Outcome{}, err
	}
	submit.IdempotencyKey = jobKey(counter.ArtifactID, counter.Used)
	job, err := s.submitter.Submit(ctx, submit)
	if err != nil {
		return Outcome{Remaining: counter.Remaining()}, err
	}
	return Outcome{Remaining: counter.Remaining(), JobID: job.ID}, nil
}

// jobKey derives a bounded idempotency key from an artifact id of any length or content.
func jobKey(artifactID string, used int) string {
	return fmt.Sprintf("regen:%s:%d", uuid.NewSHA1(uuid.NameSpaceURL, []byte(artifactID)), used)
}
