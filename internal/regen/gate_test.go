package regen

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"creatorhub/internal/adapter/memory"
	"creatorhub/internal/domain"
	"creatorhub/internal/infra"
	"creatorhub/internal/jobs"
)

func TestTryConsumeCapsAudio(t *testing.T) {
	gate := NewGate(memory.New(), infra.NopLogger())
	ctx := context.Background()

	first, err := gate.TryConsume(ctx, "a1", domain.ArtifactAudio)
	if err != nil || first.Remaining() != 1 {
		t.Fatalf("first = %+v, %v", first, err)
	}
	second, err := gate.TryConsume(ctx, "a1", domain.ArtifactAudio)
	if err != nil || second.Remaining() != 0 {
		t.Fatalf("second = %+v, %v", second, err)
	}
	third, err := gate.TryConsume(ctx, "a1", domain.ArtifactAudio)
	if !errors.Is(err, domain.ErrLimitReached) {
		t.Fatalf("third: expected limit reached, got %v", err)
	}
	if third.Used != 2 {
		t.Fatalf("used = %d after rejection, want 2", third.Used)
	}
}

func TestTryConsumeValidation(t *testing.T) {
	gate := NewGate(memory.New(), infra.NopLogger())
	if _, err := gate.TryConsume(context.Background(), "a1", "video"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("unknown type: %v", err)
	}
	if _, err := gate.TryConsume(context.Background(), " ", domain.ArtifactScript); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("empty id: %v", err)
	}
}

func TestTryConsumeConcurrent(t *testing.T) {
	gate := NewGate(memory.New(), infra.NopLogger())
	var wg sync.WaitGroup
	var ok atomic.Int32
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := gate.TryConsume(context.Background(), "a1", domain.ArtifactAudio); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()
	if ok.Load() != 2 {
		t.Fatalf("%d regenerations succeeded, want 2", ok.Load())
	}
}

type stubSubmitter struct {
	rules *jobs.Submitter
	reqs  []jobs.SubmitRequest
	err   error
}

func newStubSubmitter(err error) *stubSubmitter {
	rules := jobs.NewSubmitter(nil, nil, nil, nil, nil, jobs.SubmitterConfig{}, infra.NopLogger())
	return &stubSubmitter{rules: rules, err: err}
}

func (s *stubSubmitter) Validate(req jobs.SubmitRequest) error {
	return s.rules.Validate(req)
}

func (s *stubSubmitter) Submit(_ context.Context, req jobs.SubmitRequest) (*domain.Job, error) {
	if err := s.rules.Validate(req); err != nil {
		return nil, err
	}
	s.reqs = append(s.reqs, req)
	if s.err != nil {
		return nil, s.err
	}
	return &domain.Job{ID: "job-" + req.IdempotencyKey, Status: domain.JobStatusProcessing}, nil
}

func TestRegenerateSubmitsFreeJob(t *testing.T) {
	sub := newStubSubmitter(nil)
	svc := NewService(NewGate(memory.New(), infra.NopLogger()), sub)
	req := Request{OwnerID: "u1", ParentArtifactID: "a1", ArtifactType: domain.ArtifactAudio, NewParams: map[string]string{"text": "hi", "voice_id": "v2"}}

	out, err := svc.Regenerate(context.Background(), req)
	if err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	if out.Remaining != 1 || out.JobID != "job-"+jobKey("a1", 1) {
		t.Fatalf("unexpected outcome %+v", out)
	}
	got := sub.reqs[0]
	if !got.SkipBilling || got.Provider != domain.ProviderTTS || got.OwnerID != "u1" {
		t.Fatalf("unexpected submit request %+v", got)
	}
}

func TestRegenerateDoesNotRefundOnUpstreamFailure(t *testing.T) {
	store := memory.New()
	sub := newStubSubmitter(domain.Errorf(domain.ErrUpstreamUnavailable, "down"))
	svc := NewService(NewGate(store, infra.NopLogger()), sub)
	req := Request{OwnerID: "u1", ParentArtifactID: "a1", ArtifactType: domain.ArtifactAudio, NewParams: map[string]string{"text": "hi", "voice_id": "v"}}

	if _, err := svc.Regenerate(context.Background(), req); !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	counter, err := store.GetCounter(context.Background(), "a1")
	if err != nil {
		t.Fatalf("GetCounter: %v", err)
	}
	if counter.Used != 1 {
		t.Fatalf("used = %d, want 1", counter.Used)
	}

	sub.err = nil
	_, _ = svc.Regenerate(context.Background(), req)
	if _, err := svc.Regenerate(context.Background(), req); !errors.Is(err, domain.ErrLimitReached) {
		t.Fatalf("expected limit reached, got %v", err)
	}
	if len(sub.reqs) != 2 {
		t.Fatalf("submitter called %d times, want 2", len(sub.reqs))
	}
}

func TestRegenerateRejectsInvalidParamsWithoutConsuming(t *testing.T) {
	store := memory.New()
	sub := newStubSubmitter(nil)
	svc := NewService(NewGate(store, infra.NopLogger()), sub)
	req := Request{OwnerID: "u1", ParentArtifactID: "a1", ArtifactType: domain.ArtifactAudio, NewParams: map[string]string{"foo": "bar"}}

	for i := 0; i < 3; i++ {
		if _, err := svc.Regenerate(context.Background(), req); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("attempt %d: expected validation error, got %v", i, err)
		}
	}
	if _, err := store.GetCounter(context.Background(), "a1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("invalid params consumed a regeneration: %v", err)
	}
	if len(sub.reqs) != 0 {
		t.Fatalf("submitter called %d times, want 0", len(sub.reqs))
	}
}

func TestRegenerateAcceptsAnyArtifactID(t *testing.T) {
	ids := map[string]string{
		"long":       strings.Repeat("a", 250),
		"with space": "artifact with spaces",
		"unicode":    "artefakt-ä-✓",
	}
	for name, id := range ids {
		t.Run(name, func(t *testing.T) {
			sub := newStubSubmitter(nil)
			svc := NewService(NewGate(memory.New(), infra.NopLogger()), sub)
			req := Request{OwnerID: "u1", ParentArtifactID: id, ArtifactType: domain.ArtifactAudio, NewParams: map[string]string{"text": "hi", "voice_id": "v"}}

			first, err := svc.Regenerate(context.Background(), req)
			if err != nil {
				t.Fatalf("first Regenerate: %v", err)
			}
			second, err := svc.Regenerate(context.Background(), req)
			if err != nil {
				t.Fatalf("second Regenerate: %v", err)
			}
			if first.JobID == second.JobID || second.Remaining != 0 {
				t.Fatalf("outcomes %+v then %+v", first, second)
			}
		})
	}
}
