package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"creatorhub/internal/domain"
)

func TestReceiveIsIdempotent(t *testing.T) {
	h := newHarness(t, SubmitterConfig{}, nil)
	h.fund(t, "u1", 5, true)
	ctx := context.Background()

	job, err := h.submitter.Submit(ctx, captionRequest("u1", "abc"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	h.receiver.now = func() time.Time { return first }
	delivery := Delivery{JobID: job.ID, OwnerHint: "u1", Provider: domain.ProviderCaptioning, Outcome: Outcome{Status: "succeeded", ResultRef: "https://cdn.example.test/c.srt"}}
	res, err := h.receiver.Receive(ctx, delivery)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if res.Duplicate || res.Job.Status != domain.JobStatusCompleted {
		t.Fatalf("unexpected first result %+v", res)
	}

	h.receiver.now = func() time.Time { return first.Add(time.Hour) }
	for i := 0; i < 3; i++ {
		res, err = h.receiver.Receive(ctx, delivery)
		if err != nil {
			t.Fatalf("duplicate Receive: %v", err)
		}
		if !res.Duplicate {
			t.Fatalf("delivery %d should be a duplicate", i)
		}
	}

	stored, err := h.store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !stored.UpdatedAt.Equal(first) {
		t.Fatalf("UpdatedAt = %s, want %s", stored.UpdatedAt, first)
	}
	if stored.ResultRef != "https://cdn.example.test/c.srt" {
		t.Fatalf("ResultRef = %s", stored.ResultRef)
	}
	if completed, failed := h.notifier.counts(); completed != 1 || failed != 0 {
		t.Fatalf("notifications completed=%d failed=%d", completed, failed)
	}
	if got := h.credits(t, "u1"); got != 4 {
		t.Fatalf("credits = %d, want 4", got)
	}
}

func TestReceiveFailureAfterCompletionIsIgnored(t *testing.T) {
	h := newHarness(t, SubmitterConfig{}, nil)
	h.fund(t, "u1", 5, true)
	ctx := context.Background()

	job, err := h.submitter.Submit(ctx, captionRequest("u1", "k1"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := h.receiver.Receive(ctx, Delivery{JobID: job.ID, Outcome: Outcome{Status: "completed", ResultRef: "r"}}); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	res, err := h.receiver.Receive(ctx, Delivery{JobID: job.ID, Outcome: Outcome{Status: "failed", Error: "late"}})
	if err != nil {
		t.Fatalf("late failure: %v", err)
	}
	if !res.Duplicate || res.Job.Status != domain.JobStatusCompleted {
		t.Fatalf("late failure should not change the job: %+v", res)
	}
}

func TestReceiveChargeOnCompletion(t *testing.T) {
	cfg := SubmitterConfig{ChargeOnCompletion: []domain.Provider{domain.ProviderLipSync}}
	h := newHarness(t, cfg, nil)
	h.fund(t, "u1", 5, true)
	ctx := context.Background()

	lipsync := func(key string) SubmitRequest {
		return SubmitRequest{
			OwnerID:        "u1",
			Provider:       domain.ProviderLipSync,
			IdempotencyKey: key,
			InputRefs:      map[string]string{"video_url": "https://x.test/v.mp4", "audio_url": "https://x.test/a.wav"},
		}
	}

	h.creator.jobID = "ls-ok"
	ok, err := h.submitter.Submit(ctx, lipsync("ls-1"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if ok.Billing.ChargeOn != domain.ChargeOnCompletion {
		t.Fatalf("ChargeOn = %s", ok.Billing.ChargeOn)
	}
	if got := h.credits(t, "u1"); got != 5 {
		t.Fatalf("credits after submit = %d, want 5", got)
	}

	h.creator.jobID = "ls-bad"
	bad, err := h.submitter.Submit(ctx, lipsync("ls-2"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if _, err := h.receiver.Receive(ctx, Delivery{JobID: bad.ID, Outcome: Outcome{Status: "error", Error: "face not found"}}); err != nil {
		t.Fatalf("Receive failure: %v", err)
	}
	if got := h.credits(t, "u1"); got != 5 {
		t.Fatalf("failed job must not charge, credits = %d", got)
	}

	if _, err := h.receiver.Receive(ctx, Delivery{JobID: ok.ID, Outcome: Outcome{Status: "completed", ResultRef: "r"}}); err != nil {
		t.Fatalf("Receive completion: %v", err)
	}
	if _, err := h.receiver.Receive(ctx, Delivery{JobID: ok.ID, Outcome: Outcome{Status: "completed", ResultRef: "r"}}); err != nil {
		t.Fatalf("Receive duplicate: %v", err)
	}
	if got := h.credits(t, "u1"); got != 4 {
		t.Fatalf("credits after completion = %d, want 4", got)
	}
	stored, _ := h.store.Get(ctx, bad.ID)
	if stored.FailureReason != "face not found" {
		t.Fatalf("FailureReason = %q", stored.FailureReason)
	}
	if _, failed := h.notifier.counts(); failed != 1 {
		t.Fatalf("failed notifications = %d", failed)
	}
}

func TestReceiveRejections(t *testing.T) {
	h := newHarness(t, SubmitterConfig{}, nil)
	h.fund(t, "u1", 5, true)
	ctx := context.Background()

	job, err := h.submitter.Submit(ctx, captionRequest("u1", "rej"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	cases := []struct {
		name     string
		delivery Delivery
		want     error
	}{
		{"missing id", Delivery{Outcome: Outcome{Status: "completed"}}, domain.ErrValidation},
		{"unknown job", Delivery{JobID: "nope", Outcome: Outcome{Status: "completed"}}, domain.ErrNotFound},
		{"owner mismatch", Delivery{JobID: job.ID, OwnerHint: "u2", Outcome: Outcome{Status: "completed"}}, domain.ErrAuth},
		{"provider mismatch", Delivery{JobID: job.ID, Provider: domain.ProviderTTS, Outcome: Outcome{Status: "completed"}}, domain.ErrAuth},
		{"unknown status", Delivery{JobID: job.ID, Outcome: Outcome{Status: "queued"}}, domain.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := h.receiver.Receive(ctx, tc.delivery); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	stored, _ := h.store.Get(ctx, job.ID)
	if stored.Status != domain.JobStatusProcessing {
		t.Fatalf("rejected deliveries changed the job: %s", stored.Status)
	}
}

func TestParseStatus(t *testing.T) {
	for _, s := range []string{"completed", "Succeeded", "success", "DONE"} {
		if got, ok := ParseStatus(s); !ok || got != domain.JobStatusCompleted {
			t.Fatalf("ParseStatus(%q) = %s, %v", s, got, ok)
		}
	}
	for _, s := range []string{"error", "failed", "failure", "cancelled"} {
		if got, ok := ParseStatus(s); !ok || got != domain.JobStatusError {
			t.Fatalf("ParseStatus(%q) = %s, %v", s, got, ok)
		}
	}
	if _, ok := ParseStatus("processing"); ok {
		t.Fatalf("processing is not terminal")
	}
}

func TestResubmitAfterSpendStillBillsOnCompletion(t *testing.T) {
	cfg := SubmitterConfig{ChargeOnCompletion: []domain.Provider{domain.ProviderLipSync}}
	h := newHarness(t, cfg, nil)
	h.fund(t, "u1", 1, true)
	ctx := context.Background()
	req := SubmitRequest{
		OwnerID:        "u1",
		Provider:       domain.ProviderLipSync,
		IdempotencyKey: "k1",
		InputRefs:      map[string]string{"video_url": "https://x.test/v.mp4", "audio_url": "https://x.test/a.wav"},
	}

	h.creator.jobID = "ls-1"
	job, err := h.submitter.Submit(ctx, req)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	h.fund(t, "u1", 0, true)
	again, err := h.submitter.Submit(ctx, req)
	if err != nil {
		t.Fatalf("retry after spend: %v", err)
	}
	if again.ID != job.ID || h.creator.Calls() != 1 {
		t.Fatalf("retry returned %s after %d provider calls", again.ID, h.creator.Calls())
	}
	entry, err := h.ledger.Get(ctx, "k1")
	if err != nil || entry.Status != domain.UsageStatusPending {
		t.Fatalf("entry after retry = %+v, %v; want pending", entry, err)
	}

	h.fund(t, "u1", 5, true)
	if _, err := h.receiver.Receive(ctx, Delivery{JobID: job.ID, Outcome: Outcome{Status: "completed", ResultRef: "r"}}); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if got := h.credits(t, "u1"); got != 4 {
		t.Fatalf("credits after completion = %d, want 4", got)
	}
	entry, err = h.ledger.Get(ctx, "k1")
	if err != nil || entry.Status != domain.UsageStatusSuccess {
		t.Fatalf("entry after completion = %+v, %v; want success", entry, err)
	}
}

func TestConcurrentDeliveriesNotifyOnce(t *testing.T) {
	h := newHarness(t, SubmitterConfig{}, nil)
	h.fund(t, "u1", 5, true)
	ctx := context.Background()

	job, err := h.submitter.Submit(ctx, captionRequest("u1", "race"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	var clock atomic.Int64
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	h.receiver.now = func() time.Time { return start.Add(time.Duration(clock.Add(1)) * time.Second) }

	var wg sync.WaitGroup
	var winners atomic.Int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.receiver.Receive(ctx, Delivery{JobID: job.ID, Outcome: Outcome{Status: "completed", ResultRef: "r"}})
			if err != nil {
				t.Errorf("Receive: %v", err)
				return
			}
			if !res.Duplicate {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := winners.Load(); got != 1 {
		t.Fatalf("%d deliveries applied, want 1", got)
	}
	completed, failed := h.notifier.counts()
	if completed != 1 || failed != 0 {
		t.Fatalf("notifications completed=%d failed=%d", completed, failed)
	}
	stored, err := h.store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !stored.UpdatedAt.Equal(h.notifier.completed[0].UpdatedAt) {
		t.Fatalf("UpdatedAt = %s, notified job has %s", stored.UpdatedAt, h.notifier.completed[0].UpdatedAt)
	}
}
