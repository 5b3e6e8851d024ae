package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"creatorhub/internal/adapter/memory"
	"creatorhub/internal/domain"
	"creatorhub/internal/infra"
	"creatorhub/internal/providers/media"
	"creatorhub/internal/usage"
)

const testSecret = "test-callback-secret"

type fakeCreator struct {
	mu       sync.Mutex
	calls    int
	requests []media.JobRequest
	jobID    string
	err      error
}

func (f *fakeCreator) CreateJob(_ context.Context, req media.JobRequest) (media.Accepted, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.requests = append(f.requests, req)
	if f.err != nil {
		return media.Accepted{}, f.err
	}
	return media.Accepted{JobID: f.jobID, Status: "processing"}, nil
}

func (f *fakeCreator) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingNotifier struct {
	mu        sync.Mutex
	completed []domain.Job
	failed    []domain.Job
}

func (n *recordingNotifier) JobCompleted(_ context.Context, job domain.Job) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, job)
	return nil
}

func (n *recordingNotifier) JobFailed(_ context.Context, job domain.Job) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, job)
	return nil
}

func (n *recordingNotifier) counts() (int, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.completed), len(n.failed)
}

type nopEnqueuer struct{}

func (nopEnqueuer) Enqueue(context.Context, Delivery) error { return nil }

type harness struct {
	store     *memory.Store
	ledger    *usage.Ledger
	tokens    *CallbackTokens
	notifier  *recordingNotifier
	receiver  *WebhookReceiver
	submitter *Submitter
	creator   *fakeCreator
}

func newHarness(t *testing.T, cfg SubmitterConfig, enqueuer Enqueuer) *harness {
	t.Helper()
	logger := infra.NopLogger()
	store := memory.New()
	ledger := usage.NewLedger(store, logger)
	tokens := NewCallbackTokens(testSecret, time.Hour)
	notifier := &recordingNotifier{}
	creator := &fakeCreator{jobID: "prov-1"}
	creators := map[domain.Provider]media.Creator{
		domain.ProviderCaptioning: creator,
		domain.ProviderLipSync:    creator,
		domain.ProviderTTS:        creator,
	}
	if enqueuer == nil {
		enqueuer = nopEnqueuer{}
	}
	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = "https://api.example.test"
	}
	return &harness{
		store:     store,
		ledger:    ledger,
		tokens:    tokens,
		notifier:  notifier,
		receiver:  NewWebhookReceiver(store, ledger, notifier, logger),
		submitter: NewSubmitter(store, ledger, creators, tokens, enqueuer, cfg, logger),
		creator:   creator,
	}
}

func (h *harness) fund(t *testing.T, owner string, credits int, active bool) {
	t.Helper()
	if err := h.store.UpsertAccount(context.Background(), domain.Account{OwnerID: owner, Credits: credits, SubscriptionActive: active}); err != nil {
		t.Fatalf("UpsertAccount: %v", err)
	}
}

func (h *harness) credits(t *testing.T, owner string) int {
	t.Helper()
	account, err := h.store.GetAccount(context.Background(), owner)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	return account.Credits
}

func captionRequest(owner, key string) SubmitRequest {
	return SubmitRequest{
		OwnerID:        owner,
		Provider:       domain.ProviderCaptioning,
		InputRefs:      map[string]string{"video_url": "https://cdn.example.test/v.mp4"},
		IdempotencyKey: key,
	}
}
