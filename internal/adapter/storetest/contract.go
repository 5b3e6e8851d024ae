// Package storetest holds behaviour checks shared by every store backend.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"creatorhub/internal/domain"
)

// Backend is the set of stores one backend provides.
type Backend interface {
	domain.JobStateStore
	domain.LedgerStore
	domain.RegenerationStore
}

// Run executes every contract check against stores built by open.
func Run(t *testing.T, open func(t *testing.T) Backend) {
	t.Helper()
	checks := []struct {
		name string
		fn   func(t *testing.T, b Backend)
	}{
		{"JobPutIfAbsent", checkJobPutIfAbsent},
		{"JobCompareAndSwap", checkJobCompareAndSwap},
		{"JobListProcessingBefore", checkListProcessingBefore},
		{"LedgerConfirmChargesOnce", checkConfirmChargesOnce},
		{"LedgerConfirmDenials", checkConfirmDenials},
		{"LedgerConflict", checkConflict},
		{"LedgerDenyIsTerminal", checkDenyIsTerminal},
		{"LedgerDenyKeepsPending", checkDenyKeepsPending},
		{"LedgerFailedConfirmLeavesNoEntry", checkFailedConfirmLeavesNoEntry},
		{"LedgerCreatePending", checkCreatePending},
		{"LedgerNoOverdraft", checkNoOverdraft},
		{"AccountCredits", checkAccountCredits},
		{"RegenerationLimit", checkRegenerationLimit},
	}
	for _, c := range checks {
		t.Run(c.name, func(t *testing.T) {
			c.fn(t, open(t))
		})
	}
}

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newJob(id, key string, updated time.Time) *domain.Job {
	return &domain.Job{
		ID:        id,
		OwnerID:   "owner-1",
		Provider:  domain.ProviderCaptioning,
		Status:    domain.JobStatusProcessing,
		InputRefs: map[string]string{"video_url": "https://cdn.example.com/" + id + ".mp4"},
		Billing: domain.JobBilling{
			IdempotencyKey: key,
			Kind:           domain.UsageKindVideoCaption,
			Quantity:       1,
			ChargeOn:       domain.ChargeOnSubmit,
		},
		CreatedAt: updated,
		UpdatedAt: updated,
	}
}

func entry(owner, key string, qty int) domain.UsageLedgerEntry {
	c := domain.Charge{OwnerID: owner, Kind: domain.UsageKindVideoCaption, Quantity: qty, IdempotencyKey: key}
	return domain.NewEntry(c, domain.UsageStatusSuccess, base)
}

func fund(t *testing.T, b Backend, owner string, active bool, credits int) {
	t.Helper()
	if err := b.UpsertAccount(context.Background(), domain.Account{OwnerID: owner, SubscriptionActive: active, Credits: credits}); err != nil {
		t.Fatalf("UpsertAccount: %v", err)
	}
}

func credits(t *testing.T, b Backend, owner string) int {
	t.Helper()
	account, err := b.GetAccount(context.Background(), owner)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	return account.Credits
}

func checkJobPutIfAbsent(t *testing.T, b Backend) {
	ctx := context.Background()
	job := newJob("job-1", "key-1", base)

	inserted, err := b.PutIfAbsent(ctx, job)
	if err != nil || !inserted {
		t.Fatalf("PutIfAbsent = %v, %v; want true", inserted, err)
	}
	inserted, err = b.PutIfAbsent(ctx, job)
	if err != nil || inserted {
		t.Fatalf("second PutIfAbsent = %v, %v; want false", inserted, err)
	}
	inserted, err = b.PutIfAbsent(ctx, newJob("job-2", "key-1", base))
	if err != nil || inserted {
		t.Fatalf("PutIfAbsent with taken key = %v, %v; want false", inserted, err)
	}

	got, err := b.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.InputRefs["video_url"] != job.InputRefs["video_url"] || got.Billing.Kind != domain.UsageKindVideoCaption {
		t.Fatalf("stored job differs: %+v", got)
	}
	byKey, err := b.FindByIdempotencyKey(ctx, "key-1")
	if err != nil || byKey.ID != "job-1" {
		t.Fatalf("FindByIdempotencyKey = %+v, %v", byKey, err)
	}
	if _, err := b.Get(ctx, "job-2"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get(job-2) error = %v, want ErrNotFound", err)
	}
	if _, err := b.FindByIdempotencyKey(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("FindByIdempotencyKey(missing) error = %v, want ErrNotFound", err)
	}
}

func checkJobCompareAndSwap(t *testing.T, b Backend) {
	ctx := context.Background()
	if _, err := b.PutIfAbsent(ctx, newJob("job-1", "key-1", base)); err != nil {
		t.Fatalf("PutIfAbsent: %v", err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		swapped int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := b.CompareAndSwapStatus(ctx, "job-1", domain.JobStatusProcessing, domain.JobUpdate{
				Status:    domain.JobStatusCompleted,
				ResultRef: "https://cdn.example.com/out.srt",
				UpdatedAt: base.Add(time.Minute),
			})
			if err != nil {
				t.Errorf("CompareAndSwapStatus: %v", err)
				return
			}
			if ok {
				mu.Lock()
				swapped++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if swapped != 1 {
		t.Fatalf("swapped %d times, want 1", swapped)
	}

	got, err := b.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.JobStatusCompleted || got.ResultRef != "https://cdn.example.com/out.srt" {
		t.Fatalf("unexpected job after swap: %+v", got)
	}
	if _, err := b.CompareAndSwapStatus(ctx, "nope", domain.JobStatusProcessing, domain.JobUpdate{Status: domain.JobStatusError}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("CompareAndSwapStatus on missing job = %v, want ErrNotFound", err)
	}
}

func checkListProcessingBefore(t *testing.T, b Backend) {
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		job := newJob(fmt.Sprintf("job-%d", i), fmt.Sprintf("key-%d", i), base.Add(time.Duration(3-i)*time.Minute))
		if _, err := b.PutIfAbsent(ctx, job); err != nil {
			t.Fatalf("PutIfAbsent: %v", err)
		}
	}
	if _, err := b.CompareAndSwapStatus(ctx, "job-3", domain.JobStatusProcessing, domain.JobUpdate{Status: domain.JobStatusError, FailureReason: "x", UpdatedAt: base}); err != nil {
		t.Fatalf("CompareAndSwapStatus: %v", err)
	}

	items, err := b.ListProcessingBefore(ctx, base.Add(150*time.Second), 10)
	if err != nil {
		t.Fatalf("ListProcessingBefore: %v", err)
	}
	if len(items) != 2 || items[0].ID != "job-2" || items[1].ID != "job-1" {
		t.Fatalf("unexpected stale jobs: %+v", items)
	}
	limited, err := b.ListProcessingBefore(ctx, base.Add(time.Hour), 1)
	if err != nil || len(limited) != 1 || limited[0].ID != "job-2" {
		t.Fatalf("limited list = %+v, %v", limited, err)
	}
}

func checkConfirmChargesOnce(t *testing.T, b Backend) {
	ctx := context.Background()
	fund(t, b, "owner-1", true, 5)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		charged int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := b.ConfirmCharge(ctx, entry("owner-1", "abc", 1))
			if err != nil {
				t.Errorf("ConfirmCharge: %v", err)
				return
			}
			if ok {
				mu.Lock()
				charged++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if charged != 1 {
		t.Fatalf("charged %d times, want 1", charged)
	}
	if got := credits(t, b, "owner-1"); got != 4 {
		t.Fatalf("credits = %d, want 4", got)
	}
	stored, err := b.GetEntry(ctx, "abc")
	if err != nil || stored.Status != domain.UsageStatusSuccess || stored.CompletedAt == nil {
		t.Fatalf("stored entry = %+v, %v", stored, err)
	}
}

func checkConfirmDenials(t *testing.T, b Backend) {
	ctx := context.Background()
	if _, _, err := b.ConfirmCharge(ctx, entry("ghost", "k1", 1)); !errors.Is(err, domain.ErrNoActiveSubscription) {
		t.Fatalf("missing account error = %v", err)
	}
	fund(t, b, "inactive", false, 10)
	if _, _, err := b.ConfirmCharge(ctx, entry("inactive", "k2", 1)); !errors.Is(err, domain.ErrNoActiveSubscription) {
		t.Fatalf("inactive account error = %v", err)
	}
	fund(t, b, "broke", true, 1)
	if _, _, err := b.ConfirmCharge(ctx, entry("broke", "k3", 2)); !errors.Is(err, domain.ErrInsufficientCredit) {
		t.Fatalf("insufficient credit error = %v", err)
	}
	if got := credits(t, b, "broke"); got != 1 {
		t.Fatalf("denied confirm changed credits to %d", got)
	}
	if stored, err := b.GetEntry(ctx, "k3"); err == nil && stored.Status == domain.UsageStatusSuccess {
		t.Fatalf("denied confirm stored success")
	}
}

func checkConflict(t *testing.T, b Backend) {
	ctx := context.Background()
	fund(t, b, "a", true, 5)
	fund(t, b, "b", true, 5)
	if _, _, err := b.ConfirmCharge(ctx, entry("a", "shared", 1)); err != nil {
		t.Fatalf("ConfirmCharge: %v", err)
	}
	if _, _, err := b.ConfirmCharge(ctx, entry("b", "shared", 1)); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("other owner error = %v, want ErrConflict", err)
	}
	if _, _, err := b.ConfirmCharge(ctx, entry("a", "shared", 2)); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("other quantity error = %v, want ErrConflict", err)
	}
	if got := credits(t, b, "b"); got != 5 {
		t.Fatalf("conflicting confirm charged owner b: %d", got)
	}
}

func checkDenyIsTerminal(t *testing.T, b Backend) {
	ctx := context.Background()
	denied := entry("owner-1", "xyz", 1)
	denied.Status = domain.UsageStatusDenied
	denied.DenialReason = domain.DenialInsufficientCredit

	stored, err := b.Deny(ctx, denied)
	if err != nil || stored.Status != domain.UsageStatusDenied {
		t.Fatalf("Deny = %+v, %v", stored, err)
	}
	again, err := b.Deny(ctx, denied)
	if err != nil || again.Status != domain.UsageStatusDenied {
		t.Fatalf("second Deny = %+v, %v", again, err)
	}

	fund(t, b, "owner-1", true, 10)
	if _, _, err := b.ConfirmCharge(ctx, entry("owner-1", "xyz", 1)); !errors.Is(err, domain.ErrInsufficientCredit) {
		t.Fatalf("confirm after deny = %v, want recorded denial", err)
	}
	if got := credits(t, b, "owner-1"); got != 10 {
		t.Fatalf("confirm after deny charged: %d", got)
	}

	other := denied
	other.OwnerID = "someone-else"
	if _, err := b.Deny(ctx, other); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Deny for other owner = %v, want ErrConflict", err)
	}
}

func checkDenyKeepsPending(t *testing.T, b Backend) {
	ctx := context.Background()
	pending := domain.NewEntry(domain.Charge{OwnerID: "owner-1", Kind: domain.UsageKindLipSyncVideo, Quantity: 1, IdempotencyKey: "held"}, domain.UsageStatusPending, base)
	if _, _, err := b.CreatePending(ctx, pending); err != nil {
		t.Fatalf("CreatePending: %v", err)
	}

	denied := domain.NewEntry(pending.Charge(), domain.UsageStatusDenied, base)
	denied.DenialReason = domain.DenialInsufficientCredit
	stored, err := b.Deny(ctx, denied)
	if err != nil || stored.Status != domain.UsageStatusPending {
		t.Fatalf("Deny on pending = %+v, %v; want pending kept", stored, err)
	}

	fund(t, b, "owner-1", true, 2)
	if _, charged, err := b.ConfirmCharge(ctx, domain.NewEntry(pending.Charge(), domain.UsageStatusSuccess, base)); err != nil || !charged {
		t.Fatalf("confirm after Deny = %v, %v; want charged", charged, err)
	}
}

func checkFailedConfirmLeavesNoEntry(t *testing.T, b Backend) {
	ctx := context.Background()
	fund(t, b, "owner-1", true, 0)
	if _, _, err := b.ConfirmCharge(ctx, entry("owner-1", "broke", 1)); !errors.Is(err, domain.ErrInsufficientCredit) {
		t.Fatalf("ConfirmCharge = %v, want ErrInsufficientCredit", err)
	}
	if _, err := b.GetEntry(ctx, "broke"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetEntry after failed confirm = %v, want ErrNotFound", err)
	}
}

func checkCreatePending(t *testing.T, b Backend) {
	ctx := context.Background()
	pending := domain.NewEntry(domain.Charge{OwnerID: "owner-1", Kind: domain.UsageKindTTSAudio, Quantity: 1, IdempotencyKey: "p1"}, domain.UsageStatusPending, base)

	_, created, err := b.CreatePending(ctx, pending)
	if err != nil || !created {
		t.Fatalf("CreatePending = %v, %v; want created", created, err)
	}
	stored, created, err := b.CreatePending(ctx, pending)
	if err != nil || created || stored.Status != domain.UsageStatusPending {
		t.Fatalf("second CreatePending = %+v, %v, %v", stored, created, err)
	}

	fund(t, b, "owner-1", true, 3)
	confirm := domain.NewEntry(pending.Charge(), domain.UsageStatusSuccess, base)
	if _, charged, err := b.ConfirmCharge(ctx, confirm); err != nil || !charged {
		t.Fatalf("confirm pending = %v, %v", charged, err)
	}
	if got := credits(t, b, "owner-1"); got != 2 {
		t.Fatalf("credits = %d, want 2", got)
	}
}

func checkNoOverdraft(t *testing.T, b Backend) {
	ctx := context.Background()
	fund(t, b, "owner-1", true, 3)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		charged int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, ok, err := b.ConfirmCharge(ctx, entry("owner-1", fmt.Sprintf("k-%d", i), 1))
			if err != nil && !errors.Is(err, domain.ErrInsufficientCredit) {
				t.Errorf("ConfirmCharge: %v", err)
				return
			}
			if ok {
				mu.Lock()
				charged++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if charged != 3 {
		t.Fatalf("charged %d distinct keys, want 3", charged)
	}
	if got := credits(t, b, "owner-1"); got != 0 {
		t.Fatalf("credits = %d, want 0", got)
	}
}

func checkAccountCredits(t *testing.T, b Backend) {
	ctx := context.Background()
	if _, err := b.AddCredits(ctx, "ghost", 5); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("AddCredits on missing account = %v", err)
	}
	fund(t, b, "owner-1", true, 2)
	account, err := b.AddCredits(ctx, "owner-1", 5)
	if err != nil || account.Credits != 7 {
		t.Fatalf("AddCredits = %+v, %v", account, err)
	}
	account, err = b.AddCredits(ctx, "owner-1", -100)
	if err != nil || account.Credits != 0 {
		t.Fatalf("AddCredits below zero = %+v, %v", account, err)
	}
}

func checkRegenerationLimit(t *testing.T, b Backend) {
	ctx := context.Background()

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, consumed, err := b.Consume(ctx, "artifact-1", domain.ArtifactAudio, 2)
			if err != nil {
				t.Errorf("Consume: %v", err)
				return
			}
			if consumed {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if ok != 2 {
		t.Fatalf("consumed %d times, want 2", ok)
	}

	counter, err := b.GetCounter(ctx, "artifact-1")
	if err != nil || counter.Used != 2 || counter.Remaining() != 0 {
		t.Fatalf("counter = %+v, %v", counter, err)
	}
	if _, err := b.GetCounter(ctx, "artifact-2"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetCounter(missing) = %v", err)
	}
}
