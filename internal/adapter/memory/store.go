// Package memory provides in-process implementations of the domain stores.
// It backs tests and single-process simulated deployments.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"creatorhub/internal/domain"
)

type Store struct {
	mu sync.RWMutex

	jobs      map[string]domain.Job
	jobsByKey map[string]string

	entries  map[string]domain.UsageLedgerEntry
	accounts map[string]domain.Account

	counters map[string]domain.RegenerationCounter

	now func() time.Time
}

func New() *Store {
	return &Store{
		jobs:      make(map[string]domain.Job),
		jobsByKey: make(map[string]string),
		entries:   make(map[string]domain.UsageLedgerEntry),
		accounts:  make(map[string]domain.Account),
		counters:  make(map[string]domain.RegenerationCounter),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

var (
	_ domain.JobStateStore     = (*Store)(nil)
	_ domain.LedgerStore       = (*Store)(nil)
	_ domain.RegenerationStore = (*Store)(nil)
)

// Job store

func (s *Store) Get(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[strings.TrimSpace(jobID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneJob(job), nil
}

func (s *Store) PutIfAbsent(_ context.Context, job *domain.Job) (bool, error) {
	if job == nil || strings.TrimSpace(job.ID) == "" {
		return false, domain.Errorf(domain.ErrValidation, "job id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return false, nil
	}
	key := job.Billing.IdempotencyKey
	if _, taken := s.jobsByKey[key]; key != "" && taken {
		return false, nil
	}
	s.jobs[job.ID] = *cloneJob(*job)
	if key != "" {
		s.jobsByKey[key] = job.ID
	}
	return true, nil
}

func (s *Store) CompareAndSwapStatus(_ context.Context, jobID string, expected domain.JobStatus, update domain.JobUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if job.Status != expected {
		return false, nil
	}
	s.jobs[jobID] = job.Apply(update)
	return true, nil
}

func (s *Store) FindByIdempotencyKey(_ context.Context, key string) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.jobsByKey[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneJob(s.jobs[id]), nil
}

func (s *Store) ListProcessingBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	items := make([]domain.Job, 0)
	for _, job := range s.jobs {
		if job.Status == domain.JobStatusProcessing && job.UpdatedAt.Before(cutoff) {
			items = append(items, *cloneJob(job))
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].UpdatedAt.Before(items[j].UpdatedAt)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// Ledger store

func (s *Store) GetEntry(_ context.Context, key string) (*domain.UsageLedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &entry, nil
}

func (s *Store) CreatePending(_ context.Context, entry domain.UsageLedgerEntry) (domain.UsageLedgerEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[entry.IdempotencyKey]; ok {
		return existing, false, nil
	}
	entry.Status = domain.UsageStatusPending
	entry.CompletedAt = nil
	s.entries[entry.IdempotencyKey] = entry
	return entry, true, nil
}

func (s *Store) Deny(_ context.Context, entry domain.UsageLedgerEntry) (domain.UsageLedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[entry.IdempotencyKey]; ok {
		if !sameAction(existing, entry) {
			return existing, domain.ErrConflict
		}
		return existing, nil
	}
	entry.Status = domain.UsageStatusDenied
	entry.CompletedAt = completedAt(entry.CompletedAt, s.now())
	s.entries[entry.IdempotencyKey] = entry
	return entry, nil
}

func (s *Store) ConfirmCharge(_ context.Context, entry domain.UsageLedgerEntry) (domain.UsageLedgerEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.entries[entry.IdempotencyKey]
	if ok {
		if !sameAction(existing, entry) {
			return existing, false, domain.ErrConflict
		}
		switch existing.Status {
		case domain.UsageStatusSuccess:
			return existing, false, nil
		case domain.UsageStatusDenied:
			return existing, false, domain.DenialError(existing.DenialReason)
		}
		entry.CreatedAt = existing.CreatedAt
	}

	account, found := s.accounts[entry.OwnerID]
	if !found || !account.SubscriptionActive {
		return domain.UsageLedgerEntry{}, false, domain.ErrNoActiveSubscription
	}
	if account.Credits < entry.Quantity {
		return domain.UsageLedgerEntry{}, false, domain.ErrInsufficientCredit
	}
	now := s.now()
	account.Credits -= entry.Quantity
	account.UpdatedAt = now
	s.accounts[entry.OwnerID] = account

	entry.Status = domain.UsageStatusSuccess
	entry.DenialReason = ""
	entry.CompletedAt = completedAt(entry.CompletedAt, now)
	s.entries[entry.IdempotencyKey] = entry
	return entry, true, nil
}

func (s *Store) GetAccount(_ context.Context, ownerID string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[ownerID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &account, nil
}

func (s *Store) UpsertAccount(_ context.Context, account domain.Account) error {
	if strings.TrimSpace(account.OwnerID) == "" {
		return domain.Errorf(domain.ErrValidation, "owner id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	account.UpdatedAt = s.now()
	s.accounts[account.OwnerID] = account
	return nil
}

func (s *Store) AddCredits(_ context.Context, ownerID string, delta int) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[ownerID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	account.Credits += delta
	if account.Credits < 0 {
		account.Credits = 0
	}
	account.UpdatedAt = s.now()
	s.accounts[ownerID] = account
	return &account, nil
}

// Regeneration store

func (s *Store) Consume(_ context.Context, artifactID string, artifactType domain.ArtifactType, limit int) (domain.RegenerationCounter, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	counter, ok := s.counters[artifactID]
	if !ok {
		counter = domain.RegenerationCounter{
			ArtifactID:   artifactID,
			ArtifactType: artifactType,
			CreatedAt:    now,
		}
	}
	counter.FreeLimit = limit
	if counter.Used >= limit {
		return counter, false, nil
	}
	counter.Used++
	counter.UpdatedAt = now
	s.counters[artifactID] = counter
	return counter, true, nil
}

func (s *Store) GetCounter(_ context.Context, artifactID string) (*domain.RegenerationCounter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counter, ok := s.counters[artifactID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &counter, nil
}

func cloneJob(job domain.Job) *domain.Job {
	job.InputRefs = domain.CloneRefs(job.InputRefs)
	return &job
}

func sameAction(a, b domain.UsageLedgerEntry) bool {
	return a.Matches(b.Charge())
}

func completedAt(t *time.Time, fallback time.Time) *time.Time {
	if t != nil && !t.IsZero() {
		return t
	}
	return &fallback
}
