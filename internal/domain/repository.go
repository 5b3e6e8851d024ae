package domain

import (
	"context"
	"time"
)

// JobStateStore persists jobs. Every status change goes through CompareAndSwapStatus.
type JobStateStore interface {
	// Get returns ErrNotFound when the job does not exist.
	Get(ctx context.Context, jobID string) (*Job, error)
	// PutIfAbsent inserts job unless a job with the same ID or billing key exists.
	PutIfAbsent(ctx context.Context, job *Job) (bool, error)
	// CompareAndSwapStatus applies update only while the stored status equals expected.
	CompareAndSwapStatus(ctx context.Context, jobID string, expected JobStatus, update JobUpdate) (bool, error)
	// FindByIdempotencyKey returns ErrNotFound when no job was billed under key.
	FindByIdempotencyKey(ctx context.Context, key string) (*Job, error)
	ListProcessingBefore(ctx context.Context, cutoff time.Time, limit int) ([]Job, error)
}

// LedgerStore persists usage ledger entries and the accounts they charge.
type LedgerStore interface {
	GetEntry(ctx context.Context, key string) (*UsageLedgerEntry, error)
	// CreatePending inserts a pending entry if the key is absent and returns the stored entry.
	CreatePending(ctx context.Context, entry UsageLedgerEntry) (UsageLedgerEntry, bool, error)
	// Deny records a denied entry when the key is absent. An existing entry is
	// returned unchanged, so a reserved pending key is never denied.
	Deny(ctx context.Context, entry UsageLedgerEntry) (UsageLedgerEntry, error)
	// ConfirmCharge moves an absent or pending entry to success and deducts the
	// account in the same atomic operation. charged is false when the entry was
	// already in a terminal state. It returns ErrInsufficientCredit or
	// ErrNoActiveSubscription without leaving any entry behind when the account cannot pay.
	ConfirmCharge(ctx context.Context, entry UsageLedgerEntry) (stored UsageLedgerEntry, charged bool, err error)

	GetAccount(ctx context.Context, ownerID string) (*Account, error)
	UpsertAccount(ctx context.Context, account Account) error
	AddCredits(ctx context.Context, ownerID string, delta int) (*Account, error)
}

// RegenerationStore persists regeneration counters.
type RegenerationStore interface {
	// Consume increments used when it is below limit, creating the counter lazily.
	// ok is false and nothing changes when the limit is already reached.
	Consume(ctx context.Context, artifactID string, artifactType ArtifactType, limit int) (counter RegenerationCounter, ok bool, err error)
	GetCounter(ctx context.Context, artifactID string) (*RegenerationCounter, error)
}

// Notifier is the downstream hook called once per terminal job transition.
type Notifier interface {
	JobCompleted(ctx context.Context, job Job) error
	JobFailed(ctx context.Context, job Job) error
}
