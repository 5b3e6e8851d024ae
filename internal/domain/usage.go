package domain

import "time"

// UsageKind enumerates billable action types.
type UsageKind string

const (
	UsageKindVideoCaption UsageKind = "video_caption"
	UsageKindLipSyncVideo UsageKind = "lipsync_video"
	UsageKindTTSAudio     UsageKind = "tts_audio"
	UsageKindRegeneration UsageKind = "regeneration"
)

// ParseUsageKind validates a kind received over the wire.
func ParseUsageKind(s string) (UsageKind, bool) {
	k := UsageKind(s)
	switch k {
	case UsageKindVideoCaption, UsageKindLipSyncVideo, UsageKindTTSAudio, UsageKindRegeneration:
		return k, true
	}
	return "", false
}

// UsageStatus enumerates ledger entry states.
type UsageStatus string

const (
	UsageStatusPending UsageStatus = "pending"
	UsageStatusSuccess UsageStatus = "success"
	UsageStatusDenied  UsageStatus = "denied"
)

// Charge identifies one logical billable action.
type Charge struct {
	OwnerID        string
	Kind           UsageKind
	Quantity       int
	IdempotencyKey string
}

// UsageLedgerEntry is the single record kept per idempotency key.
type UsageLedgerEntry struct {
	IdempotencyKey string      `json:"idempotency_key"`
	OwnerID        string      `json:"owner_id"`
	Kind           UsageKind   `json:"kind"`
	Quantity       int         `json:"quantity"`
	Status         UsageStatus `json:"status"`
	DenialReason   string      `json:"denial_reason,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
}

// Matches reports whether the entry was recorded for the same action as c.
func (e UsageLedgerEntry) Matches(c Charge) bool {
	return e.OwnerID == c.OwnerID && e.Kind == c.Kind && e.Quantity == c.Quantity
}

// Charge returns the action the entry was recorded for.
func (e UsageLedgerEntry) Charge() Charge {
	return Charge{OwnerID: e.OwnerID, Kind: e.Kind, Quantity: e.Quantity, IdempotencyKey: e.IdempotencyKey}
}

// NewEntry builds an entry for c in the given state.
func NewEntry(c Charge, status UsageStatus, now time.Time) UsageLedgerEntry {
	e := UsageLedgerEntry{
		IdempotencyKey: c.IdempotencyKey,
		OwnerID:        c.OwnerID,
		Kind:           c.Kind,
		Quantity:       c.Quantity,
		Status:         status,
		CreatedAt:      now,
	}
	if status != UsageStatusPending {
		done := now
		e.CompletedAt = &done
	}
	return e
}

// Account is the credit and subscription record of one owner.
type Account struct {
	OwnerID            string    `json:"owner_id"`
	SubscriptionActive bool      `json:"subscription_active"`
	Credits            int       `json:"credits"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Denial codes persisted on denied entries.
const (
	DenialInsufficientCredit   = "insufficient_credit"
	DenialNoActiveSubscription = "no_active_subscription"
)

// DenialError maps a persisted denial reason back to its error kind.
func DenialError(reason string) error {
	switch reason {
	case DenialNoActiveSubscription:
		return ErrNoActiveSubscription
	default:
		return ErrInsufficientCredit
	}
}
