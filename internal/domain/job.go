package domain

import (
	"strings"
	"time"
)

// Provider enumerates the external asynchronous job providers.
type Provider string

const (
	ProviderCaptioning Provider = "captioning"
	ProviderLipSync    Provider = "lipsync"
	ProviderTTS        Provider = "tts"
)

// Providers lists every supported provider in a stable order.
var Providers = []Provider{ProviderCaptioning, ProviderLipSync, ProviderTTS}

// ParseProvider resolves a provider name, case-insensitively.
func ParseProvider(s string) (Provider, bool) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case ProviderCaptioning, ProviderLipSync, ProviderTTS:
		return p, true
	}
	return "", false
}

// UsageKind returns the billable action charged for a job on this provider.
func (p Provider) UsageKind() UsageKind {
	switch p {
	case ProviderCaptioning:
		return UsageKindVideoCaption
	case ProviderLipSync:
		return UsageKindLipSyncVideo
	case ProviderTTS:
		return UsageKindTTSAudio
	}
	return ""
}

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusError      JobStatus = "error"
)

// Terminal reports whether no further transition is permitted from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusError
}

// ChargePolicy selects when a job's usage entry is confirmed.
type ChargePolicy string

const (
	ChargeOnSubmit     ChargePolicy = "submit"
	ChargeOnCompletion ChargePolicy = "completion"
	ChargeNone         ChargePolicy = "none"
)

// JobBilling records how a job is metered.
type JobBilling struct {
	IdempotencyKey string       `json:"idempotency_key"`
	Kind           UsageKind    `json:"kind"`
	Quantity       int          `json:"quantity"`
	ChargeOn       ChargePolicy `json:"charge_on"`
}

// Job tracks one long-running provider job.
type Job struct {
	ID            string            `json:"job_id"`
	OwnerID       string            `json:"owner_id"`
	Provider      Provider          `json:"provider"`
	Status        JobStatus         `json:"status"`
	Simulated     bool              `json:"simulated"`
	InputRefs     map[string]string `json:"input_refs"`
	ResultRef     string            `json:"result_ref,omitempty"`
	FailureReason string            `json:"failure_reason,omitempty"`
	Billing       JobBilling        `json:"billing"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// JobUpdate carries the fields written by a terminal transition.
type JobUpdate struct {
	Status        JobStatus
	ResultRef     string
	FailureReason string
	UpdatedAt     time.Time
}

// Apply returns a copy of j with u applied.
func (j Job) Apply(u JobUpdate) Job {
	j.Status = u.Status
	if u.Status == JobStatusCompleted {
		j.ResultRef = u.ResultRef
	}
	if u.Status == JobStatusError {
		j.FailureReason = u.FailureReason
	}
	j.UpdatedAt = u.UpdatedAt
	return j
}

// CloneRefs copies an input reference map.
func CloneRefs(in map[string]string) map[string]string {
	if in == nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
