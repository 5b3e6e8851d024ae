// Package notify implements the downstream hook called when a job reaches a
// terminal state.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"creatorhub/internal/domain"
	"creatorhub/internal/infra"
)

const (
	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"
)

// Log records terminal transitions in the service log.
type Log struct {
	logger infra.Logger
}

func NewLog(logger infra.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) JobCompleted(_ context.Context, job domain.Job) error {
	l.logger.Info().
		Str("job_id", job.ID).
		Str("owner_id", job.OwnerID).
		Str("provider", string(job.Provider)).
		Str("result_ref", job.ResultRef).
		Bool("simulated", job.Simulated).
		Msg("notify: job completed")
	return nil
}

func (l *Log) JobFailed(_ context.Context, job domain.Job) error {
	l.logger.Warn().
		Str("job_id", job.ID).
		Str("owner_id", job.OwnerID).
		Str("provider", string(job.Provider)).
		Str("reason", job.FailureReason).
		Msg("notify: job failed")
	return nil
}

// Event is the JSON body posted by HTTP.
type Event struct {
	Type       string     `json:"type"`
	Job        domain.Job `json:"job"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// HTTP posts terminal transitions to an external endpoint.
type HTTP struct {
	url    string
	client *http.Client
	now    func() time.Time
}

func NewHTTP(url string, client *http.Client) *HTTP {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTP{url: strings.TrimSpace(url), client: client, now: func() time.Time { return time.Now().UTC() }}
}

func (h *HTTP) JobCompleted(ctx context.Context, job domain.Job) error {
	return h.post(ctx, EventJobCompleted, job)
}

func (h *HTTP) JobFailed(ctx context.Context, job domain.Job) error {
	return h.post(ctx, EventJobFailed, job)
}

func (h *HTTP) post(ctx context.Context, eventType string, job domain.Job) error {
	body, err := json.Marshal(Event{Type: eventType, Job: job, OccurredAt: h.now()})
	if err != nil {
		return fmt.Errorf("notify: encode event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: post %s: %w", eventType, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("notify: post %s: status %d", eventType, resp.StatusCode)
	}
	return nil
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []domain.Notifier

func (m Multi) JobCompleted(ctx context.Context, job domain.Job) error {
	var errs []error
	for _, n := range m {
		if err := n.JobCompleted(ctx, job); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) JobFailed(ctx context.Context, job domain.Job) error {
	var errs []error
	for _, n := range m {
		if err := n.JobFailed(ctx, job); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ domain.Notifier = (*Log)(nil)
	_ domain.Notifier = (*HTTP)(nil)
	_ domain.Notifier = Multi(nil)
)
