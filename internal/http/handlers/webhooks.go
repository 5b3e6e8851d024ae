package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"creatorhub/internal/domain"
	"creatorhub/internal/jobs"
)

type webhookPayload struct {
	JobID     string `json:"jobId"`
	Status    string `json:"status"`
	ResultRef string `json:"resultRef,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Webhook applies a provider callback. The callback token and the optional body
// signature are checked before any job is read.
func (a *App) Webhook(w http.ResponseWriter, r *http.Request) {
	provider, ok := domain.ParseProvider(chi.URLParam(r, "provider"))
	if !ok {
		a.error(w, http.StatusNotFound, "not_found", "unknown provider")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		a.error(w, http.StatusBadRequest, "validation", "unreadable body")
		return
	}

	owner, err := a.Callbacks.Verify(r.URL.Query().Get("token"), provider)
	if err != nil {
		a.Logger.Warn().Err(err).Str("provider", string(provider)).Msg("webhook: token rejected")
		a.error(w, http.StatusUnauthorized, "unauthorized", "invalid callback token")
		return
	}
	if secret := a.WebhookSecrets[provider]; secret != "" {
		if err := jobs.VerifyBodySignature(secret, body, r.Header.Get(jobs.SignatureHeader)); err != nil {
			a.Logger.Warn().Err(err).Str("provider", string(provider)).Msg("webhook: signature rejected")
			a.error(w, http.StatusUnauthorized, "unauthorized", domain.Message(err))
			return
		}
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		a.error(w, http.StatusBadRequest, "validation", "malformed payload")
		return
	}
	jobID := strings.TrimSpace(payload.JobID)
	if jobID == "" {
		jobID = strings.TrimSpace(r.URL.Query().Get("jobId"))
	}
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "validation", "jobId is required")
		return
	}

	res, err := a.Receiver.Receive(r.Context(), jobs.Delivery{
		JobID:     jobID,
		OwnerHint: owner,
		Provider:  provider,
		Outcome: jobs.Outcome{
			Status:    payload.Status,
			ResultRef: payload.ResultRef,
			Error:     payload.Error,
		},
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.Logger.Warn().Str("job_id", jobID).Str("provider", string(provider)).Msg("webhook: unknown job")
		}
		a.writeError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"ok": true, "duplicate": res.Duplicate})
}
