package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"creatorhub/internal/domain"
	"creatorhub/internal/jobs"
)

// IdempotencyHeader carries the client supplied idempotency key.
const IdempotencyHeader = "X-Idempotency-Key"

const maxRequestBody = 1 << 20

type submitJobRequest struct {
	Inputs   map[string]string `json:"inputs"`
	Quantity int               `json:"quantity,omitempty"`
}

type jobDTO struct {
	JobID         string            `json:"jobId"`
	OwnerID       string            `json:"ownerId"`
	Provider      domain.Provider   `json:"provider"`
	Status        domain.JobStatus  `json:"status"`
	Simulated     bool              `json:"simulated"`
	InputRefs     map[string]string `json:"inputRefs"`
	ResultRef     string            `json:"resultRef,omitempty"`
	FailureReason string            `json:"failureReason,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

func toJobDTO(job *domain.Job) jobDTO {
	return jobDTO{
		JobID:         job.ID,
		OwnerID:       job.OwnerID,
		Provider:      job.Provider,
		Status:        job.Status,
		Simulated:     job.Simulated,
		InputRefs:     job.InputRefs,
		ResultRef:     job.ResultRef,
		FailureReason: job.FailureReason,
		CreatedAt:     job.CreatedAt,
		UpdatedAt:     job.UpdatedAt,
	}
}

func (a *App) JobsSubmit(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req submitJobRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.error(w, http.StatusBadRequest, "validation", "invalid payload")
		return
	}
	job, err := a.Submitter.Submit(r.Context(), jobs.SubmitRequest{
		OwnerID:        userID,
		Provider:       domain.Provider(chi.URLParam(r, "provider")),
		InputRefs:      req.Inputs,
		IdempotencyKey: r.Header.Get(IdempotencyHeader),
		Quantity:       req.Quantity,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, map[string]any{
		"jobId":  job.ID,
		"status": job.Status,
	})
}

func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := strings.TrimSpace(chi.URLParam(r, "jobId"))
	job, err := a.Jobs.Get(r.Context(), jobID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && job.OwnerID != userID) {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, toJobDTO(job))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	return dec.Decode(v)
}
