package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"creatorhub/internal/domain"
	"creatorhub/internal/infra"
	"creatorhub/internal/jobs"
	"creatorhub/internal/middleware"
	"creatorhub/internal/regen"
)

// JobSubmitter starts provider jobs.
type JobSubmitter interface {
	Submit(ctx context.Context, req jobs.SubmitRequest) (*domain.Job, error)
}

// JobReader loads stored jobs.
type JobReader interface {
	Get(ctx context.Context, jobID string) (*domain.Job, error)
}

// CallbackVerifier authenticates provider callback tokens.
type CallbackVerifier interface {
	Verify(token string, provider domain.Provider) (string, error)
}

// Regenerator runs free regenerations.
type Regenerator interface {
	Regenerate(ctx context.Context, req regen.Request) (regen.Outcome, error)
}

// App carries the dependencies shared by every handler.
type App struct {
	Submitter     JobSubmitter
	Jobs          JobReader
	Ledger        jobs.UsageLedger
	Receiver      jobs.Receiver
	Callbacks     CallbackVerifier
	Regenerations Regenerator
	// WebhookSecrets holds the optional per-provider body signing secrets.
	WebhookSecrets map[domain.Provider]string
	// Ping reports storage health. Nil means always healthy.
	Ping   func(ctx context.Context) error
	Logger infra.Logger

	validate *validator.Validate
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]any{
		"error": map[string]string{
			"code":    errCode,
			"message": message,
		},
	})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

func (a *App) validator() *validator.Validate {
	if a.validate == nil {
		a.validate = validator.New()
	}
	return a.validate
}
