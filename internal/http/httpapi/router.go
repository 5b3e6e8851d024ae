package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"creatorhub/internal/http/handlers"
	"creatorhub/internal/infra"
	"creatorhub/internal/middleware"
)

// Options configures the cross-cutting middleware of the router.
type Options struct {
	JWTSecret       string
	// IdentityVerifier additionally accepts tokens from an external identity provider.
	IdentityVerifier middleware.Verifier
	CORSOrigins     []string
	RateLimitPerMin int
	Logger          infra.Logger
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	verifiers := []middleware.Verifier{middleware.HMACVerifier{Secret: opts.JWTSecret}}
	if opts.IdentityVerifier != nil {
		verifiers = append(verifiers, opts.IdentityVerifier)
	}

	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.CORSOrigins),
	)

	// Health
	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)

	// Provider callbacks authenticate with the callback token, not a bearer.
	r.Post("/v1/webhooks/{provider}", app.Webhook)

	r.Group(func(r chi.Router) {
		r.Use(
			middleware.AuthBearer(verifiers...),
			middleware.RateLimit(opts.RateLimitPerMin, time.Minute),
		)
		r.Post("/v1/jobs/{provider}", app.JobsSubmit)
		r.Get("/v1/jobs/{jobId}", app.JobStatus)
		r.Post("/v1/usage", app.Usage)
		r.Post("/v1/regenerations", app.Regenerate)
	})

	return r
}
