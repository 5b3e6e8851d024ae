package handlers

import (
	"errors"
	"net/http"

	"creatorhub/internal/domain"
	"creatorhub/internal/middleware"
)

// errorStatus maps an error kind to its HTTP status and wire code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, domain.ErrAuth):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, domain.ErrInsufficientCredit):
		return http.StatusPaymentRequired, "insufficient_credit"
	case errors.Is(err, domain.ErrNoActiveSubscription):
		return http.StatusPaymentRequired, "no_active_subscription"
	case errors.Is(err, domain.ErrQuotaDenied):
		return http.StatusPaymentRequired, "quota_denied"
	case errors.Is(err, domain.ErrLimitReached):
		return http.StatusPaymentRequired, "limit_reached"
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return http.StatusBadGateway, "upstream_unavailable"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	}
	return http.StatusInternalServerError, "internal"
}

// writeError renders err in the standard error envelope. Internal errors are
// logged and their detail is not exposed.
func (a *App) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	message := domain.Message(err)
	if status == http.StatusInternalServerError {
		a.Logger.Error().Err(err).
			Str("path", r.URL.Path).
			Str("request_id", middleware.RequestIDFromContext(r.Context())).
			Msg("request failed")
		message = "internal error"
	}
	a.error(w, status, code, message)
}
