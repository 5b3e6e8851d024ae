package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"creatorhub/internal/domain"
	"creatorhub/internal/infra"
)

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{domain.Errorf(domain.ErrValidation, "bad"), http.StatusBadRequest, "validation"},
		{domain.ErrAuth, http.StatusUnauthorized, "unauthorized"},
		{domain.Wrap(domain.ErrQuotaDenied, domain.Errorf(domain.ErrInsufficientCredit, "x"), "x"), http.StatusPaymentRequired, "insufficient_credit"},
		{domain.Wrap(domain.ErrQuotaDenied, domain.Errorf(domain.ErrNoActiveSubscription, "x"), "x"), http.StatusPaymentRequired, "no_active_subscription"},
		{domain.ErrQuotaDenied, http.StatusPaymentRequired, "quota_denied"},
		{domain.ErrLimitReached, http.StatusPaymentRequired, "limit_reached"},
		{fmt.Errorf("submit: %w", domain.ErrUpstreamUnavailable), http.StatusBadGateway, "upstream_unavailable"},
		{domain.ErrConflict, http.StatusConflict, "conflict"},
		{domain.ErrNotFound, http.StatusNotFound, "not_found"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range tests {
		status, code := errorStatus(tc.err)
		if status != tc.status || code != tc.code {
			t.Fatalf("errorStatus(%v) = %d %s, want %d %s", tc.err, status, code, tc.status, tc.code)
		}
	}
}

func TestWriteErrorHidesInternalDetail(t *testing.T) {
	app := &App{Logger: infra.NopLogger()}
	rec := httptest.NewRecorder()
	app.writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("pq: password authentication failed"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Fatalf("internal detail leaked: %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"code":"internal"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}
