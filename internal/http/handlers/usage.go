package handlers

import (
	"net/http"
	"strings"

	"creatorhub/internal/domain"
)

type usageRequest struct {
	Kind     string `json:"kind" validate:"required"`
	Quantity int    `json:"quantity" validate:"min=1,max=1000"`
	Idem     string `json:"idem"`
	Preview  bool   `json:"preview,omitempty"`
}

// Usage previews or confirms one billable action. The header key wins over the body.
func (a *App) Usage(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req usageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.error(w, http.StatusBadRequest, "validation", "invalid payload")
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if err := a.validator().Struct(req); err != nil {
		a.error(w, http.StatusBadRequest, "validation", "kind is required and quantity must be between 1 and 1000")
		return
	}
	kind, ok := domain.ParseUsageKind(strings.TrimSpace(req.Kind))
	if !ok {
		a.error(w, http.StatusBadRequest, "validation", "unknown usage kind")
		return
	}
	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if key == "" {
		key = strings.TrimSpace(req.Idem)
	}
	charge := domain.Charge{OwnerID: userID, Kind: kind, Quantity: req.Quantity, IdempotencyKey: key}

	if req.Preview {
		if err := a.Ledger.Preview(r.Context(), charge); err != nil {
			a.writeError(w, r, err)
			return
		}
		a.json(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	if _, err := a.Ledger.Confirm(r.Context(), charge); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"ok": true})
}
