package handlers

import (
	"net/http"

	"creatorhub/internal/domain"
	"creatorhub/internal/regen"
)

type regenerationRequest struct {
	ParentArtifactID string            `json:"parentArtifactId" validate:"required,max=256"`
	ArtifactType     string            `json:"artifactType" validate:"required"`
	NewParams        map[string]string `json:"newParams" validate:"required"`
}

func (a *App) Regenerate(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req regenerationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.error(w, http.StatusBadRequest, "validation", "invalid payload")
		return
	}
	if err := a.validator().Struct(req); err != nil {
		a.error(w, http.StatusBadRequest, "validation", "parentArtifactId, artifactType and newParams are required")
		return
	}
	out, err := a.Regenerations.Regenerate(r.Context(), regen.Request{
		OwnerID:          userID,
		ParentArtifactID: req.ParentArtifactID,
		ArtifactType:     domain.ArtifactType(req.ArtifactType),
		NewParams:        req.NewParams,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"ok":        true,
		"remaining": out.Remaining,
		"jobId":     out.JobID,
	})
}
