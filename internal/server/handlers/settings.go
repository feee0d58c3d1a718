package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pollcast/pollcast/internal/core"
	apperrors "github.com/pollcast/pollcast/internal/errors"
	"github.com/pollcast/pollcast/internal/server/middleware"
)

// SettingsService is the slice of the dispatcher the settings handlers
// need.
type SettingsService interface {
	QuerySettings(ctx context.Context, claims core.Claims) (core.Settings, error)
	UpdateSettings(ctx context.Context, claims core.Claims, settings core.Settings) (core.Settings, error)
}

// SettingsHandlers serves the /settings endpoints.
type SettingsHandlers struct {
	service SettingsService
}

// NewSettingsHandlers creates the settings endpoint handlers.
func NewSettingsHandlers(service SettingsService) *SettingsHandlers {
	return &SettingsHandlers{service: service}
}

// Query returns the caller's channel settings mapping. A channel that
// never saved settings gets an empty object, never null.
func (h *SettingsHandlers) Query(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetClaims(r.Context())
	if !ok {
		respondWithError(w, r, apperrors.NewInternalError("missing request claims"))
		return
	}

	settings, err := h.service.QuerySettings(r.Context(), claims)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if settings == nil {
		settings = core.Settings{}
	}

	respondJSON(w, http.StatusOK, settings)
}

// Update replaces the channel's settings and relays them to viewers.
// The request body is the settings mapping itself; the stored mapping
// is echoed back.
func (h *SettingsHandlers) Update(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetClaims(r.Context())
	if !ok {
		respondWithError(w, r, apperrors.NewInternalError("missing request claims"))
		return
	}

	var req core.Settings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, r, apperrors.NewInvalidInputError("Request body must be valid JSON"))
		return
	}

	settings, err := h.service.UpdateSettings(r.Context(), claims, req)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, settings)
}
