package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pollcast/pollcast/internal/core"
	apperrors "github.com/pollcast/pollcast/internal/errors"
	"github.com/pollcast/pollcast/internal/server/middleware"
)

// PollService is the slice of the dispatcher the poll handlers need.
type PollService interface {
	QueryPoll(ctx context.Context, claims core.Claims) (*core.Poll, error)
	CreatePoll(ctx context.Context, claims core.Claims, poll core.Poll) (core.Poll, error)
	ResetPoll(ctx context.Context, claims core.Claims) error
	SubmitResponse(ctx context.Context, claims core.Claims, option int) error
	Results(ctx context.Context, claims core.Claims) (core.Tally, error)
}

// PollHandlers serves the /poll endpoints. All routes sit behind the
// authentication middleware, so claims are always present.
type PollHandlers struct {
	service PollService
}

// NewPollHandlers creates the poll endpoint handlers.
func NewPollHandlers(service PollService) *PollHandlers {
	return &PollHandlers{service: service}
}

// CreatePollRequest is the poll creation request body.
type CreatePollRequest struct {
	Text    string   `json:"text"`
	Options []string `json:"options"`
}

// SubmitResponseRequest is one viewer answer.
type SubmitResponseRequest struct {
	Option int `json:"option"`
}

// ResultsResponse is the broadcaster-facing tally view.
type ResultsResponse struct {
	Counts []int `json:"counts"`
	Total  int   `json:"total"`
}

// Query returns the caller's channel poll state. The body is the poll
// object itself, or null when no poll is active, so clients can fall
// back to their default display.
func (h *PollHandlers) Query(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetClaims(r.Context())
	if !ok {
		respondWithError(w, r, apperrors.NewInternalError("missing request claims"))
		return
	}

	poll, err := h.service.QueryPoll(r.Context(), claims)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, poll)
}

// Create replaces the channel's poll and relays it to viewers. Echoes
// the stored poll.
func (h *PollHandlers) Create(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetClaims(r.Context())
	if !ok {
		respondWithError(w, r, apperrors.NewInternalError("missing request claims"))
		return
	}

	var req CreatePollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, r, apperrors.NewInvalidInputError("Request body must be valid JSON"))
		return
	}

	poll, err := h.service.CreatePoll(r.Context(), claims, core.Poll{
		Text:    req.Text,
		Options: req.Options,
	})
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, &poll)
}

// Reset clears the channel's poll and echoes the absent state as null.
// Idempotent.
func (h *PollHandlers) Reset(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetClaims(r.Context())
	if !ok {
		respondWithError(w, r, apperrors.NewInternalError("missing request claims"))
		return
	}

	if err := h.service.ResetPoll(r.Context(), claims); err != nil {
		respondWithError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, (*core.Poll)(nil))
}

// Respond records one viewer answer, subject to the per-user throttle.
func (h *PollHandlers) Respond(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetClaims(r.Context())
	if !ok {
		respondWithError(w, r, apperrors.NewInternalError("missing request claims"))
		return
	}

	var req SubmitResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, r, apperrors.NewInvalidInputError("Request body must be valid JSON"))
		return
	}

	if err := h.service.SubmitResponse(r.Context(), claims, req.Option); err != nil {
		respondWithError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Results returns the tally for the active poll. Broadcaster only.
func (h *PollHandlers) Results(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetClaims(r.Context())
	if !ok {
		respondWithError(w, r, apperrors.NewInternalError("missing request claims"))
		return
	}

	tally, err := h.service.Results(r.Context(), claims)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, ResultsResponse{Counts: tally.Counts, Total: tally.Total})
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
