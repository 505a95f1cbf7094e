/**
 * @description
 * This file contains the HTTP handler functions for the dunning-service.
 * Handlers are responsible for parsing incoming requests, calling the
 * appropriate business logic in the service layer, and writing the HTTP
 * response.
 */
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/transfa/dunning-service/internal/app"
	"github.com/transfa/dunning-service/internal/escalation"
	"github.com/transfa/dunning-service/internal/store"
)

// Handler holds the application service that handlers will interact with.
type Handler struct {
	service app.Service
}

// NewHandler creates a new Handler with the given service.
func NewHandler(service app.Service) *Handler {
	return &Handler{service: service}
}

// handleGetEscalation returns an account's dunning state and recovery
// options for the billing UI.
func (h *Handler) handleGetEscalation(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	if !callerOwnsAccount(r, accountID) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	status, err := h.service.GetStatus(r.Context(), accountID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, status)
}

// handleEvaluate re-evaluates an account's escalation on demand.
func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	if !callerOwnsAccount(r, accountID) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	result, err := h.service.Evaluate(r.Context(), accountID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

// handleRunEvaluations processes all due escalations (cron/admin only).
func (h *Handler) handleRunEvaluations(w http.ResponseWriter, r *http.Request) {
	run, err := h.service.EvaluateDue(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	respondWithJSON(w, http.StatusOK, run)
}

// callerOwnsAccount checks the authenticated subject against the requested
// account. Accounts are keyed by the Clerk subject, so a token only ever
// acts on its own escalation; cross-account evaluation goes through the
// cron-guarded admin run instead.
func callerOwnsAccount(r *http.Request, accountID string) bool {
	subject, ok := SubjectFromContext(r.Context())
	return ok && subject == accountID
}

// writeServiceError maps service errors onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	var invalidInput *escalation.InvalidInputError
	switch {
	case errors.Is(err, store.ErrEscalationNotFound):
		http.Error(w, "No active escalation for account", http.StatusNotFound)
	case errors.As(err, &invalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, app.ErrEvaluationInProgress):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// respondWithJSON is a helper function to write JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
