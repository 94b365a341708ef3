package handlers

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/caiolacerdamt/cognistream/internal/api/middleware"
	"github.com/caiolacerdamt/cognistream/internal/db"
)

// ResultsHandler serves persisted transcription results to the dashboard.
type ResultsHandler struct {
	db *db.Database
}

func NewResultsHandler(database *db.Database) *ResultsHandler {
	return &ResultsHandler{db: database}
}

// ListResults returns the caller's saved results, newest first, without
// transcript bodies.
func (h *ResultsHandler) ListResults(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r)
	if claims == nil {
		jsonError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	results, err := h.db.ListResults(claims.UserID)
	if err != nil {
		jsonError(w, "failed to list results", http.StatusInternalServerError)
		return
	}
	jsonResponse(w, results, http.StatusOK)
}

// GetResult returns one full result scoped to its owner.
func (h *ResultsHandler) GetResult(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r)
	if claims == nil {
		jsonError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		jsonError(w, "missing result ID", http.StatusBadRequest)
		return
	}

	result, err := h.db.GetResult(claims.UserID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			jsonError(w, "result not found", http.StatusNotFound)
			return
		}
		jsonError(w, "failed to load result", http.StatusInternalServerError)
		return
	}
	jsonResponse(w, result, http.StatusOK)
}
