package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/caiolacerdamt/cognistream/internal/api/middleware"
	"github.com/caiolacerdamt/cognistream/internal/db"
	"github.com/caiolacerdamt/cognistream/internal/provider"
)

// SettingsHandler manages per-user provider API keys. The pipeline reads the
// stored key when a request does not carry one.
type SettingsHandler struct {
	db        *db.Database
	providers *provider.Registry
}

func NewSettingsHandler(database *db.Database, providers *provider.Registry) *SettingsHandler {
	return &SettingsHandler{db: database, providers: providers}
}

// KeyStatus reports whether the caller has a key saved for a provider,
// without ever returning key material.
func (h *SettingsHandler) KeyStatus(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r)
	if claims == nil {
		jsonError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	providerName := chi.URLParam(r, "provider")
	if !h.providers.Supported(providerName) {
		jsonError(w, "unknown provider: "+providerName, http.StatusBadRequest)
		return
	}

	key, err := h.db.GetAPIKey(claims.UserID, providerName)
	if err != nil {
		jsonError(w, "failed to load key status", http.StatusInternalServerError)
		return
	}

	jsonResponse(w, map[string]bool{"configured": key != ""}, http.StatusOK)
}

// SaveKey upserts a provider key for the caller.
func (h *SettingsHandler) SaveKey(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r)
	if claims == nil {
		jsonError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var body struct {
		Provider string `json:"provider"`
		Key      string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	body.Key = strings.TrimSpace(body.Key)
	if body.Provider == "" || body.Key == "" {
		jsonError(w, "provider and key are required", http.StatusBadRequest)
		return
	}
	if !h.providers.Supported(body.Provider) {
		jsonError(w, "unknown provider: "+body.Provider, http.StatusBadRequest)
		return
	}

	if err := h.db.SaveAPIKey(claims.UserID, body.Provider, body.Key); err != nil {
		jsonError(w, "failed to save API key", http.StatusInternalServerError)
		return
	}

	jsonResponse(w, map[string]bool{"success": true}, http.StatusOK)
}
