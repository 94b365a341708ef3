package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/caiolacerdamt/cognistream/internal/api/middleware"
	"github.com/caiolacerdamt/cognistream/internal/db"
	"github.com/caiolacerdamt/cognistream/internal/job"
	"github.com/caiolacerdamt/cognistream/internal/provider"
	"github.com/caiolacerdamt/cognistream/internal/source"
)

// ProcessHandler serves the transcription pipeline in both delivery modes.
type ProcessHandler struct {
	manager        *job.Manager
	providers      *provider.Registry
	db             *db.Database
	maxUploadBytes int64
}

func NewProcessHandler(manager *job.Manager, providers *provider.Registry, database *db.Database, maxUploadBytes int64) *ProcessHandler {
	return &ProcessHandler{
		manager:        manager,
		providers:      providers,
		db:             database,
		maxUploadBytes: maxUploadBytes,
	}
}

type processVideoRequest struct {
	URL      string `json:"url"`
	Provider string `json:"provider"`
	APIKey   string `json:"apiKey"`
}

// statusForKind maps the failure taxonomy onto HTTP statuses for buffered
// responses.
func statusForKind(kind job.ErrorKind) int {
	switch kind {
	case job.ErrUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case job.ErrSourceTooLarge:
		return http.StatusRequestEntityTooLarge
	case job.ErrNoAudioTrack, job.ErrProviderRejected, job.ErrEmptyTranscript:
		return http.StatusUnprocessableEntity
	case job.ErrSourceUnavailable:
		return http.StatusBadGateway
	case job.ErrInvalidCredential:
		return http.StatusUnauthorized
	case job.ErrProviderRateLimited:
		return http.StatusTooManyRequests
	case job.ErrProviderUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ProcessVideo runs the pipeline for a remote media URL and returns the
// terminal result in one response.
func (h *ProcessHandler) ProcessVideo(w http.ResponseWriter, r *http.Request) {
	req, ok := h.videoRequest(w, r)
	if !ok {
		return
	}
	h.runBuffered(w, r, req)
}

// ProcessFile runs the pipeline for an uploaded media file.
func (h *ProcessHandler) ProcessFile(w http.ResponseWriter, r *http.Request) {
	req, ok := h.fileRequest(w, r)
	if !ok {
		return
	}
	h.runBuffered(w, r, req)
}

func (h *ProcessHandler) runBuffered(w http.ResponseWriter, r *http.Request, req job.Request) {
	flight, attached := h.manager.StartOrAttach(req)
	if attached {
		log.Printf("[api] buffered caller joined job %s", flight.Job.ID)
	}

	result, failure, err := flight.Wait(r.Context())
	if err != nil {
		// Caller went away; the job keeps running and persists its result.
		return
	}
	if failure != nil {
		jsonFailure(w, string(failure.Kind), failure.Message, statusForKind(failure.Kind))
		return
	}
	jsonResponse(w, result, http.StatusOK)
}

// videoRequest parses and validates the JSON payload for URL-based
// processing.
func (h *ProcessHandler) videoRequest(w http.ResponseWriter, r *http.Request) (job.Request, bool) {
	claims := middleware.GetClaims(r)
	if claims == nil {
		jsonError(w, "unauthorized", http.StatusUnauthorized)
		return job.Request{}, false
	}

	var body processVideoRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return job.Request{}, false
	}
	if strings.TrimSpace(body.URL) == "" {
		jsonError(w, "URL is required", http.StatusBadRequest)
		return job.Request{}, false
	}

	providerName, apiKey, ok := h.resolveCredential(w, claims.UserID, body.Provider, body.APIKey)
	if !ok {
		return job.Request{}, false
	}

	return job.Request{
		UserID:   claims.UserID,
		Provider: providerName,
		APIKey:   apiKey,
		Source:   source.Source{Remote: &source.RemoteSource{URL: body.URL}},
	}, true
}

// fileRequest parses the multipart payload for upload-based processing. The
// format allow-list is checked here, before the pipeline ever starts, so the
// common rejection path costs one header sniff.
func (h *ProcessHandler) fileRequest(w http.ResponseWriter, r *http.Request) (job.Request, bool) {
	claims := middleware.GetClaims(r)
	if claims == nil {
		jsonError(w, "unauthorized", http.StatusUnauthorized)
		return job.Request{}, false
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonFailure(w, string(job.ErrSourceTooLarge), "upload too large or malformed", http.StatusRequestEntityTooLarge)
		return job.Request{}, false
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		jsonError(w, "no file uploaded", http.StatusBadRequest)
		return job.Request{}, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		jsonError(w, "failed to read upload", http.StatusBadRequest)
		return job.Request{}, false
	}

	upload := &source.UploadSource{
		Data:     data,
		MimeType: header.Header.Get("Content-Type"),
		Filename: header.Filename,
	}
	if _, err := source.ValidateUpload(upload); err != nil {
		se := err.(*source.Error)
		jsonFailure(w, string(se.Kind), se.Message, statusForKind(job.ErrorKind(se.Kind)))
		return job.Request{}, false
	}

	providerName, apiKey, ok := h.resolveCredential(w, claims.UserID, r.FormValue("provider"), r.FormValue("apiKey"))
	if !ok {
		return job.Request{}, false
	}

	return job.Request{
		UserID:   claims.UserID,
		Provider: providerName,
		APIKey:   apiKey,
		Source:   source.Source{Upload: upload},
	}, true
}

// resolveCredential falls back to the caller's stored key when the request
// does not carry one. The key only lives inside the job request.
func (h *ProcessHandler) resolveCredential(w http.ResponseWriter, userID int64, providerName, apiKey string) (string, string, bool) {
	if providerName == "" {
		providerName = provider.DefaultName
	}
	if !h.providers.Supported(providerName) {
		jsonError(w, "unknown provider: "+providerName, http.StatusBadRequest)
		return "", "", false
	}

	if apiKey == "" {
		stored, err := h.db.GetAPIKey(userID, providerName)
		if err != nil {
			jsonError(w, "failed to load stored API key", http.StatusInternalServerError)
			return "", "", false
		}
		apiKey = stored
	}
	if apiKey == "" {
		jsonFailure(w, string(job.ErrInvalidCredential),
			providerName+" API key not configured; supply one or save it in settings", http.StatusUnauthorized)
		return "", "", false
	}

	return providerName, apiKey, true
}
