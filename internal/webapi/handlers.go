// Package webapi exposes the session queue and sync controls over HTTP.
package webapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/meetq/meetq/internal/models"
	"github.com/meetq/meetq/internal/store"
	"github.com/meetq/meetq/internal/syncer"
)

// Version is set at build time or defaults to dev.
var Version = "0.1.0-dev"

// Service is the subset of the application the API needs.
type Service interface {
	Status(ctx context.Context) (models.SyncStatus, error)
	ListHistory(ctx context.Context) ([]models.SessionRecord, error)
	Get(ctx context.Context, id string) (*models.SessionRecord, error)
	TriggerSync(ctx context.Context) models.SyncStatus
	Retry(ctx context.Context, id string) (bool, error)
	Delete(ctx context.Context, id string) error
}

// Handlers holds the HTTP handler methods for the web API.
type Handlers struct {
	svc Service
}

// NewHandlers creates a new Handlers over svc.
func NewHandlers(svc Service) *Handlers {
	return &Handlers{svc: svc}
}

// HandleHealth returns a simple health check response.
func (h *Handlers) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: Version,
	})
}

// HandleStatus returns the current sync status with a fresh pending count.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// HandleSessions lists sessions newest first, optionally filtered by ?state=.
func (h *Handlers) HandleSessions(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.ListHistory(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	state := models.State(r.URL.Query().Get("state"))
	if state != "" {
		if !state.Valid() {
			writeError(w, http.StatusBadRequest, "unknown state "+string(state))
			return
		}
		filtered := records[:0]
		for _, rec := range records {
			if rec.State == state {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}
	if records == nil {
		records = []models.SessionRecord{}
	}
	writeJSON(w, http.StatusOK, SessionsResponse{Sessions: records, Total: len(records)})
}

// HandleSessionDetail returns a single session.
func (h *Handlers) HandleSessionDetail(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// HandleSync runs a sync pass and returns its status.
func (h *Handlers) HandleSync(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.TriggerSync(r.Context()))
}

// HandleRetry resets and re-uploads one session.
func (h *Handlers) HandleRetry(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ok, err := h.svc.Retry(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := RetryResponse{Uploaded: ok}
	if rec, err := h.svc.Get(r.Context(), id); err == nil {
		resp.Session = rec
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleDelete removes a session and its capture.
func (h *Handlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RegisterRoutes registers all web API routes on the given mux.
func RegisterRoutes(mux *http.ServeMux, svc Service) {
	h := NewHandlers(svc)
	mux.HandleFunc("GET /api/health", h.HandleHealth)
	mux.HandleFunc("GET /api/status", h.HandleStatus)
	mux.HandleFunc("GET /api/sessions", h.HandleSessions)
	mux.HandleFunc("GET /api/sessions/{id}", h.HandleSessionDetail)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.HandleDelete)
	mux.HandleFunc("POST /api/sessions/{id}/retry", h.HandleRetry)
	mux.HandleFunc("POST /api/sync", h.HandleSync)
}

// CORSMiddleware wraps a handler with CORS headers.
// If allowedOrigins is empty, no CORS header is set (same-origin only).
// Otherwise, the request Origin is checked against the allowed list.
func CORSMiddleware(next http.Handler, allowedOrigins ...string) http.Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if len(allowedOrigins) > 0 && origin != "" && allowed[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, syncer.ErrSyncInProgress), errors.Is(err, syncer.ErrStillRecording):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorResponse{Error: msg, Code: code})
}
