package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"reel-pipeline/internal/config"
	"reel-pipeline/internal/models"
	"reel-pipeline/internal/store"
	"reel-pipeline/internal/telemetry"
	"reel-pipeline/internal/watch"
)

// UploadReader is the read path the status projection needs.
type UploadReader interface {
	GetUpload(ctx context.Context, id string) (models.Upload, error)
	ListUploads(ctx context.Context, ownerID string) ([]models.Upload, error)
}

// PollLimiter caps projection reads per owner.
type PollLimiter interface {
	Allow(ctx context.Context, ownerID string) (bool, error)
}

// Server wires HTTP handlers for the status-change webhook and the upload
// read API.
type Server struct {
	cfg     config.Config
	uploads UploadReader
	watcher *watch.Watcher
	limiter PollLimiter
}

// New constructs the API server. limiter may be nil to disable poll limiting.
func New(cfg config.Config, uploads UploadReader, watcher *watch.Watcher, limiter PollLimiter) *Server {
	return &Server{
		cfg:     cfg,
		uploads: uploads,
		watcher: watcher,
		limiter: limiter,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/hooks/upload-status", s.handleTrigger)
	r.Get("/uploads", s.handleList)
	r.Get("/uploads/{id}", s.handleGet)
	return r
}

// handleTrigger is the tracking store's webhook target, invoked on every row
// mutation with an old/new snapshot pair. Skips are reported in the response
// body rather than swallowed so a misfiring trigger stays diagnosable.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body: " + err.Error()})
		return
	}

	payload, err := watch.ParseTrigger(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	outcome, err := s.watcher.Handle(r.Context(), payload)
	if err != nil {
		if errors.Is(err, watch.ErrMalformedTrigger) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}

	if outcome.Skipped {
		writeJSON(w, http.StatusOK, outcome)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sent": true, "result": outcome.Receipt})
}

// handleList serves the status projection: every record for the owner, newest
// first. Clients poll this whenever the status screen regains focus.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromRequest(r)
	if owner == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "X-Owner-ID header is required"})
		return
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(r.Context(), owner)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "rate limit error"})
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limited"})
			return
		}
	}

	uploads, err := s.uploads.ListUploads(r.Context(), owner)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"uploads": uploads})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	upload, err := s.uploads.GetUpload(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, upload)
}

func ownerFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Owner-ID"); v != "" {
		return v
	}
	return r.URL.Query().Get("owner")
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
