// Package server exposes tab over HTTP: message intake, the detection inbox,
// expenses, settings and sync controls.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/ArionMiles/tab/internal/plugins"
	"github.com/ArionMiles/tab/pkg/api"
	"github.com/ArionMiles/tab/pkg/ingest"
	"github.com/ArionMiles/tab/pkg/repository"
	"github.com/ArionMiles/tab/pkg/sheets"
)

// maxBodyBytes bounds request bodies. Service-account JSON is the largest payload.
const maxBodyBytes = 1 << 20

// Server routes HTTP requests to the repository and the ingest service.
type Server struct {
	repo     *repository.Repository
	ingest   *ingest.Service
	registry *plugins.Registry
	logger   *slog.Logger
	now      func() time.Time
	handler  http.Handler
}

// Config holds server options.
type Config struct {
	// AllowedOrigins enables CORS for browser clients. Empty disables CORS.
	AllowedOrigins []string
}

// New creates a server.
func New(repo *repository.Repository, in *ingest.Service, registry *plugins.Registry, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = plugins.Default()
	}
	s := &Server{
		repo:     repo,
		ingest:   in,
		registry: registry,
		logger:   logger,
		now:      time.Now,
	}

	mux := http.NewServeMux()
	s.routes(mux)

	var h http.Handler = mux
	if len(cfg.AllowedOrigins) > 0 {
		h = cors.New(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{
				http.MethodGet,
				http.MethodPost,
				http.MethodPut,
				http.MethodDelete,
				http.MethodOptions,
			},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler(mux)
	}
	s.handler = s.logRequests(h)
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /api/sms", s.handleSMS)
	mux.HandleFunc("POST /api/notifications", s.handleNotification)

	mux.HandleFunc("GET /api/detections", s.listDetections)
	mux.HandleFunc("GET /api/detections/{id}", s.getDetection)
	mux.HandleFunc("POST /api/detections/{id}/confirm", s.confirmDetection)
	mux.HandleFunc("DELETE /api/detections/{id}", s.dismissDetection)

	mux.HandleFunc("GET /api/expenses", s.listExpenses)
	mux.HandleFunc("POST /api/expenses", s.createExpense)
	mux.HandleFunc("GET /api/expenses/{id}", s.getExpense)
	mux.HandleFunc("PUT /api/expenses/{id}", s.updateExpense)
	mux.HandleFunc("DELETE /api/expenses/{id}", s.deleteExpense)
	mux.HandleFunc("GET /api/summary", s.summary)
	mux.HandleFunc("GET /api/export", s.export)

	mux.HandleFunc("GET /api/categories", s.listCategories)
	mux.HandleFunc("PUT /api/categories/{id}", s.saveCategory)
	mux.HandleFunc("DELETE /api/categories/{id}", s.deleteCategory)

	mux.HandleFunc("GET /api/settings", s.getSettings)
	mux.HandleFunc("PUT /api/settings", s.saveSettings)
	mux.HandleFunc("POST /api/settings/test", s.testConnection)

	mux.HandleFunc("POST /api/sync", s.sync)
	mux.HandleFunc("POST /api/refresh", s.refresh)
	mux.HandleFunc("POST /api/pull", s.pull)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// fail maps domain errors to HTTP statuses.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, api.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, api.ErrInvalidExpense):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, api.ErrNotConfigured):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, sheets.ErrSpreadsheetNotFound), errors.Is(err, sheets.ErrPermissionDenied):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
