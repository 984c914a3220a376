// Package api exposes intake, the operator list and mutations over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	apperrors "leadflow/internal/common/errors"
	"leadflow/internal/common/logger"
	"leadflow/internal/gateway"
	"leadflow/internal/intake"
	"leadflow/internal/models"
	"leadflow/internal/store"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	maxBodyBytes = 64 << 10

	// maxSearchSize keeps search pages well inside the index's result window.
	maxSearchSize = 100
)

// Searcher answers free-text lookups over leads.
type Searcher interface {
	Search(ctx context.Context, q string, size int) ([]models.Lead, error)
}

// ReadinessCheck reports whether one dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

type Deps struct {
	Intake  *intake.Service
	Gateway *gateway.Gateway
	Store   store.Store
	// Feed serves the live websocket. Optional.
	Feed http.Handler
	// Search is nil when the search mirror is disabled.
	Search   Searcher
	Location *time.Location
	Checks   map[string]ReadinessCheck
}

type Server struct {
	deps   Deps
	logger logger.Logger
}

func NewServer(deps Deps, log logger.Logger) *Server {
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	return &Server{
		deps:   deps,
		logger: log.WithFields(map[string]interface{}{"component": "api"}),
	}
}

// Handler returns the routed mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/applications", s.handleCreate)
	mux.HandleFunc("GET /api/applications", s.handleList)
	mux.HandleFunc("GET /api/applications/stats", s.handleStats)
	mux.HandleFunc("PATCH /api/applications/{id}/status", s.handleSetStatus)
	mux.HandleFunc("DELETE /api/applications/{id}", s.handleDelete)
	if s.deps.Search != nil {
		mux.HandleFunc("GET /api/applications/search", s.handleSearch)
	}
	if s.deps.Feed != nil {
		mux.Handle("GET /ws/applications", s.deps.Feed)
	}

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	code := http.StatusOK
	state := "ready"
	checks := make(map[string]string, len(s.deps.Checks))
	for name, check := range s.deps.Checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			code = http.StatusServiceUnavailable
			state = "not ready"
			continue
		}
		checks[name] = "ok"
	}

	writeJSON(w, code, map[string]interface{}{
		"status": state,
		"checks": checks,
		"time":   time.Now().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError answers with the StandardError for err and the matching status.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	stdErr := apperrors.FromError(err)
	code := apperrors.HTTPStatus(stdErr.Code)

	fields := map[string]interface{}{
		"method":    r.Method,
		"path":      r.URL.Path,
		"status":    code,
		"errorCode": string(stdErr.Code),
	}
	if code >= http.StatusInternalServerError {
		fields["error"] = err
		s.logger.Error("request failed", fields)
	} else {
		s.logger.Debug("request rejected", fields)
	}

	writeJSON(w, code, stdErr)
}
