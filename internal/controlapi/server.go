// Package controlapi exposes the profiler's operational surface over
// HTTP: liveness, the run registry, and the counters the scheduler and
// ingestion core accumulate, via a /stats endpoint.
package controlapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/causalprof/profilomatic/internal/repository"
	"github.com/causalprof/profilomatic/pkg/profiler"
	"github.com/causalprof/profilomatic/pkg/utils"
)

// StatsSource is the narrow slice of *profiler.Profiler the control API
// depends on, so server tests can stub it without configuring a real
// profiler.
type StatsSource interface {
	Stats() profiler.Stats
}

// Server is the chi-routed status/stats/health HTTP surface.
type Server struct {
	logger  utils.Logger
	profile StatsSource
	runs    repository.RunRepository

	router *chi.Mux
	http   *http.Server
}

// New builds a Server listening on address. profile or runs may be nil
// if that subsystem isn't wired (e.g. the run registry is optional).
func New(address string, profile StatsSource, runs repository.RunRepository, logger utils.Logger) *Server {
	if logger == nil {
		logger = utils.GetGlobalLogger()
	}

	s := &Server{logger: logger, profile: profile, runs: runs}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}))
	r.Get("/healthz", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Get("/runs", s.handleRecentRuns)
	r.Get("/runs/{id}", s.handleRun)
	s.router = r

	s.http = &http.Server{Addr: address, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	return s
}

// ListenAndServe starts serving; call from its own goroutine.
func (s *Server) ListenAndServe() error {
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.profile == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "profiler not configured"})
		return
	}
	writeJSON(w, http.StatusOK, s.profile.Stats())
}

func (s *Server) handleRecentRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "run registry not configured"})
		return
	}
	runs, err := s.runs.RecentRuns(r.Context(), 20)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "run registry not configured"})
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid run id"})
		return
	}
	run, err := s.runs.GetRun(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
