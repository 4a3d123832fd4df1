// Package api exposes a loopback-only HTTP control surface for submitting
// jobs and inspecting tracker/job state, modeled on the core's read-only
// admin interface.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"hyperfetch/internal/jobmanager"
	"hyperfetch/internal/security"
	"hyperfetch/internal/tracker"
)

// Server is the admin/status HTTP API: job submission, job/tracker
// inspection. It binds to loopback only and requires a bearer token.
type Server struct {
	manager *jobmanager.Manager
	tracker *tracker.Tracker
	audit   *security.AuditLogger
	logger  *slog.Logger
	token   string
	router  *chi.Mux
}

// New builds a Server. token is required on every request via the
// X-Hyperfetch-Token header; an empty token disables auth (loopback-only
// is still enforced).
func New(manager *jobmanager.Manager, tr *tracker.Tracker, audit *security.AuditLogger, logger *slog.Logger, token string) *Server {
	s := &Server{manager: manager, tracker: tr, audit: audit, logger: logger, token: token, router: chi.NewRouter()}
	s.setupRoutes()
	return s
}

// ListenAndServe binds addr (expected loopback, e.g. "127.0.0.1:4444") and
// serves until ctx-independent error or process exit. It blocks.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api: listen %s: %w", addr, err)
	}
	s.logger.Info("admin API listening", "addr", addr)
	return http.Serve(ln, s.router)
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.securityMiddleware)

	s.router.Post("/v1/jobs", s.handleSubmitJob)
	s.router.Get("/v1/jobs", s.handleListJobs)
	s.router.Get("/v1/jobs/{id}", s.handleGetJob)
	s.router.Get("/v1/tracker/{url}", s.handleTrackerStats)
	s.router.Get("/v1/status", s.handleStatus)
}

func (s *Server) securityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sourceIP, _, _ := net.SplitHostPort(r.RemoteAddr)
		userAgent := r.UserAgent()
		action := fmt.Sprintf("%s %s", r.Method, r.URL.Path)

		if sourceIP != "127.0.0.1" && sourceIP != "::1" {
			s.audit.Log(sourceIP, userAgent, action, http.StatusForbidden, "non-loopback access denied")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		if s.token != "" {
			provided := r.Header.Get("X-Hyperfetch-Token")
			if subtle.ConstantTimeCompare([]byte(provided), []byte(s.token)) != 1 {
				s.audit.Log(sourceIP, userAgent, action, http.StatusUnauthorized, "invalid token")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}

		s.audit.Log(sourceIP, userAgent, action, http.StatusOK, "authorized")
		next.ServeHTTP(w, r)
	})
}

// SubmitJobRequest is the body of POST /v1/jobs.
type SubmitJobRequest struct {
	URL        string `json:"url"`
	OutputPath string `json:"output_path"`
	Priority   int    `json:"priority"`
}

// SubmitJobResponse is the body of a successful POST /v1/jobs.
type SubmitJobResponse struct {
	JobID string `json:"job_id"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.URL == "" || req.OutputPath == "" {
		http.Error(w, "url and output_path are required", http.StatusBadRequest)
		return
	}

	id, err := s.manager.Submit(r.Context(), req.URL, req.OutputPath, req.Priority)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(SubmitJobResponse{JobID: id})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.manager.List())
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := s.manager.Get(id)
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

func (s *Server) handleTrackerStats(w http.ResponseWriter, r *http.Request) {
	url := chi.URLParam(r, "url")
	stats := s.tracker.Stats(url)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":       "running",
		"tracked_urls": s.tracker.Len(),
		"jobs":         len(s.manager.List()),
	})
}
