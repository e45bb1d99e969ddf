package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/portwatch/container-scrape-worker/config"
	"github.com/portwatch/container-scrape-worker/internal/model"
	"github.com/portwatch/container-scrape-worker/internal/worker"
)

// Server wraps the orchestrator with the webhook trigger and the job status
// poll. One pipeline run at a time; a second trigger while one is in flight
// gets a 409.
type Server struct {
	router       *chi.Mux
	orchestrator *worker.Orchestrator
	jobs         *worker.JobStore
	cfg          *config.Config
	log          *slog.Logger
	running      atomic.Bool
	baseCtx      context.Context
}

func NewServer(ctx context.Context, orch *worker.Orchestrator, jobs *worker.JobStore,
	cfg *config.Config, log *slog.Logger) *Server {
	s := &Server{
		router:       chi.NewRouter(),
		orchestrator: orch,
		jobs:         jobs,
		cfg:          cfg,
		log:          log,
		baseCtx:      ctx,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.handleHealth)
	s.router.Post("/webhook/run-scraper", s.handleTrigger)
	s.router.Get("/jobs/{id}", s.handleJobStatus)
}

func (s *Server) Router() http.Handler {
	return s.router
}

type triggerRequest struct {
	Containers []model.Target `json:"containers"`
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	secret := r.Header.Get("X-Webhook-Secret")
	if s.cfg.WebhookSecret == "" || secret != s.cfg.WebhookSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if len(req.Containers) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "empty container list"})
		return
	}

	if !s.running.CompareAndSwap(false, true) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "a scrape run is already in flight"})
		return
	}

	// The job runs against the process lifetime, not the request: the
	// caller polls /jobs/{id} for the manifest.
	jobID := worker.NewJobID()
	go func() {
		defer s.running.Store(false)
		s.orchestrator.RunJob(s.baseCtx, jobID, req.Containers)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"state":  model.JobPending.String(),
	})
}

// WaitForRun blocks until the in-flight job run (if any) finished or the
// context expires. Used during shutdown so the event channel is only closed
// once nothing can write to it anymore.
func (s *Server) WaitForRun(ctx context.Context) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for s.running.Load() {
		select {
		case <-ctx.Done():
			s.log.Warn("shutdown timeout while a scrape run was still in flight.")
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := s.jobs.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown or expired job"})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":        true,
		"service":   s.cfg.ServiceName,
		"version":   s.cfg.Version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
