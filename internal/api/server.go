// Package api exposes the orchestrator's control surface over HTTP,
// generalizing the teacher's ControlServer (loopback + token auth,
// chi middleware chain, concurrency limiting, audit logging) from a
// single-engine AI bridge into a general job-queue API, and replacing
// its Wails-event push with a transport-agnostic Server-Sent-Events
// stream.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"project-tachyon/internal/config"
	"project-tachyon/internal/diskstats"
	"project-tachyon/internal/orchestrator"
	"project-tachyon/internal/security"
	"project-tachyon/internal/speedcheck"
)

// Server is the control-plane HTTP front-end over an Orchestrator.
type Server struct {
	orch        *orchestrator.Orchestrator
	cfg         *config.Manager
	audit       *security.AuditLogger
	router      *chi.Mux
	downloadDir string
	activeReqs  int64
}

// New builds a Server and registers its routes. downloadDir anchors
// the /v1/status disk-usage probe and the default job destination.
func New(orch *orchestrator.Orchestrator, cfg *config.Manager, audit *security.AuditLogger, downloadDir string) *Server {
	s := &Server{orch: orch, cfg: cfg, audit: audit, router: chi.NewRouter(), downloadDir: downloadDir}
	s.setupRoutes()
	return s
}

// Router exposes the underlying handler, e.g. for httptest.NewServer.
func (s *Server) Router() http.Handler { return s.router }

// ListenAndServe binds to 127.0.0.1:port and serves until ctx is
// cancelled. The listener is loopback-only regardless of the auth
// middleware, matching the teacher's defense-in-depth bind.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("control server failed to bind %s: %w", addr, err)
	}

	srv := &http.Server{Handler: s.router}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.securityMiddleware)
	s.router.Use(s.concurrencyLimitMiddleware)

	s.router.Post("/v1/jobs", s.handleCreateJob)
	s.router.Get("/v1/jobs", s.handleListJobs)
	s.router.Get("/v1/jobs/{id}", s.handleGetJob)
	s.router.Post("/v1/jobs/{id}/control", s.handleJobControl)
	s.router.Post("/v1/jobs/cleanup", s.handleCleanup)
	s.router.Get("/v1/events", s.handleEvents)
	s.router.Get("/v1/status", s.handleStatus)
	s.router.Get("/v1/speedtest", s.handleSpeedtest)
}

func (s *Server) securityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sourceIP, _, _ := net.SplitHostPort(r.RemoteAddr)
		action := r.Method + " " + r.URL.Path

		if sourceIP != "127.0.0.1" && sourceIP != "::1" && sourceIP != "" {
			s.audit.Log(sourceIP, action, http.StatusForbidden, "external access denied")
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		expected := s.cfg.GetAPIToken()
		if token := r.Header.Get("X-Tachyon-Token"); token != expected {
			s.audit.Log(sourceIP, action, http.StatusUnauthorized, "invalid token")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		s.audit.Log(sourceIP, action, http.StatusOK, "authorized")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) concurrencyLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		max := int64(s.cfg.GetAPIMaxConcurrent())
		if max <= 0 {
			max = 1
		}

		current := atomic.AddInt64(&s.activeReqs, 1)
		defer atomic.AddInt64(&s.activeReqs, -1)

		if current > max {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// createJobRequest is the POST /v1/jobs body.
type createJobRequest struct {
	URL         string `json:"url"`
	Filename    string `json:"filename"`
	Connections int    `json:"connections"`
	Priority    int    `json:"priority"`
	Adaptive    bool   `json:"adaptive"`
	DestDir     string `json:"dest_dir"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.DestDir == "" {
		req.DestDir = s.downloadDir
	}

	id, err := s.orch.Add(req.URL, orchestrator.AddOptions{
		Filename:    req.Filename,
		Connections: req.Connections,
		Priority:    req.Priority,
		Adaptive:    req.Adaptive,
		DestDir:     req.DestDir,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.List())
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := s.orch.Get(id)
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type jobControlRequest struct {
	Action string `json:"action"`
}

func (s *Server) handleJobControl(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req jobControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var err error
	switch req.Action {
	case "pause":
		err = s.orch.Pause(id)
	case "resume":
		err = s.orch.Resume(id)
	case "cancel":
		err = s.orch.Cancel(id)
	case "remove":
		err = s.orch.Remove(id)
	default:
		http.Error(w, "invalid action", http.StatusBadRequest)
		return
	}

	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	removed := s.orch.Cleanup()
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// handleEvents streams orchestrator job events as Server-Sent Events,
// replacing the teacher's runtime.EventsEmit push with a format any
// browser EventSource or curl can consume.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := make(chan orchestrator.Event, 64)
	subID := s.orch.Subscribe(func(ev orchestrator.Event) {
		select {
		case events <- ev:
		default:
		}
	})
	defer s.orch.Unsubscribe(subID)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			payload, err := json.Marshal(ev.Data)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
			flusher.Flush()
		}
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	usage, err := diskstats.For(s.downloadDir)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "running"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "running", "disk": usage})
}

func (s *Server) handleSpeedtest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	result, err := speedcheck.Run(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
