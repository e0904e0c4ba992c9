package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opscart/k8s-agentic-remediation/memory"
	"github.com/opscart/k8s-agentic-remediation/remediation"
)

// MemoryView is the read side of pattern memory exposed over HTTP.
type MemoryView interface {
	Statistics() memory.Stats
	Patterns() map[string]memory.Pattern
	History(podName string) []remediation.Attempt
}

type Server struct {
	mem     MemoryView
	state   func() string
	started time.Time
	router  *chi.Mux
	server  *http.Server
}

// NewServer serves /metrics, /healthz and a read-only memory API. state
// reports the loop controller's current state.
func NewServer(addr string, mem MemoryView, state func() string) *Server {
	s := &Server{
		mem:     mem,
		state:   state,
		started: time.Now(),
		router:  chi.NewRouter(),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.router.Handle("/metrics", Handler())
	s.router.Get("/healthz", s.health)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/stats", s.stats)
		r.Get("/patterns", s.patterns)
		r.Get("/history/{pod}", s.history)
	})

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	state := "unknown"
	if s.state != nil {
		state = s.state()
	}
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "alive",
		"loop":   state,
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.mem.Statistics())
}

func (s *Server) patterns(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.mem.Patterns())
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	pod := chi.URLParam(r, "pod")
	attempts := s.mem.History(pod)
	if attempts == nil {
		attempts = []remediation.Attempt{}
	}
	s.respondJSON(w, http.StatusOK, attempts)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
