// Package httpapi implements the HTTP Edge (C9): the chi-routed surface clients and the service
// fronting them speak to — health/metrics probes, turn submission, and the SSE stream a client
// follows to watch a turn render in real time.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/HyphaGroup/chatsidecar/internal/config"
	"github.com/HyphaGroup/chatsidecar/internal/livebus"
	"github.com/HyphaGroup/chatsidecar/internal/metrics"
	"github.com/HyphaGroup/chatsidecar/internal/sessionregistry"
	"github.com/HyphaGroup/chatsidecar/internal/store"
	"github.com/HyphaGroup/chatsidecar/internal/streamruntime"
	"github.com/HyphaGroup/chatsidecar/internal/transport"
)

// Server holds every collaborator a handler needs. The zero value is not usable; construct with
// New.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	bus      *livebus.Bus
	sessions *sessionregistry.Registry
	runtime  *streamruntime.Runtime
	factory  transport.Factory
	logger   *slog.Logger
	limiter  *sessionRateLimiter
}

// New wires a Server to its collaborators. factory is the transport.Factory selected by
// cfg.SandboxBackend (built once by cmd/sidecar and threaded through here, rather than rebuilt per
// request).
func New(cfg *config.Config, st *store.Store, bus *livebus.Bus, sessions *sessionregistry.Registry, runtime *streamruntime.Runtime, factory transport.Factory, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg: cfg, store: st, bus: bus, sessions: sessions, runtime: runtime, factory: factory, logger: logger,
		limiter: newSessionRateLimiter(2, 5),
	}
}

// Router builds the chi mux: every route carries the metrics middleware and a request id, and a
// request-scoped logger is attached to the request context for handlers to pull fields from.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.withRequestLogger)
	r.Use(metrics.Middleware)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())
	r.With(s.limiter.middleware).Post("/chat", s.handleChat)
	r.Get("/stream/{session_id}", s.handleStreamGet)
	r.Delete("/stream/{session_id}", s.handleStreamDelete)

	return r
}

// CleanupRateLimiter discards every tracked per-session rate limiter bucket; cmd/sidecar calls
// this from the same ticker that drives the Session Registry's idle reaper.
func (s *Server) CleanupRateLimiter() {
	s.limiter.Cleanup()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
