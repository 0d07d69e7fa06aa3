package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/cmstate/cmstate/internal/engine"
	"github.com/cmstate/cmstate/internal/ws"
)

// Server is the REST API for serve mode. It exposes the engine over
// HTTP and streams reconciliation progress over the WebSocket hub.
type Server struct {
	engine  *engine.Engine
	hub     *ws.Hub
	logger  *slog.Logger
	addr    string
	server  *http.Server
	devMode bool
}

// Option configures the API server.
type Option func(*Server)

// WithDevMode permits cross-origin requests from a dev frontend.
func WithDevMode(dev bool) Option {
	return func(s *Server) {
		s.devMode = dev
	}
}

// WithHub attaches the WebSocket hub that streams run progress. Without
// a hub the /api/ws route is not registered.
func WithHub(hub *ws.Hub) Option {
	return func(s *Server) {
		s.hub = hub
	}
}

// New creates a new API server listening on addr.
func New(eng *engine.Engine, logger *slog.Logger, addr string, opts ...Option) *Server {
	s := &Server{
		engine: eng,
		logger: logger,
		addr:   addr,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.hub != nil {
		s.hub.SetStatusProvider(func() ([]byte, error) {
			statuses, err := s.engine.Status(context.Background())
			if err != nil {
				return nil, err
			}
			return json.Marshal(statuses)
		})
	}
	return s
}

// Start builds the route table and serves until Shutdown or a listener
// error.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	var handler http.Handler = requestLogger(s.logger, mux)
	if s.devMode {
		handler = corsHeaders(handler)
	}

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: handler,
	}

	s.logger.Info("starting api server", "addr", s.addr, "dev_mode", s.devMode)
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/services", s.handleServices)
	mux.HandleFunc("POST /api/ensure", s.handleEnsure)
	mux.HandleFunc("POST /api/restart", s.handleRestart)
	mux.HandleFunc("GET /api/preflight", s.handlePreflight)
	mux.HandleFunc("GET /api/state", s.handleState)

	if s.hub != nil {
		mux.HandleFunc("/api/ws", s.hub.HandleWebSocket)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}
