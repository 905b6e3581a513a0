package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/tep-core/internal/infrastructure/config"
	"github.com/nerrad567/tep-core/internal/infrastructure/logging"
	"github.com/nerrad567/tep-core/internal/initializer"
	"github.com/nerrad567/tep-core/internal/registry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 5 * time.Second

// readHeaderTimeout bounds how long a client may take to send request headers.
const readHeaderTimeout = 5 * time.Second

// Component is the running component as seen by the status endpoints.
type Component interface {
	Name() string
	Version() string
	Running() bool
	Connected() bool
	StartupState() initializer.State
	Topics() []string
}

// Peers is the local cache of peer liveness entries.
type Peers interface {
	Snapshot() map[string]registry.Entry
	Get(name string) (registry.Entry, bool)
}

// Deps holds the dependencies required by the status server.
type Deps struct {
	Config    config.HTTPConfig
	Logger    *logging.Logger
	Component Component
	Peers     Peers

	// Metrics is optional; without it /metrics answers 404.
	Metrics *prometheus.Registry
}

// Server is the HTTP status server of a component.
//
// It manages the HTTP listener, routes, middleware, and the peer feed hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.HTTPConfig
	logger    *logging.Logger
	component Component
	peers     Peers
	metrics   *prometheus.Registry
	hub       *Hub

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
}

// New creates a new status server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, component, peers)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Component == nil {
		return nil, fmt.Errorf("component is required")
	}
	if deps.Peers == nil {
		return nil, fmt.Errorf("peer cache is required")
	}

	s := &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		component: deps.Component,
		peers:     deps.Peers,
		metrics:   deps.Metrics,
	}
	s.hub = NewHub(deps.Peers, deps.Config.FeedInterval, deps.Logger)
	return s, nil
}

// Handler returns the router of the server, for use without a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listen address, starts the peer feed hub and serves
// HTTP in a background goroutine until Close() is called.
//
// Parameters:
//   - ctx: Parent context of the peer feed hub
//
// Returns:
//   - error: If the address cannot be bound or the server already runs
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("status server already started")
	}

	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("binding %s: %w", s.cfg.Listen, err)
	}

	var hubCtx context.Context
	hubCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(hubCtx)

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	srv := s.server
	go func() {
		s.logger.Info("status server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the status server.
//
// It stops the peer feed, then waits up to gracefulShutdownTimeout for
// in-flight requests to complete.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	s.mu.Lock()
	srv, cancel := s.server, s.cancel
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	ctx, stop := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer stop()

	s.logger.Info("status server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down status server: %w", err)
	}
	return nil
}
