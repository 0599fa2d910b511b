// Package gateway exposes the pipeline over HTTP: synchronous execution,
// queued submission with result polling, a WebSocket telemetry stream, and
// the metrics endpoint.
package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/conductor-ai/conductor/internal/metrics"
	"github.com/conductor-ai/conductor/pkg/model"
	"github.com/conductor-ai/conductor/pkg/pipeline"
	"github.com/conductor-ai/conductor/pkg/telemetry"
	"github.com/conductor-ai/conductor/pkg/tool"
)

// Config holds gateway configuration.
type Config struct {
	Host string
	Port int

	// AuthToken guards every route except health. Required.
	AuthToken string

	// AllowUnsafe permits unsafe tools for every request, without a
	// per-request allow_unsafe_tools flag.
	AllowUnsafe bool

	Pipeline    *pipeline.Pipeline
	Queue       *pipeline.Queue
	Registry    *tool.Registry
	Router      *model.Router
	Broadcaster *telemetry.Broadcaster
	Metrics     *metrics.Metrics
	Logger      *zerolog.Logger
}

// Server is the HTTP and WebSocket gateway.
type Server struct {
	cfg      Config
	server   *http.Server
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	shutdownMu     sync.RWMutex
	isShuttingDown bool
	inFlight       sync.WaitGroup
}

// NewServer creates a gateway server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.AuthToken == "" {
		return nil, fmt.Errorf("auth token is required")
	}
	if cfg.Pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Server{
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}, nil
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/execute", s.auth(s.handleExecute))
	mux.HandleFunc("POST /v1/executions", s.auth(s.handleSubmit))
	mux.HandleFunc("GET /v1/executions", s.auth(s.handleListExecutions))
	mux.HandleFunc("GET /v1/executions/{id}", s.auth(s.handleGetExecution))
	mux.HandleFunc("DELETE /v1/executions/{id}", s.auth(s.handleCancelExecution))
	mux.HandleFunc("GET /v1/tools", s.auth(s.handleListTools))
	mux.HandleFunc("GET /v1/models", s.auth(s.handleModels))
	mux.HandleFunc("GET /v1/stream", s.auth(s.handleStream))

	if s.cfg.Metrics != nil {
		mux.Handle("GET /metrics", s.cfg.Metrics.Handler())
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return mux
}

// Start begins serving. It returns once the listener is bound.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind gateway listener: %w", err)
	}

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("Gateway listening")
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()
	return nil
}

// Stop drains in-flight requests and shuts the server down.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Gateway drain timeout, forcing close")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown gateway: %w", err)
		}
	}
	s.logger.Info().Msg("Gateway stopped")
	return nil
}

// track registers a request against graceful shutdown. Returns false when the
// server is already draining.
func (s *Server) track() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	if s.isShuttingDown {
		return false
	}
	s.inFlight.Add(1)
	return true
}
