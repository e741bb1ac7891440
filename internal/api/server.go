package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/kwilde42/shadow-core/internal/infrastructure/config"
	"github.com/kwilde42/shadow-core/internal/infrastructure/logging"
	"github.com/kwilde42/shadow-core/internal/shadow"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps contains the dependencies the server needs.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Service  *shadow.Service
	Registry *ConnectionRegistry // optional; created internally when nil
	Version  string
}

// Server is the HTTP and WebSocket server for Shadow Core.
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	logger   *logging.Logger
	service  *shadow.Service
	registry *ConnectionRegistry
	version  string

	httpServer *http.Server

	mu      sync.Mutex
	started bool
	closed  bool
}

// New creates a new API server.
//
// Parameters:
//   - deps: server dependencies; Logger and Service are required.
//
// Returns:
//   - *Server: the configured server, not yet listening.
//   - error: if a required dependency is missing.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, errors.New("api: logger is required")
	}
	if deps.Service == nil {
		return nil, errors.New("api: shadow service is required")
	}

	registry := deps.Registry
	if registry == nil {
		registry = NewRegistry(deps.Logger)
	}

	return &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		logger:   deps.Logger,
		service:  deps.Service,
		registry: registry,
		version:  deps.Version,
	}, nil
}

// Start begins listening for HTTP requests and wires the shadow service's
// event stream into the WebSocket broadcast path.
//
// Start returns once the listener is accepting connections; the serve loop
// runs in a background goroutine. A nil error means the server is up.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("api: server already started")
	}
	s.started = true
	s.mu.Unlock()

	s.attachEventBroadcast()

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.buildRouter(),
		ReadTimeout:  time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api: failed to listen on %s: %w", addr, err)
	}

	s.logger.Info("API server starting",
		"addr", addr,
		"tls", s.cfg.TLS.Enabled,
	)

	go func() {
		var serveErr error
		if s.cfg.TLS.Enabled {
			serveErr = s.httpServer.ServeTLS(listener, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			serveErr = s.httpServer.Serve(listener)
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", serveErr)
		}
	}()

	return nil
}

// attachEventBroadcast wires the shadow service's event stream into the
// WebSocket fan-out: every accepted mutation becomes a shadow_updated frame
// for all subscribers except the originator, which already received its ack.
func (s *Server) attachEventBroadcast() {
	s.service.AddListener(func(ev shadow.Event) {
		data, err := json.Marshal(WSMessage{
			Type:      WSTypeShadowUpdated,
			Shadow:    ev.Shadow,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			s.logger.Error("failed to marshal shadow_updated frame", "error", err)
			return
		}
		s.registry.Broadcast(ev.DeviceID, data, ev.Origin)
	})
}

// Close gracefully shuts down the server, waiting for in-flight requests
// up to gracefulShutdownTimeout, then disconnects all WebSocket clients.
// Safe to call multiple times.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed || !s.started {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.logger.Info("API server shutting down")

	// Tell connected clients the service is going away before the sockets
	// drop, so well-behaved clients can back off instead of hammering
	// reconnects.
	if notice, err := json.Marshal(WSMessage{
		Type:      WSTypeError,
		Code:      "server_shutdown",
		Message:   "server shutting down",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}); err == nil {
		s.registry.BroadcastAll(notice)
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	s.registry.closeAll()
	return err
}

// HealthCheck verifies the server is running.
func (s *Server) HealthCheck(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.closed {
		return errors.New("api: server not running")
	}
	return nil
}
