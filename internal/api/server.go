// Package api provides the HTTP REST API and WebSocket server for Helm Core.
//
// It exposes three surfaces: owner-facing resource endpoints (boats,
// devices, commands) behind JWT auth, the unauthenticated device link
// (poll/ack) that embedded units call over plain HTTP, and a WebSocket
// hub pushing live command and device events to UI subscribers.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/itechmarine/helm-core/internal/auth"
	"github.com/itechmarine/helm-core/internal/command"
	"github.com/itechmarine/helm-core/internal/device"
	"github.com/itechmarine/helm-core/internal/fleet"
	"github.com/itechmarine/helm-core/internal/infrastructure/config"
	"github.com/itechmarine/helm-core/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Security   config.SecurityConfig
	Logger     *logging.Logger
	Users      auth.UserRepository
	Boats      fleet.Repository
	Devices    device.Repository
	Commands   command.Repository
	Dispatcher *command.Dispatcher
	Gateway    *command.Gateway
	Version    string

	// Hub, when set, is used instead of a server-owned hub. Main wires
	// the command core to the hub before the server exists, so it creates
	// the hub first and hands it in.
	Hub *Hub
}

// Server is the HTTP API server for Helm Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	secCfg     config.SecurityConfig
	logger     *logging.Logger
	users      auth.UserRepository
	boats      fleet.Repository
	devices    device.Repository
	commands   command.Repository
	dispatcher *command.Dispatcher
	gateway    *command.Gateway
	version    string
	server     *http.Server
	hub        *Hub
	cancel     context.CancelFunc
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Users == nil || deps.Boats == nil || deps.Devices == nil || deps.Commands == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.Dispatcher == nil || deps.Gateway == nil {
		return nil, fmt.Errorf("command dispatcher and gateway are required")
	}

	hub := deps.Hub
	if hub == nil {
		hub = NewHub(deps.WS, deps.Logger)
	}

	return &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		secCfg:     deps.Security,
		logger:     deps.Logger,
		users:      deps.Users,
		boats:      deps.Boats,
		devices:    deps.Devices,
		commands:   deps.Commands,
		dispatcher: deps.Dispatcher,
		gateway:    deps.Gateway,
		version:    deps.Version,
		hub:        hub,
	}, nil
}

// EventHub returns the WebSocket hub so the command core can be wired to
// broadcast live events through it.
func (s *Server) EventHub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It builds the router, starts the WebSocket hub, and launches the HTTP
// listener in a background goroutine. The server is stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
