package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/iotdm-agent/internal/dm"
	"github.com/nerrad567/iotdm-agent/internal/infrastructure/config"
	"github.com/nerrad567/iotdm-agent/internal/infrastructure/logging"
	"github.com/nerrad567/iotdm-agent/internal/store"
)

const (
	// gracefulShutdownTimeout is the maximum time to wait for in-flight
	// requests to complete during shutdown.
	gracefulShutdownTimeout = 10 * time.Second

	healthCheckTimeout = 2 * time.Second

	// opMargin is kept free of the write timeout so a timed-out management
	// call can still write its 504.
	opMargin    = time.Second
	minOpBudget = time.Second
)

// Engine is the part of the device-management engine the API drives.
type Engine interface {
	Snapshot(ctx context.Context) (dm.Snapshot, error)
	Manage(ctx context.Context, lifetime int, deviceActions, firmwareActions bool) (dm.Response, error)
	Unmanage(ctx context.Context) (dm.Response, error)
	UpdateLocation(ctx context.Context, loc dm.UpdateLocation) (dm.Response, error)
	AddErrorCode(ctx context.Context, code int) (dm.Response, error)
	ClearErrorCodes(ctx context.Context) (dm.Response, error)
	AddLog(ctx context.Context, message, data string, severity dm.LogSeverity) (dm.Response, error)
	ClearLogs(ctx context.Context) (dm.Response, error)
	PublishEvent(ctx context.Context, event, format string, payload []byte) error
}

// HealthChecker is implemented by infrastructure components.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	Management config.ManagementConfig
	Logger     *logging.Logger
	Engine     Engine
	Journal    store.Journal // optional: /requests answers 503 without it
	Metrics    http.Handler  // optional: /metrics is not mounted without it
	Checks     map[string]HealthChecker
	Version    string
}

// Server is the local HTTP API.
type Server struct {
	cfg        config.APIConfig
	management config.ManagementConfig
	logger     *logging.Logger
	engine     Engine
	journal    store.Journal
	metrics    http.Handler
	checks     map[string]HealthChecker
	version    string
	startTime  time.Time
	opBudget   time.Duration

	server *http.Server
	errc   chan error
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}

	budget := time.Duration(deps.Config.Timeouts.Write)*time.Second - opMargin
	if budget < minOpBudget {
		budget = minOpBudget
	}

	return &Server{
		cfg:        deps.Config,
		management: deps.Management,
		logger:     deps.Logger,
		engine:     deps.Engine,
		journal:    deps.Journal,
		metrics:    deps.Metrics,
		checks:     deps.Checks,
		version:    deps.Version,
		startTime:  time.Now(),
		opBudget:   budget,
	}, nil
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listener and serves in the background. Listen errors
// (port in use) are returned here; later serve errors come from Err.
func (s *Server) Start(_ context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}
	s.errc = make(chan error, 1)

	s.logger.Info("API server listening", "address", ln.Addr().String())
	go func() {
		err := s.server.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
			s.errc <- err
		}
		close(s.errc)
	}()

	return nil
}

// Err yields a serve failure, or closes when the server stops cleanly.
func (s *Server) Err() <-chan error {
	return s.errc
}

// Close gracefully shuts down the API server.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
