package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/tbdash/internal/dashboard"
	"github.com/nerrad567/tbdash/internal/infrastructure/config"
	"github.com/nerrad567/tbdash/internal/infrastructure/logging"
	"github.com/nerrad567/tbdash/internal/infrastructure/metrics"
	"github.com/nerrad567/tbdash/internal/thingsboard"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Backend is the part of *thingsboard.Client the handlers call.
type Backend interface {
	Login(ctx context.Context, username, password string) (*thingsboard.AuthResponse, error)
	Signup(ctx context.Context, req thingsboard.SignupRequest) (*thingsboard.User, error)
	Logout(ctx context.Context)
	CurrentUser(ctx context.Context) (*thingsboard.User, error)
	IsAuthenticated() bool

	ListDevices(ctx context.Context, pageSize, page int) ([]thingsboard.Device, error)
	ListDevicesByType(ctx context.Context, deviceType string) ([]thingsboard.Device, error)
	DeviceByID(ctx context.Context, id string) (*thingsboard.Device, error)

	LatestTelemetry(ctx context.Context, deviceID string, keys []string) (thingsboard.Telemetry, error)
	HistoricalTelemetry(ctx context.Context, deviceID, key string, r thingsboard.Range, limit int) ([]thingsboard.Sample, error)

	SendCommand(ctx context.Context, deviceID, method string, params any) error
	SendRPC(ctx context.Context, deviceID, method string, params any, timeout time.Duration) (json.RawMessage, error)
}

// Refresher runs an on-demand dashboard refresh. *dashboard.Poller
// implements it.
type Refresher interface {
	RefreshNow(ctx context.Context) (*dashboard.Snapshot, error)
}

// PumpSetter commands pumps. *dashboard.PumpControl implements it.
type PumpSetter interface {
	SetPump(ctx context.Context, deviceID string, status thingsboard.PumpStatus) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Metrics *metrics.Metrics // optional; /metrics answers 404 without it
	Backend Backend
	State   *dashboard.State
	Refresh Refresher
	Pumps   PumpSetter
	Version string
}

// Server is the local HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	origins   originPolicy
	logger    *logging.Logger
	metrics   *metrics.Metrics
	backend   Backend
	state     *dashboard.State
	refresher Refresher
	pumps     PumpSetter
	version   string
	server    *http.Server
	hub       *Hub
	cancel    context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// Returns an error if Logger, Backend, State, Refresh or Pumps is missing.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger is required")
	case deps.Backend == nil:
		return nil, fmt.Errorf("backend is required")
	case deps.State == nil:
		return nil, fmt.Errorf("dashboard state is required")
	case deps.Refresh == nil:
		return nil, fmt.Errorf("dashboard refresher is required")
	case deps.Pumps == nil:
		return nil, fmt.Errorf("pump control is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger.With("component", "api"),
		metrics:   deps.Metrics,
		backend:   deps.Backend,
		state:     deps.State,
		refresher: deps.Refresh,
		pumps:     deps.Pumps,
		version:   deps.Version,
	}

	s.hub = NewHub(s.logger, s.metrics)
	s.hub.SetInitial(dashboard.ChannelUpdated, func() any { return s.state.View() })

	return s, nil
}

// Hub returns the WebSocket hub, for wiring as a dashboard broadcaster.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start runs the hub and launches the HTTP listener in a
// background goroutine. Stop it with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server listening", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server, waiting up to 10 seconds for
// in-flight requests.
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

// HealthCheck verifies the API server is running.
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
