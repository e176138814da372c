package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/relaysync/internal/infrastructure/config"
	"github.com/nerrad567/relaysync/internal/infrastructure/logging"
	"github.com/nerrad567/relaysync/internal/orchestrator"
	"github.com/nerrad567/relaysync/internal/transport"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// DeviceService is the orchestrator surface the API drives.
// Implemented by *orchestrator.Orchestrator.
type DeviceService interface {
	State(deviceID string) (orchestrator.CanonicalState, error)
	States() []orchestrator.CanonicalState
	SetTarget(ctx context.Context, deviceID string, value int) error
	SetTargetDebounced(deviceID string, value int, quiet time.Duration) error
	SetPower(ctx context.Context, deviceID string, channel int, on bool) error
	Resync(ctx context.Context, deviceID string) error
	OnStateChange(fn func(orchestrator.CanonicalState))
}

// TransportInspector exposes per-device transport state.
// Implemented by *transport.Router.
type TransportInspector interface {
	Reachability(deviceID string) (transport.Reachability, bool)
	LastKnown(deviceID string) (map[string]transport.Field, bool)
}

// HealthChecker is implemented by infrastructure clients (database, MQTT,
// InfluxDB).
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Security  config.SecurityConfig
	Logger    *logging.Logger
	Devices   DeviceService
	Transport TransportInspector

	// LAN is mounted unauthenticated at /lan when set.
	LAN http.Handler

	// Checks are reported by GET /health, keyed by component name.
	Checks map[string]HealthChecker

	// DefaultDebounce applies to target requests that omit debounce_ms.
	DefaultDebounce time.Duration

	Version string
}

// Server is the HTTP API server for relaysync.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg             config.APIConfig
	wsCfg           config.WebSocketConfig
	secCfg          config.SecurityConfig
	logger          *logging.Logger
	devices         DeviceService
	transport       TransportInspector
	lan             http.Handler
	checks          map[string]HealthChecker
	defaultDebounce time.Duration
	version         string
	startTime       time.Time
	server          *http.Server
	hub             *Hub
	cancel          context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device service is required")
	}
	if deps.Transport == nil {
		return nil, fmt.Errorf("transport inspector is required")
	}

	s := &Server{
		cfg:             deps.Config,
		wsCfg:           deps.WS,
		secCfg:          deps.Security,
		logger:          deps.Logger,
		devices:         deps.Devices,
		transport:       deps.Transport,
		lan:             deps.LAN,
		checks:          deps.Checks,
		defaultDebounce: deps.DefaultDebounce,
		version:         deps.Version,
		startTime:       time.Now(),
		hub:             NewHub(deps.WS, deps.Logger),
	}

	// Every state change goes out on the WebSocket feed.
	s.devices.OnStateChange(s.hub.Publish)

	return s, nil
}

// Hub returns the server's WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and launches the HTTP listener in a
// background goroutine. The server can be stopped with Close().
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
