package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/devicelink-core/internal/auth"
	"github.com/nerrad567/devicelink-core/internal/command"
	"github.com/nerrad567/devicelink-core/internal/device"
	"github.com/nerrad567/devicelink-core/internal/infrastructure/config"
	"github.com/nerrad567/devicelink-core/internal/infrastructure/logging"
)

const gracefulShutdownTimeout = 10 * time.Second

// Commands is the command surface the REST hooks use. *command.Dispatcher
// covers Dispatch and IsConnected; the log store covers Get and List.
type Commands interface {
	Dispatch(ctx context.Context, req command.Request) (*command.Result, error)
	IsConnected(devicePK int64) bool
	Get(ctx context.Context, id int64) (*command.Command, error)
	List(ctx context.Context, filter command.Filter) (*command.ListResult, error)
}

// Gateway is a WebSocket channel mounted on the router.
type Gateway interface {
	http.Handler
	ConnectionCount() int
}

// HealthChecker is implemented by the database and the optional MQTT and
// InfluxDB clients.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HTTPObserver counts requests by route pattern. Satisfied by *metrics.Metrics.
type HTTPObserver interface {
	ObserveHTTP(route, method string, status int)
}

// Deps holds what the server needs. Metrics, the gateways and health
// checks are optional.
type Deps struct {
	Config       config.APIConfig
	Auth         auth.Verifier
	Logger       *logging.Logger
	Commands     Commands
	Devices      device.Repository
	Connections  interface{ Len() int }
	DevicePath   string
	DeviceWS     Gateway
	OperatorPath string
	OperatorWS   Gateway
	MetricsPath  string
	Metrics      http.Handler
	HTTPObserver HTTPObserver
	HealthChecks map[string]HealthChecker
	Version      string
}

// Server is the HTTP server.
type Server struct {
	deps     Deps
	cfg      config.APIConfig
	logger   *logging.Logger
	server   *http.Server
	listener net.Listener
}

// New validates deps. Nothing listens until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Commands == nil {
		return nil, fmt.Errorf("command service is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device repository is required")
	}
	return &Server{
		deps:   deps,
		cfg:    deps.Config,
		logger: deps.Logger.With("component", "api"),
	}, nil
}

// Handler returns the full router. Used by Start and by tests.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listener and serves in the background. Port 0 picks a
// free port; see Addr.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port))
	if err != nil {
		return fmt.Errorf("listening on %s:%d: %w", s.cfg.Host, s.cfg.Port, err)
	}
	s.listener = ln

	readTimeout := time.Duration(s.cfg.Timeouts.Read) * time.Second
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close waits up to gracefulShutdownTimeout for in-flight requests.
// Hijacked WebSocket connections are not tracked by http.Server; the
// gateways close them in their own Shutdown.
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
