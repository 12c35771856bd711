package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-webthing/internal/history"
	"github.com/nerrad567/gray-logic-webthing/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-webthing/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-webthing/internal/thing"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HistoryReader lists recorded notifications.
type HistoryReader interface {
	List(ctx context.Context, q history.Query) ([]history.Entry, error)
}

// HealthChecker is a component whose health is reported on /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   *config.Config
	Logger   *logging.Logger
	Registry *thing.Registry

	// History serves /history. Nil answers 503.
	History HistoryReader

	// Metrics receives the server's collectors and backs /metrics.
	// Nil creates a private registry.
	Metrics *prometheus.Registry

	// Checks are reported by /health, keyed by component name.
	Checks map[string]HealthChecker

	Version string
}

// Server serves the Things of one registry over HTTP and WebSocket.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg      *config.Config
	logger   *logging.Logger
	registry *thing.Registry
	history  HistoryReader
	checks   map[string]HealthChecker
	version  string

	hosts    map[string]struct{}
	hub      *Hub
	limiter  *clientLimiter
	metrics  *metrics
	gatherer prometheus.Gatherer
	handler  http.Handler

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc // cancels background goroutines on Close()
	started  time.Time
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called, but its handler is
// usable immediately.
func New(deps Deps) (*Server, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("thing registry is required")
	}
	if deps.Config.Security.JWT.Enabled && deps.Config.Security.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required when jwt is enabled")
	}

	reg := deps.Metrics
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	s := &Server{
		cfg:      deps.Config,
		logger:   deps.Logger,
		registry: deps.Registry,
		history:  deps.History,
		checks:   deps.Checks,
		version:  deps.Version,
		hosts:    allowedHosts(deps.Config.Server),
		metrics:  newMetrics(reg),
		gatherer: reg,
	}
	s.hub = NewHub(s.logger, s.metrics.wsConnections)
	if rl := deps.Config.Security.RateLimit; rl.Enabled {
		s.limiter = newClientLimiter(rl.RequestsPerMinute, rl.Burst)
	}

	for _, t := range s.registry.Things() {
		t.SetActionObserver(s.metrics.observeAction)
	}

	s.handler = s.buildRouter()
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start binds the listener and serves in a background goroutine.
//
// Returns an error if the address cannot be bound (port in use, etc.).
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	// Create internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.limiter != nil {
		go s.limiter.cleanupLoop(srvCtx)
	}

	addr := net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.listener = ln
	s.started = time.Now()
	s.server = &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.cfg.GetReadTimeout(),
		ReadHeaderTimeout: s.cfg.GetReadTimeout(),
		WriteTimeout:      s.cfg.GetWriteTimeout(),
		IdleTimeout:       s.cfg.GetIdleTimeout(),
		BaseContext:       func(net.Listener) context.Context { return srvCtx },
	}

	tlsCfg := s.cfg.Server.TLS
	srv := s.server
	go func() {
		var err error
		if tlsCfg.Enabled {
			s.logger.Info("api server starting with TLS",
				"address", ln.Addr().String(),
				"cert", tlsCfg.CertFile,
			)
			err = srv.ServeTLS(ln, tlsCfg.CertFile, tlsCfg.KeyFile)
		} else {
			s.logger.Info("api server starting",
				"address", ln.Addr().String(),
				"mode", s.cfg.Server.Mode,
				"things", len(s.registry.Things()),
			)
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// WebSocket connections are closed first, then in-flight requests get up
// to 10 seconds to complete.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	cancel := s.cancel
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	s.hub.closeAll()

	ctx, done := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer done()

	s.logger.Info("api server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down api server: %w", err)
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

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

// allowedHosts builds the Host header allow-list. Entries are host names
// without port; the port of an incoming Host header is not compared.
func allowedHosts(cfg config.ServerConfig) map[string]struct{} {
	hosts := map[string]struct{}{
		"localhost": {},
		"127.0.0.1": {},
		"::1":       {},
	}

	hostname := cfg.Hostname
	if hostname == "" {
		if h, err := os.Hostname(); err == nil {
			hostname = h
		}
	}
	if hostname != "" {
		hosts[normalizeHost(hostname)] = struct{}{}
		hosts[normalizeHost(hostname+".local")] = struct{}{}
	}
	if cfg.Host != "" && cfg.Host != "0.0.0.0" && cfg.Host != "::" {
		hosts[normalizeHost(cfg.Host)] = struct{}{}
	}
	for _, h := range cfg.AllowedHosts {
		hosts[normalizeHost(h)] = struct{}{}
	}
	return hosts
}
