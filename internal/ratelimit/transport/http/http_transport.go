// Package httptransport provides an HTTP transport.
package httptransport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ratelimiter/internal/ratelimit/core"
	"ratelimiter/internal/ratelimit/observability"
)

// HTTPTransport serves the simulator and admin APIs over HTTP.
type HTTPTransport struct {
	addr           string
	srv            *http.Server
	simulator      core.SimulatorService
	admin          core.AdminService
	appReady       func() bool
	ping           func(ctx context.Context) error
	metrics        observability.Metrics
	metricsHandler http.Handler
	router         http.Handler
	mu             sync.Mutex
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration
	requestTimeout time.Duration
	maxBodyBytes   int64
	logger         observability.Logger
}

// HTTPTransportConfig configures the HTTP transport.
type HTTPTransportConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	Logger         observability.Logger
	Metrics        observability.Metrics
	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
	// Ping is consulted by /readyz in addition to the readiness flag.
	Ping func(ctx context.Context) error
}

// NewHTTPTransport constructs a transport bound to an address.
func NewHTTPTransport(addr string, ready func() bool) *HTTPTransport {
	if addr == "" {
		addr = ":8080"
	}
	if ready == nil {
		ready = func() bool { return false }
	}
	return &HTTPTransport{addr: addr, appReady: ready}
}

// ServeSimulator registers the simulator service.
func (t *HTTPTransport) ServeSimulator(service core.SimulatorService) error {
	if service == nil {
		return errors.New("simulator service is required")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.simulator = service
	return nil
}

// ServeAdmin registers the admin service.
func (t *HTTPTransport) ServeAdmin(service core.AdminService) error {
	if service == nil {
		return errors.New("admin service is required")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.admin = service
	return nil
}

// Configure applies transport configuration values.
func (t *HTTPTransport) Configure(cfg HTTPTransportConfig) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readTimeout = cfg.ReadTimeout
	t.writeTimeout = cfg.WriteTimeout
	t.idleTimeout = cfg.IdleTimeout
	t.requestTimeout = cfg.RequestTimeout
	if cfg.MaxBodyBytes > 0 {
		t.maxBodyBytes = cfg.MaxBodyBytes
	}
	t.logger = cfg.Logger
	t.metrics = cfg.Metrics
	t.metricsHandler = cfg.MetricsHandler
	t.ping = cfg.Ping
}

// Listen binds the configured address.
func (t *HTTPTransport) Listen() (net.Listener, error) {
	return net.Listen("tcp", t.addr)
}

// Serve handles requests on listener until Shutdown.
func (t *HTTPTransport) Serve(listener net.Listener) error {
	if t == nil {
		return errors.New("http transport is nil")
	}
	handler, err := t.handler()
	if err != nil {
		return err
	}
	t.mu.Lock()
	if t.srv == nil {
		t.srv = &http.Server{
			Addr:         t.addr,
			Handler:      handler,
			ReadTimeout:  t.readTimeout,
			WriteTimeout: t.writeTimeout,
			IdleTimeout:  t.idleTimeout,
		}
	}
	srv := t.srv
	t.mu.Unlock()

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Start binds the address and serves until Shutdown.
func (t *HTTPTransport) Start() error {
	listener, err := t.Listen()
	if err != nil {
		return err
	}
	return t.Serve(listener)
}

// Shutdown stops the HTTP server.
func (t *HTTPTransport) Shutdown(ctx context.Context) error {
	if t == nil {
		return errors.New("http transport is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	t.mu.Lock()
	srv := t.srv
	t.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing.
func (t *HTTPTransport) Handler() (http.Handler, error) {
	return t.handler()
}

func (t *HTTPTransport) handler() (http.Handler, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.router != nil {
		return t.router, nil
	}
	if t.simulator == nil || t.admin == nil {
		return nil, errors.New("services must be registered before starting")
	}
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(t.observeRoute)
	if t.requestTimeout > 0 {
		router.Use(middleware.Timeout(t.requestTimeout))
	}
	t.registerRoutes(router)
	t.router = router
	return router, nil
}

// observeRoute records latency per matched route pattern.
func (t *HTTPTransport) observeRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if t.metrics == nil {
			return
		}
		pattern := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			pattern = rctx.RoutePattern()
		}
		t.metrics.ObserveLatency("http "+r.Method+" "+pattern, time.Since(start))
	})
}
