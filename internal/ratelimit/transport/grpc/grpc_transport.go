// Package grpctransport provides a gRPC transport.
package grpctransport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"ratelimiter/internal/ratelimit/core"
	"ratelimiter/internal/ratelimit/observability"
)

// GRPCTransport serves the simulator and admin APIs over gRPC.
type GRPCTransport struct {
	addr      string
	lis       net.Listener
	srv       *grpc.Server
	health    *health.Server
	simulator core.SimulatorService
	admin     core.AdminService
	ready     func() bool
	cfg       GRPCTransportConfig
	mu        sync.Mutex
}

// GRPCTransportConfig configures the gRPC transport.
type GRPCTransportConfig struct {
	KeepAlive        time.Duration
	KeepAliveTimeout time.Duration
	Tracer           observability.Tracer
	Metrics          observability.Metrics
	Logger           observability.Logger
}

// NewGRPCTransport constructs a transport bound to an address.
func NewGRPCTransport(addr string, ready func() bool, cfg GRPCTransportConfig) *GRPCTransport {
	if addr == "" {
		addr = ":9090"
	}
	if ready == nil {
		ready = func() bool { return false }
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 60 * time.Second
	}
	if cfg.KeepAliveTimeout <= 0 {
		cfg.KeepAliveTimeout = 20 * time.Second
	}
	return &GRPCTransport{addr: addr, ready: ready, cfg: cfg, health: health.NewServer()}
}

// ServeSimulator registers the simulator service.
func (t *GRPCTransport) ServeSimulator(service core.SimulatorService) error {
	if service == nil {
		return errors.New("simulator service is required")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.simulator = service
	return nil
}

// ServeAdmin registers the admin service.
func (t *GRPCTransport) ServeAdmin(service core.AdminService) error {
	if service == nil {
		return errors.New("admin service is required")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.admin = service
	return nil
}

// Listen binds the configured address.
func (t *GRPCTransport) Listen() (net.Listener, error) {
	return net.Listen("tcp", t.addr)
}

// Start binds the address and serves until Shutdown.
func (t *GRPCTransport) Start() error {
	listener, err := t.Listen()
	if err != nil {
		return err
	}
	return t.Serve(listener)
}

// Serve handles RPCs on listener until Shutdown.
func (t *GRPCTransport) Serve(listener net.Listener) error {
	if t == nil {
		return errors.New("grpc transport is nil")
	}
	t.mu.Lock()
	if t.simulator == nil || t.admin == nil {
		t.mu.Unlock()
		return errors.New("services must be registered before starting")
	}
	t.lis = listener
	if t.srv == nil {
		opts := []grpc.ServerOption{
			grpc.ChainUnaryInterceptor(
				grpcRequestIDInterceptor(t.cfg.Logger),
				grpcTracingMetricsInterceptor(t.cfg.Tracer, t.cfg.Metrics),
			),
			grpc.KeepaliveParams(keepalive.ServerParameters{
				Time:    t.cfg.KeepAlive,
				Timeout: t.cfg.KeepAliveTimeout,
			}),
		}
		t.srv = grpc.NewServer(opts...)
		RegisterRateLimiterServer(t.srv, &grpcServer{simulator: t.simulator, admin: t.admin})
		healthpb.RegisterHealthServer(t.srv, t.health)
	}
	t.refreshHealth()
	srv := t.srv
	t.mu.Unlock()

	if err := srv.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// SetServing updates the reported health of the service.
func (t *GRPCTransport) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	t.health.SetServingStatus("", status)
	t.health.SetServingStatus(ServiceName, status)
}

func (t *GRPCTransport) refreshHealth() {
	t.SetServing(t.ready())
}

// Shutdown stops the gRPC server.
func (t *GRPCTransport) Shutdown(ctx context.Context) error {
	if t == nil {
		return errors.New("grpc transport is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	t.mu.Lock()
	srv := t.srv
	listener := t.lis
	t.mu.Unlock()
	if srv == nil {
		return nil
	}
	t.health.Shutdown()
	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		srv.Stop()
		if listener != nil {
			_ = listener.Close()
		}
		return ctx.Err()
	}
	return nil
}
