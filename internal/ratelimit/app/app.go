// Package app wires application dependencies.
package app

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"ratelimiter/internal/ratelimit/config"
	"ratelimiter/internal/ratelimit/core"
	"ratelimiter/internal/ratelimit/observability"
	"ratelimiter/internal/ratelimit/store/inmemory"
	"ratelimiter/internal/ratelimit/store/redisstore"
	grpctransport "ratelimiter/internal/ratelimit/transport/grpc"
	httptransport "ratelimiter/internal/ratelimit/transport/http"
)

// Dependencies overrides components NewApplication would otherwise build from config.
type Dependencies struct {
	Logger      observability.Logger
	Store       core.Store
	Now         func() time.Time
	TraceOutput io.Writer
}

// Application holds core components for the service.
type Application struct {
	Config       *config.Config
	Store        core.Store
	KeyBuilder   *core.KeyBuilder
	Breaker      *core.CircuitBreaker
	Aggregator   *core.Aggregator
	Registry     *core.Registry
	Engine       *core.Engine
	Matcher      *core.Matcher
	RuleCache    *core.RuleCache
	RuleSync     *core.RuleSyncWorker
	Simulator    *core.Simulator
	AdminHandler *core.AdminHandler
	Metrics      *observability.PrometheusMetrics

	ready         atomic.Bool
	httpTransport *httptransport.HTTPTransport
	grpcTransport *grpctransport.GRPCTransport
	transports    []core.Transport
	httpAddr      net.Addr
	grpcAddr      net.Addr
	tracer        observability.Tracer
	traceShutdown func(context.Context) error
	logger        observability.Logger
	group         *errgroup.Group
	cancel        context.CancelFunc
	mu            sync.Mutex
}

// NewApplication validates configuration and prepares the application.
func NewApplication(ctx context.Context, cfg *config.Config, deps Dependencies) (_ *Application, err error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		zl, err := observability.NewZapLogger(cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return nil, err
		}
		logger = zl
	}

	app := &Application{Config: cfg, logger: logger, tracer: observability.NoopTracer{}}
	if cfg.Metrics.Enabled {
		app.Metrics = observability.NewPrometheusMetrics(cfg.Metrics.Namespace)
	}
	var metrics observability.Metrics = observability.NoopMetrics{}
	if app.Metrics != nil {
		metrics = app.Metrics
	}

	if cfg.Trace.Exporter != "none" {
		provider, shutdown, setupErr := observability.SetupTracing(observability.TracingOptions{
			ServiceName: cfg.ServiceName,
			Exporter:    cfg.Trace.Exporter,
			SampleRate:  cfg.Trace.SampleRate,
			Output:      deps.TraceOutput,
		})
		if setupErr != nil {
			return nil, setupErr
		}
		app.tracer = observability.NewOTelTracer(provider, cfg.ServiceName)
		app.traceShutdown = shutdown
		defer func() {
			if err != nil {
				_ = shutdown(context.WithoutCancel(ctx))
			}
		}()
	}

	store := deps.Store
	if store == nil {
		if store, err = buildStore(ctx, cfg, now, logger); err != nil {
			return nil, err
		}
		defer func() {
			if err != nil {
				_ = store.Close()
			}
		}()
	}
	app.Breaker = core.NewCircuitBreaker(cfg.Breaker)
	app.Store = core.NewGuardedStore(store, app.Breaker, metrics)

	app.KeyBuilder = core.NewKeyBuilder(cfg.Store.Namespace)
	app.Aggregator = core.NewAggregator(app.Store, app.KeyBuilder, cfg.AggregatorOptions(), now)
	app.Registry = core.NewRegistry(app.Store, app.KeyBuilder, app.Aggregator, now)
	app.Engine = core.NewEngine(app.Store, app.KeyBuilder)
	app.Matcher = core.NewMatcher(0)
	var rules core.RuleLister = app.Registry
	if cfg.RuleCache.Enabled {
		app.RuleCache = core.NewRuleCache(app.Registry)
		app.RuleSync = core.NewRuleSyncWorker(app.RuleCache, cfg.RuleCache.SyncInterval, logger)
		rules = app.RuleCache
	}
	app.Simulator = core.NewSimulator(rules, app.Matcher, app.Engine, app.Aggregator, metrics, now)
	app.AdminHandler = core.NewAdminHandler(app.Registry, app.Aggregator, app.Simulator, app.tracer, metrics)
	app.AdminHandler.SetClock(now)
	app.AdminHandler.SetRuleCache(app.RuleCache)

	if cfg.HTTP.Enabled {
		transport := httptransport.NewHTTPTransport(cfg.HTTP.Addr, app.Ready)
		if err := transport.ServeSimulator(app.AdminHandler); err != nil {
			return nil, err
		}
		if err := transport.ServeAdmin(app.AdminHandler); err != nil {
			return nil, err
		}
		httpCfg := httptransport.HTTPTransportConfig{
			ReadTimeout:    cfg.HTTP.ReadTimeout,
			WriteTimeout:   cfg.HTTP.WriteTimeout,
			IdleTimeout:    cfg.HTTP.IdleTimeout,
			RequestTimeout: cfg.HTTP.RequestTimeout,
			MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
			Logger:         logger,
			Metrics:        metrics,
			Ping:           app.Store.Ping,
		}
		if app.Metrics != nil {
			httpCfg.MetricsHandler = app.Metrics.Handler()
		}
		transport.Configure(httpCfg)
		app.httpTransport = transport
		app.transports = append(app.transports, transport)
	}

	if cfg.GRPC.Enabled {
		transport := grpctransport.NewGRPCTransport(cfg.GRPC.Addr, app.Ready, grpctransport.GRPCTransportConfig{
			KeepAlive:        cfg.GRPC.KeepAlive,
			KeepAliveTimeout: cfg.GRPC.KeepAliveTimeout,
			Tracer:           app.tracer,
			Metrics:          metrics,
			Logger:           logger,
		})
		if err := transport.ServeSimulator(app.AdminHandler); err != nil {
			return nil, err
		}
		if err := transport.ServeAdmin(app.AdminHandler); err != nil {
			return nil, err
		}
		app.grpcTransport = transport
		app.transports = append(app.transports, transport)
	}

	return app, nil
}

func buildStore(ctx context.Context, cfg *config.Config, now func() time.Time, logger observability.Logger) (core.Store, error) {
	switch cfg.Store.Backend {
	case "redis":
		return redisstore.New(ctx, redisstore.Options{
			URL:           cfg.Redis.URL,
			Addr:          cfg.Redis.Addr,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.DB,
			PoolSize:      cfg.Redis.PoolSize,
			MaxRetries:    cfg.Redis.MaxRetries,
			DialTimeout:   cfg.Redis.DialTimeout,
			ReadTimeout:   cfg.Redis.ReadTimeout,
			WriteTimeout:  cfg.Redis.WriteTimeout,
			UpdateRetries: cfg.Redis.UpdateRetries,
		}, logger)
	default:
		return inmemory.NewInMemoryStore(now), nil
	}
}

// Start binds every enabled transport and serves in the background.
func (app *Application) Start(ctx context.Context) error {
	if app == nil {
		return errors.New("application is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := app.Store.Ping(ctx); err != nil {
		return err
	}

	var httpLis, grpcLis net.Listener
	var err error
	if app.httpTransport != nil {
		if httpLis, err = app.httpTransport.Listen(); err != nil {
			return err
		}
	}
	if app.grpcTransport != nil {
		if grpcLis, err = app.grpcTransport.Listen(); err != nil {
			if httpLis != nil {
				_ = httpLis.Close()
			}
			return err
		}
	}

	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	group := new(errgroup.Group)
	app.mu.Lock()
	app.group = group
	app.cancel = cancel
	if httpLis != nil {
		app.httpAddr = httpLis.Addr()
	}
	if grpcLis != nil {
		app.grpcAddr = grpcLis.Addr()
	}
	app.mu.Unlock()

	app.ready.Store(true)
	if httpLis != nil {
		group.Go(func() error { return app.httpTransport.Serve(httpLis) })
	}
	if grpcLis != nil {
		group.Go(func() error { return app.grpcTransport.Serve(grpcLis) })
	}
	if app.RuleSync != nil {
		group.Go(func() error { return app.RuleSync.Start(workerCtx) })
	}

	app.logger.Info("application started", map[string]any{
		"service":       app.Config.ServiceName,
		"store_backend": app.Config.Store.Backend,
		"http_addr":     addrString(app.httpAddr),
		"grpc_addr":     addrString(app.grpcAddr),
	})
	return nil
}

// Wait blocks until every transport stops and returns the first serve error.
func (app *Application) Wait() error {
	app.mu.Lock()
	group := app.group
	app.mu.Unlock()
	if group == nil {
		return nil
	}
	return group.Wait()
}

// Shutdown stops transports, flushes traces and closes the store.
func (app *Application) Shutdown(ctx context.Context) error {
	if app == nil {
		return errors.New("application is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	app.ready.Store(false)
	app.logger.Info("application shutdown", map[string]any{
		"service": app.Config.ServiceName,
	})
	var errs []error
	for _, transport := range app.transports {
		if err := transport.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	app.mu.Lock()
	cancel := app.cancel
	app.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if err := app.Wait(); err != nil {
		errs = append(errs, err)
	}
	if app.traceShutdown != nil {
		if err := app.traceShutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := app.Store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Ready reports whether the application has completed startup.
func (app *Application) Ready() bool {
	if app == nil {
		return false
	}
	return app.ready.Load()
}

// HTTPAddr returns the bound HTTP address once started.
func (app *Application) HTTPAddr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	return addrString(app.httpAddr)
}

// GRPCAddr returns the bound gRPC address once started.
func (app *Application) GRPCAddr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	return addrString(app.grpcAddr)
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
