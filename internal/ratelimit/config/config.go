// Package config provides configuration for the application wiring.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"ratelimiter/internal/ratelimit/core"
)

// Config captures runtime settings.
type Config struct {
	ServiceName     string              `yaml:"service_name" json:"serviceName" validate:"required"`
	ShutdownTimeout time.Duration       `yaml:"shutdown_timeout" json:"shutdownTimeout" validate:"gte=0"`
	HTTP            HTTPConfig          `yaml:"http" json:"http"`
	GRPC            GRPCConfig          `yaml:"grpc" json:"grpc"`
	Store           StoreConfig         `yaml:"store" json:"store"`
	Redis           RedisConfig         `yaml:"redis" json:"redis"`
	Stats           StatsConfig         `yaml:"stats" json:"stats"`
	RuleCache       RuleCacheConfig     `yaml:"rule_cache" json:"ruleCache"`
	Breaker         core.CircuitOptions `yaml:"breaker" json:"breaker"`
	Log             LogConfig           `yaml:"log" json:"log"`
	Trace           TraceConfig         `yaml:"trace" json:"trace"`
	Metrics         MetricsConfig       `yaml:"metrics" json:"metrics"`
}

// HTTPConfig configures the HTTP transport.
type HTTPConfig struct {
	Enabled        bool          `yaml:"enabled" json:"enabled"`
	Addr           string        `yaml:"addr" json:"addr" validate:"required_if=Enabled true"`
	ReadTimeout    time.Duration `yaml:"read_timeout" json:"readTimeout" validate:"gte=0"`
	WriteTimeout   time.Duration `yaml:"write_timeout" json:"writeTimeout" validate:"gte=0"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" json:"idleTimeout" validate:"gte=0"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"requestTimeout" validate:"gte=0"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes" json:"maxBodyBytes" validate:"gt=0"`
}

// GRPCConfig configures the gRPC transport.
type GRPCConfig struct {
	Enabled          bool          `yaml:"enabled" json:"enabled"`
	Addr             string        `yaml:"addr" json:"addr" validate:"required_if=Enabled true"`
	KeepAlive        time.Duration `yaml:"keepalive" json:"keepAlive" validate:"gte=0"`
	KeepAliveTimeout time.Duration `yaml:"keepalive_timeout" json:"keepAliveTimeout" validate:"gte=0"`
}

// StoreConfig selects the key-value backend.
type StoreConfig struct {
	Backend   string `yaml:"backend" json:"backend" validate:"oneof=memory redis"`
	Namespace string `yaml:"namespace" json:"namespace" validate:"required,excludesall=*?[]"`
}

// RedisConfig configures the Redis connection pool.
type RedisConfig struct {
	URL           string        `yaml:"url" json:"url" validate:"omitempty,url"`
	Addr          string        `yaml:"addr" json:"addr"`
	Password      string        `yaml:"password" json:"-"`
	DB            int           `yaml:"db" json:"db" validate:"gte=0,lte=15"`
	PoolSize      int           `yaml:"pool_size" json:"poolSize" validate:"gte=0,lte=1000"`
	MaxRetries    int           `yaml:"max_retries" json:"maxRetries" validate:"gte=-1,lte=10"`
	DialTimeout   time.Duration `yaml:"dial_timeout" json:"dialTimeout" validate:"gte=0"`
	ReadTimeout   time.Duration `yaml:"read_timeout" json:"readTimeout" validate:"gte=0"`
	WriteTimeout  time.Duration `yaml:"write_timeout" json:"writeTimeout" validate:"gte=0"`
	UpdateRetries int           `yaml:"update_retries" json:"updateRetries" validate:"gte=0"`
}

// StatsConfig bounds the statistics aggregator.
type StatsConfig struct {
	LogRetention   int `yaml:"log_retention" json:"logRetention" validate:"gt=0"`
	RecentActivity int `yaml:"recent_activity" json:"recentActivity" validate:"gt=0"`
	TopClients     int `yaml:"top_clients" json:"topClients" validate:"gt=0"`
	TopClientScan  int `yaml:"top_client_scan" json:"topClientScan" validate:"gt=0"`
}

// RuleCacheConfig controls the rule snapshot used for request matching.
// SyncInterval bounds how long rules changed by other instances stay invisible.
type RuleCacheConfig struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	SyncInterval time.Duration `yaml:"sync_interval" json:"syncInterval" validate:"gte=0"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" json:"format" validate:"oneof=json console"`
}

// TraceConfig configures OpenTelemetry tracing.
type TraceConfig struct {
	Exporter   string `yaml:"exporter" json:"exporter" validate:"oneof=none stdout"`
	SampleRate int    `yaml:"sample_rate" json:"sampleRate" validate:"gte=0,lte=100"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Namespace string `yaml:"namespace" json:"namespace"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ServiceName:     "ratelimiter",
		ShutdownTimeout: 5 * time.Second,
		HTTP: HTTPConfig{
			Enabled:        true,
			Addr:           ":8080",
			ReadTimeout:    5 * time.Second,
			WriteTimeout:   10 * time.Second,
			IdleTimeout:    60 * time.Second,
			RequestTimeout: 2 * time.Second,
			MaxBodyBytes:   1 << 20,
		},
		GRPC: GRPCConfig{
			Enabled:          false,
			Addr:             ":9090",
			KeepAlive:        60 * time.Second,
			KeepAliveTimeout: 20 * time.Second,
		},
		Store: StoreConfig{
			Backend:   "memory",
			Namespace: core.DefaultNamespace,
		},
		Redis: RedisConfig{
			Addr:          "localhost:6379",
			PoolSize:      10,
			MaxRetries:    3,
			DialTimeout:   5 * time.Second,
			ReadTimeout:   3 * time.Second,
			WriteTimeout:  3 * time.Second,
			UpdateRetries: 16,
		},
		Stats: StatsConfig{
			LogRetention:   1000,
			RecentActivity: 20,
			TopClients:     10,
			TopClientScan:  100,
		},
		RuleCache: RuleCacheConfig{
			Enabled:      true,
			SyncInterval: time.Second,
		},
		Breaker: core.CircuitOptions{
			FailureThreshold: 10,
			OpenDuration:     time.Second,
			HalfOpenMaxCalls: 1,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Trace: TraceConfig{
			Exporter:   "none",
			SampleRate: 100,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "ratelimiter",
		},
	}
}

var configValidator = core.NewValidator()

// Validate checks struct constraints and cross-field requirements.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is required")
	}
	if err := configValidator.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return core.ValidationFromFieldError(fieldErrs[0])
		}
		return err
	}
	if c.Store.Backend == "redis" && strings.TrimSpace(c.Redis.URL) == "" && strings.TrimSpace(c.Redis.Addr) == "" {
		return core.Validation("redis", "url or addr is required for the redis backend")
	}
	if c.HTTP.Enabled && c.GRPC.Enabled && c.HTTP.Addr == c.GRPC.Addr {
		return core.Validation("grpc.addr", "must differ from http.addr")
	}
	return nil
}

// AggregatorOptions maps stats settings onto the aggregator.
func (c *Config) AggregatorOptions() core.AggregatorOptions {
	return core.AggregatorOptions{
		LogRetention:   c.Stats.LogRetention,
		RecentActivity: c.Stats.RecentActivity,
		TopClients:     c.Stats.TopClients,
		TopClientScan:  c.Stats.TopClientScan,
	}
}
