// Package config provides environment config overrides.
package config

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RATELIMITER_"

type envBinding struct {
	name  string
	apply func(cfg *Config, name, value string) error
}

var envBindings = []envBinding{
	{"SERVICE_NAME", func(cfg *Config, _, v string) error { cfg.ServiceName = v; return nil }},
	{"SHUTDOWN_TIMEOUT", durationEnv(func(cfg *Config) *time.Duration { return &cfg.ShutdownTimeout })},
	{"HTTP_ENABLED", boolEnv(func(cfg *Config) *bool { return &cfg.HTTP.Enabled })},
	{"HTTP_ADDR", func(cfg *Config, _, v string) error { cfg.HTTP.Addr = v; return nil }},
	{"HTTP_READ_TIMEOUT", durationEnv(func(cfg *Config) *time.Duration { return &cfg.HTTP.ReadTimeout })},
	{"HTTP_WRITE_TIMEOUT", durationEnv(func(cfg *Config) *time.Duration { return &cfg.HTTP.WriteTimeout })},
	{"HTTP_REQUEST_TIMEOUT", durationEnv(func(cfg *Config) *time.Duration { return &cfg.HTTP.RequestTimeout })},
	{"MAX_BODY_BYTES", func(cfg *Config, name, v string) error {
		parsed, err := parseIntEnv(name, v)
		cfg.HTTP.MaxBodyBytes = parsed
		return err
	}},
	{"GRPC_ENABLED", boolEnv(func(cfg *Config) *bool { return &cfg.GRPC.Enabled })},
	{"GRPC_ADDR", func(cfg *Config, _, v string) error { cfg.GRPC.Addr = v; return nil }},
	{"GRPC_KEEPALIVE", durationEnv(func(cfg *Config) *time.Duration { return &cfg.GRPC.KeepAlive })},
	{"STORE_BACKEND", func(cfg *Config, _, v string) error { cfg.Store.Backend = strings.ToLower(v); return nil }},
	{"NAMESPACE", func(cfg *Config, _, v string) error { cfg.Store.Namespace = v; return nil }},
	{"REDIS_URL", func(cfg *Config, _, v string) error { cfg.Redis.URL = v; return nil }},
	{"REDIS_ADDR", func(cfg *Config, _, v string) error { cfg.Redis.Addr = v; return nil }},
	{"REDIS_PASSWORD", func(cfg *Config, _, v string) error { cfg.Redis.Password = v; return nil }},
	{"REDIS_DB", intEnv(func(cfg *Config) *int { return &cfg.Redis.DB })},
	{"REDIS_POOL_SIZE", intEnv(func(cfg *Config) *int { return &cfg.Redis.PoolSize })},
	{"REDIS_MAX_RETRIES", intEnv(func(cfg *Config) *int { return &cfg.Redis.MaxRetries })},
	{"LOG_RETENTION", intEnv(func(cfg *Config) *int { return &cfg.Stats.LogRetention })},
	{"RULE_CACHE_ENABLED", boolEnv(func(cfg *Config) *bool { return &cfg.RuleCache.Enabled })},
	{"RULE_CACHE_SYNC_INTERVAL", durationEnv(func(cfg *Config) *time.Duration { return &cfg.RuleCache.SyncInterval })},
	{"LOG_LEVEL", func(cfg *Config, _, v string) error { cfg.Log.Level = strings.ToLower(v); return nil }},
	{"LOG_FORMAT", func(cfg *Config, _, v string) error { cfg.Log.Format = strings.ToLower(v); return nil }},
	{"TRACE_EXPORTER", func(cfg *Config, _, v string) error { cfg.Trace.Exporter = strings.ToLower(v); return nil }},
	{"TRACE_SAMPLE_RATE", intEnv(func(cfg *Config) *int { return &cfg.Trace.SampleRate })},
	{"METRICS_ENABLED", boolEnv(func(cfg *Config) *bool { return &cfg.Metrics.Enabled })},
	{"BREAKER_FAILURE_THRESHOLD", func(cfg *Config, name, v string) error {
		parsed, err := parseIntEnv(name, v)
		cfg.Breaker.FailureThreshold = parsed
		return err
	}},
	{"BREAKER_OPEN_MS", func(cfg *Config, name, v string) error {
		parsed, err := parseIntEnv(name, v)
		cfg.Breaker.OpenDuration = time.Duration(parsed) * time.Millisecond
		return err
	}},
}

func applyEnvOverrides(cfg *Config, environ []string) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	values := envMap(environ)
	for _, binding := range envBindings {
		name := EnvPrefix + binding.name
		value, ok := values[name]
		if !ok {
			continue
		}
		if err := binding.apply(cfg, name, strings.TrimSpace(value)); err != nil {
			return err
		}
	}
	return nil
}

func boolEnv(field func(*Config) *bool) func(*Config, string, string) error {
	return func(cfg *Config, name, value string) error {
		parsed, err := parseBoolEnv(name, value)
		if err != nil {
			return err
		}
		*field(cfg) = parsed
		return nil
	}
}

func intEnv(field func(*Config) *int) func(*Config, string, string) error {
	return func(cfg *Config, name, value string) error {
		parsed, err := parseIntEnv(name, value)
		if err != nil {
			return err
		}
		*field(cfg) = int(parsed)
		return nil
	}
}

// durationEnv accepts Go duration strings or plain milliseconds.
func durationEnv(field func(*Config) *time.Duration) func(*Config, string, string) error {
	return func(cfg *Config, name, value string) error {
		if parsed, err := time.ParseDuration(value); err == nil {
			*field(cfg) = parsed
			return nil
		}
		ms, err := parseIntEnv(name, value)
		if err != nil {
			return err
		}
		*field(cfg) = time.Duration(ms) * time.Millisecond
		return nil
	}
}

// envMap keeps the last value of a repeated key.
func envMap(environ []string) map[string]string {
	values := make(map[string]string)
	for _, entry := range environ {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		values[key] = parts[1]
	}
	return values
}

func parseBoolEnv(name, value string) (bool, error) {
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return false, errors.New("invalid env value for " + name)
	}
	return parsed, nil
}

func parseIntEnv(name, value string) (int64, error) {
	parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, errors.New("invalid env value for " + name)
	}
	return parsed, nil
}
