// Package config provides configuration loading.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LoadOptions controls config loading.
type LoadOptions struct {
	ConfigPath string
	// EnvFile is an optional dotenv file supplying environment defaults.
	EnvFile string
	// Environ replaces os.Environ when non-nil.
	Environ []string
	Flags   FlagOverrides
}

// LoadConfig layers defaults, the YAML file, environment (dotenv values first, then the
// process environment) and flags, then validates the result.
func LoadConfig(opts LoadOptions) (*Config, error) {
	environ := opts.Environ
	if environ == nil {
		environ = os.Environ()
	}
	if opts.EnvFile != "" {
		dotenv, err := godotenv.Read(opts.EnvFile)
		if err != nil {
			return nil, fmt.Errorf("read env file: %w", err)
		}
		environ = append(dotenvEntries(dotenv), environ...)
	}

	configPath := opts.ConfigPath
	if opts.Flags.Config != nil {
		configPath = *opts.Flags.Config
	}

	cfg := Default()
	if configPath != "" {
		if err := loadConfigFile(configPath, cfg); err != nil {
			return nil, err
		}
	}
	if err := applyEnvOverrides(cfg, environ); err != nil {
		return nil, err
	}
	opts.Flags.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// dotenvEntries renders dotenv values as KEY=VALUE entries in a stable order.
func dotenvEntries(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	entries := make([]string, 0, len(keys))
	for _, key := range keys {
		entries = append(entries, key+"="+values[key])
	}
	return entries
}

// FlagOverrides carries command line values. Nil fields were not given.
type FlagOverrides struct {
	Config          *string `name:"config" short:"c" help:"YAML config file path."`
	HTTPAddr        *string `name:"http-addr" help:"HTTP listen address."`
	GRPCAddr        *string `name:"grpc-addr" help:"gRPC listen address."`
	EnableHTTP      *bool   `name:"enable-http" help:"Serve the HTTP API."`
	EnableGRPC      *bool   `name:"enable-grpc" help:"Serve the gRPC API."`
	StoreBackend    *string `name:"store" help:"Store backend (memory or redis)."`
	RedisURL        *string `name:"redis-url" help:"Redis connection URL."`
	Namespace       *string `name:"namespace" help:"Store key namespace."`
	LogLevel        *string `name:"log-level" help:"Log level (debug, info, warn, error)."`
	LogFormat       *string `name:"log-format" help:"Log format (json or console)."`
	TraceExporter   *string `name:"trace-exporter" help:"Trace exporter (none or stdout)."`
	TraceSampleRate *int    `name:"trace-sample-rate" help:"Percentage of traces sampled."`
}

func (f FlagOverrides) apply(cfg *Config) {
	setString(&cfg.HTTP.Addr, f.HTTPAddr)
	setString(&cfg.GRPC.Addr, f.GRPCAddr)
	setBool(&cfg.HTTP.Enabled, f.EnableHTTP)
	setBool(&cfg.GRPC.Enabled, f.EnableGRPC)
	setString(&cfg.Store.Backend, f.StoreBackend)
	setString(&cfg.Redis.URL, f.RedisURL)
	setString(&cfg.Store.Namespace, f.Namespace)
	setString(&cfg.Log.Level, f.LogLevel)
	setString(&cfg.Log.Format, f.LogFormat)
	setString(&cfg.Trace.Exporter, f.TraceExporter)
	if f.TraceSampleRate != nil {
		cfg.Trace.SampleRate = *f.TraceSampleRate
	}
}

func setString(dst *string, value *string) {
	if value != nil {
		*dst = strings.TrimSpace(*value)
	}
}

func setBool(dst *bool, value *bool) {
	if value != nil {
		*dst = *value
	}
}
