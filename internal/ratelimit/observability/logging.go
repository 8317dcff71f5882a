// Package observability provides logging hooks.
package observability

import (
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger logs through a zap core.
type ZapLogger struct {
	l *zap.Logger
}

// NewZapLogger builds a logger for the given level and format ("json" or "console").
func NewZapLogger(level, format string) (*ZapLogger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	if strings.EqualFold(format, "console") {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stdout"}
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &ZapLogger{l: l}, nil
}

// WrapZap adapts an existing zap logger.
func WrapZap(l *zap.Logger) *ZapLogger {
	if l == nil {
		l = zap.NewNop()
	}
	return &ZapLogger{l: l}
}

// Debug logs a debug message.
func (z *ZapLogger) Debug(msg string, fields map[string]any) {
	if z == nil {
		return
	}
	z.l.Debug(msg, zapFields(fields)...)
}

// Info logs an info message.
func (z *ZapLogger) Info(msg string, fields map[string]any) {
	if z == nil {
		return
	}
	z.l.Info(msg, zapFields(fields)...)
}

// Error logs an error message.
func (z *ZapLogger) Error(msg string, fields map[string]any) {
	if z == nil {
		return
	}
	z.l.Error(msg, zapFields(fields)...)
}

// Sync flushes buffered entries.
func (z *ZapLogger) Sync() error {
	if z == nil {
		return nil
	}
	return z.l.Sync()
}

func zapFields(fields map[string]any) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(keys))
	for _, key := range keys {
		if err, ok := fields[key].(error); ok {
			out = append(out, zap.NamedError(key, err))
			continue
		}
		out = append(out, zap.Any(key, fields[key]))
	}
	return out
}

// NopLogger discards every entry.
type NopLogger struct{}

func (NopLogger) Debug(string, map[string]any) {}
func (NopLogger) Info(string, map[string]any)  {}
func (NopLogger) Error(string, map[string]any) {}
