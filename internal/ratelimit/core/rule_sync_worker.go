// Package core provides rule cache synchronization.
package core

import (
	"context"
	"errors"
	"time"

	"ratelimiter/internal/ratelimit/observability"
)

// RuleSyncWorker periodically reloads the rule cache so rules changed by other
// instances sharing the store become visible.
type RuleSyncWorker struct {
	cache    *RuleCache
	interval time.Duration
	logger   observability.Logger
}

// NewRuleSyncWorker constructs a RuleSyncWorker.
func NewRuleSyncWorker(cache *RuleCache, interval time.Duration, logger observability.Logger) *RuleSyncWorker {
	if logger == nil {
		logger = observability.NopLogger{}
	}
	return &RuleSyncWorker{cache: cache, interval: interval, logger: logger}
}

// Start runs the synchronization loop until ctx is done.
func (w *RuleSyncWorker) Start(ctx context.Context) error {
	if w == nil || w.cache == nil {
		return errors.New("rule sync worker is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	interval := w.interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := w.cache.Refresh(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error("rule cache refresh failed", map[string]any{"error": err.Error()})
			}
		}
	}
}
