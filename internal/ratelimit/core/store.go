// Package core defines the key-value store contract.
package core

import (
	"context"
	"errors"
	"time"
)

var errStoreMissing = errors.New("store is not configured")

// UpdateFunc maps the current value of a key (nil when absent) to its replacement.
// Returning an error aborts the update and is passed through to the caller.
type UpdateFunc func(current []byte) ([]byte, error)

// Store is the durable key-value backend holding every rule, stats and log record.
// Implementations must treat missing keys as non-errors and return Keys in ascending order.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	MGet(ctx context.Context, keys ...string) ([][]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes all keys as one batch. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Incr atomically increments an integer counter, applying ttl when the key is created.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Update performs an atomic read-modify-write of one key.
	Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) ([]byte, error)
	Ping(ctx context.Context) error
	Close() error
}
