package core

import (
	"context"
	"errors"
	"time"

	"ratelimiter/internal/ratelimit/observability"
)

// ErrCircuitOpen is returned while the store breaker rejects calls.
var ErrCircuitOpen = errors.New("store circuit breaker is open")

// GuardedStore decorates a Store with a circuit breaker, metrics and StoreError wrapping.
type GuardedStore struct {
	next    Store
	breaker *CircuitBreaker
	metrics observability.Metrics
}

// NewGuardedStore wraps next. A nil breaker disables short-circuiting.
func NewGuardedStore(next Store, breaker *CircuitBreaker, metrics observability.Metrics) *GuardedStore {
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	g := &GuardedStore{next: next, breaker: breaker, metrics: metrics}
	if breaker != nil {
		breaker.OnStateChange(func(state CircuitState) {
			g.metrics.SetBreakerState(int(state))
		})
	}
	return g
}

func (g *GuardedStore) call(op string, fn func() error) error {
	if g.next == nil {
		return StoreFailure(op, errStoreMissing)
	}
	if !g.breaker.Allow() {
		g.metrics.IncStoreError(op)
		return StoreFailure(op, ErrCircuitOpen)
	}
	start := time.Now()
	err := fn()
	g.metrics.ObserveLatency("store_"+op, time.Since(start))
	if err == nil {
		g.breaker.OnSuccess()
		return nil
	}
	// Domain errors raised by an UpdateFunc are outcomes, not store faults. An
	// undecodable value still counts against the store.
	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.Code != CodeStore {
			g.breaker.OnSuccess()
			return err
		}
		g.breaker.OnFailure()
		g.metrics.IncStoreError(op)
		return err
	}
	if errors.Is(err, context.Canceled) {
		g.breaker.Abandon()
		return StoreFailure(op, err)
	}
	g.breaker.OnFailure()
	g.metrics.IncStoreError(op)
	return StoreFailure(op, err)
}

// Get implements Store.
func (g *GuardedStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value []byte
		found bool
	)
	err := g.call("get", func() error {
		var err error
		value, found, err = g.next.Get(ctx, key)
		return err
	})
	return value, found, err
}

// MGet implements Store.
func (g *GuardedStore) MGet(ctx context.Context, keys ...string) ([][]byte, error) {
	var values [][]byte
	err := g.call("mget", func() error {
		var err error
		values, err = g.next.MGet(ctx, keys...)
		return err
	})
	return values, err
}

// Set implements Store.
func (g *GuardedStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return g.call("set", func() error {
		return g.next.Set(ctx, key, value, ttl)
	})
}

// Delete implements Store.
func (g *GuardedStore) Delete(ctx context.Context, keys ...string) error {
	return g.call("delete", func() error {
		return g.next.Delete(ctx, keys...)
	})
}

// Keys implements Store.
func (g *GuardedStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := g.call("keys", func() error {
		var err error
		keys, err = g.next.Keys(ctx, prefix)
		return err
	})
	return keys, err
}

// Incr implements Store.
func (g *GuardedStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var n int64
	err := g.call("incr", func() error {
		var err error
		n, err = g.next.Incr(ctx, key, ttl)
		return err
	})
	return n, err
}

// Update implements Store.
func (g *GuardedStore) Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) ([]byte, error) {
	var value []byte
	err := g.call("update", func() error {
		var err error
		value, err = g.next.Update(ctx, key, ttl, fn)
		return err
	})
	return value, err
}

// Ping implements Store.
func (g *GuardedStore) Ping(ctx context.Context) error {
	return g.call("ping", func() error {
		return g.next.Ping(ctx)
	})
}

// Close closes the wrapped store.
func (g *GuardedStore) Close() error {
	if g.next == nil {
		return nil
	}
	return g.next.Close()
}
