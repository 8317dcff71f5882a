package core_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ratelimiter/internal/ratelimit/core"
	"ratelimiter/internal/ratelimit/store/inmemory"
)

// epoch is aligned to every window used in these tests.
var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type harness struct {
	clock     *fakeClock
	store     *inmemory.InMemoryStore
	keys      *core.KeyBuilder
	stats     *core.Aggregator
	registry  *core.Registry
	engine    *core.Engine
	simulator *core.Simulator
	admin     *core.AdminHandler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithOptions(t, core.DefaultAggregatorOptions())
}

func newHarnessWithOptions(t *testing.T, opts core.AggregatorOptions) *harness {
	t.Helper()
	clock := newFakeClock(epoch)
	store := inmemory.NewInMemoryStore(clock.Now)
	t.Cleanup(func() { _ = store.Close() })

	keys := core.NewKeyBuilder("test")
	stats := core.NewAggregator(store, keys, opts, clock.Now)
	registry := core.NewRegistry(store, keys, stats, clock.Now)
	engine := core.NewEngine(store, keys)
	simulator := core.NewSimulator(registry, core.NewMatcher(0), engine, stats, nil, clock.Now)
	admin := core.NewAdminHandler(registry, stats, simulator, nil, nil)
	admin.SetClock(clock.Now)
	return &harness{
		clock:     clock,
		store:     store,
		keys:      keys,
		stats:     stats,
		registry:  registry,
		engine:    engine,
		simulator: simulator,
		admin:     admin,
	}
}

func ptr[T any](v T) *T { return &v }

func draft(name, endpoint string, limit, windowMs int64) *core.RuleDraft {
	return &core.RuleDraft{
		Name:     ptr(name),
		Endpoint: ptr(endpoint),
		Limit:    ptr(limit),
		WindowMs: ptr(windowMs),
	}
}

func (h *harness) createRule(t *testing.T, d *core.RuleDraft) *core.Rule {
	t.Helper()
	rule, err := h.admin.CreateRule(context.Background(), d)
	require.NoError(t, err)
	return rule
}

func (h *harness) simulate(t *testing.T, clientID, endpoint, method string) *core.SimulateResult {
	t.Helper()
	result, err := h.simulator.Simulate(context.Background(), &core.SimulateRequest{
		ClientID: clientID,
		Endpoint: endpoint,
		Method:   method,
	})
	require.NoError(t, err)
	return result
}

func requireCode(t *testing.T, err error, code core.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, core.CodeOf(err), "error: %v", err)
}
