// Package app provides chaos testing helpers.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ratelimiter/internal/ratelimit/config"
	"ratelimiter/internal/ratelimit/core"
	"ratelimiter/internal/ratelimit/observability"
	"ratelimiter/internal/ratelimit/store/inmemory"
)

// ChaosScenario describes a chaos test.
type ChaosScenario struct {
	Name string
	Run  func(context.Context, *ChaosHarness) error
}

// ChaosHarness holds an application running on a fault injectable in-memory store.
type ChaosHarness struct {
	App   *Application
	Store *inmemory.InMemoryStore
}

// NewChaosHarness builds a harness with in-memory components and no network transports.
func NewChaosHarness() (*ChaosHarness, error) {
	store := inmemory.NewInMemoryStore(nil)
	cfg := config.Default()
	cfg.HTTP.Enabled = false
	cfg.GRPC.Enabled = false
	cfg.Metrics.Enabled = false
	cfg.RuleCache.SyncInterval = 20 * time.Millisecond
	cfg.Breaker = core.CircuitOptions{
		FailureThreshold: 3,
		OpenDuration:     50 * time.Millisecond,
		HalfOpenMaxCalls: 1,
	}
	app, err := NewApplication(context.Background(), cfg, Dependencies{
		Logger: observability.NopLogger{},
		Store:  store,
	})
	if err != nil {
		return nil, err
	}
	return &ChaosHarness{App: app, Store: store}, nil
}

// RunChaos executes the full chaos suite.
func RunChaos(ctx context.Context, h *ChaosHarness) error {
	return runChaosScenarios(ctx, h, defaultChaosScenarios())
}

func runChaosScenarios(ctx context.Context, h *ChaosHarness, scenarios []ChaosScenario) error {
	if h == nil {
		return errors.New("harness is required")
	}
	if h.App == nil {
		return errors.New("app is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := h.App.Start(ctx); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.App.Shutdown(shutdownCtx)
	}()

	for _, scenario := range scenarios {
		if scenario.Run == nil {
			continue
		}
		if err := scenario.Run(ctx, h); err != nil {
			return fmt.Errorf("%s: %w", scenario.Name, err)
		}
	}
	return nil
}

func defaultChaosScenarios() []ChaosScenario {
	return []ChaosScenario{
		scenarioStoreRecover(),
		scenarioRuleUpdateStorm(),
		scenarioConcurrentTraffic(),
		scenarioCacheRepair(),
	}
}

func scenarioStoreRecover() ChaosScenario {
	return ChaosScenario{
		Name: "store recover",
		Run: func(ctx context.Context, h *ChaosHarness) error {
			if h == nil || h.App == nil || h.Store == nil {
				return errors.New("store scenario requires app and store")
			}
			if _, err := ensureRule(ctx, h.App, "chaos-store", "/chaos/store", 1000); err != nil {
				return err
			}
			request := &core.SimulateRequest{ClientID: "client", Endpoint: "/chaos/store", Method: "GET"}

			h.Store.SetHealthy(false)
			for i := 0; i < 10; i++ {
				_, err := h.App.AdminHandler.Simulate(ctx, request)
				if core.CodeOf(err) != core.CodeStore {
					h.Store.SetHealthy(true)
					return fmt.Errorf("expected store error during outage, got %v", err)
				}
			}
			if h.App.Breaker.State() != core.CircuitOpen {
				h.Store.SetHealthy(true)
				return errors.New("breaker did not open during outage")
			}
			h.Store.SetHealthy(true)
			return waitFor(ctx, 2*time.Second, "simulate did not recover", func() bool {
				_, err := h.App.AdminHandler.Simulate(ctx, request)
				return err == nil && h.App.Breaker.State() == core.CircuitClosed
			})
		},
	}
}

func scenarioRuleUpdateStorm() ChaosScenario {
	return ChaosScenario{
		Name: "rule update storm",
		Run: func(ctx context.Context, h *ChaosHarness) error {
			if h == nil || h.App == nil {
				return errors.New("rule storm requires app")
			}
			const ruleCount = 20
			rules := make([]*core.Rule, 0, ruleCount)
			for i := 0; i < ruleCount; i++ {
				rule, err := ensureRule(ctx, h.App, fmt.Sprintf("storm-%d", i), fmt.Sprintf("/storm/%d", i), 100+int64(i))
				if err != nil {
					return err
				}
				rules = append(rules, rule)
			}

			for round := 0; round < 5; round++ {
				g, gctx := errgroup.WithContext(ctx)
				for i, rule := range rules {
					g.Go(func() error {
						limit := rule.Limit + 1
						updated, err := h.App.AdminHandler.UpdateRule(gctx, rule.ID, &core.RulePatch{Limit: &limit})
						if err != nil {
							return err
						}
						rules[i] = updated
						return nil
					})
				}
				if err := g.Wait(); err != nil {
					return err
				}
			}
			return waitForRuleCache(ctx, h.App, 2*time.Second)
		},
	}
}

func scenarioConcurrentTraffic() ChaosScenario {
	return ChaosScenario{
		Name: "concurrent traffic",
		Run: func(ctx context.Context, h *ChaosHarness) error {
			if h == nil || h.App == nil {
				return errors.New("traffic scenario requires app")
			}
			const limit = 25
			const requests = 100
			rule, err := ensureRule(ctx, h.App, "chaos-traffic", "/chaos/traffic", limit)
			if err != nil {
				return err
			}
			if err := h.App.AdminHandler.ResetStats(ctx, rule.ID); err != nil {
				return err
			}

			var mu sync.Mutex
			allowed := 0
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(16)
			for i := 0; i < requests; i++ {
				g.Go(func() error {
					result, err := h.App.AdminHandler.Simulate(gctx, &core.SimulateRequest{
						ClientID: "burst",
						Endpoint: "/chaos/traffic",
						Method:   "POST",
					})
					if err != nil {
						return err
					}
					if result.Allowed {
						mu.Lock()
						allowed++
						mu.Unlock()
					}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			if allowed > limit {
				return fmt.Errorf("allowed %d requests over limit %d", allowed, limit)
			}
			stats, err := h.App.AdminHandler.GetStats(ctx, rule.ID)
			if err != nil {
				return err
			}
			if stats.TotalRequests != requests || stats.AllowedRequests+stats.BlockedRequests != stats.TotalRequests {
				return fmt.Errorf("inconsistent stats: %+v", stats)
			}
			if stats.AllowedRequests != int64(allowed) {
				return fmt.Errorf("stats allowed %d, observed %d", stats.AllowedRequests, allowed)
			}
			return nil
		},
	}
}

// scenarioCacheRepair writes a rule behind the handler's back, as another instance
// sharing the store would, and waits for the sync worker to pick it up.
func scenarioCacheRepair() ChaosScenario {
	return ChaosScenario{
		Name: "cache repair",
		Run: func(ctx context.Context, h *ChaosHarness) error {
			if h == nil || h.App == nil || h.App.RuleCache == nil {
				return errors.New("cache scenario requires app with rule cache")
			}
			name, endpoint := "chaos-remote", "/chaos/remote"
			limit, window := int64(1), int64(60000)
			if _, err := h.App.Registry.Create(ctx, &core.RuleDraft{
				Name:     &name,
				Endpoint: &endpoint,
				Limit:    &limit,
				WindowMs: &window,
			}); err != nil && core.CodeOf(err) != core.CodeConflict {
				return err
			}
			return waitFor(ctx, 2*time.Second, "remote rule never matched", func() bool {
				result, err := h.App.AdminHandler.Simulate(ctx, &core.SimulateRequest{
					ClientID: "probe",
					Endpoint: endpoint,
					Method:   "GET",
				})
				return err == nil && result.RuleID != core.NoRuleID
			})
		},
	}
}

// ensureRule creates a rule or returns the existing rule with the same name.
func ensureRule(ctx context.Context, app *Application, name, endpoint string, limit int64) (*core.Rule, error) {
	if app == nil || app.AdminHandler == nil {
		return nil, errors.New("admin handler is required")
	}
	window := int64(time.Hour / time.Millisecond)
	rule, err := app.AdminHandler.CreateRule(ctx, &core.RuleDraft{
		Name:     &name,
		Endpoint: &endpoint,
		Limit:    &limit,
		WindowMs: &window,
	})
	if err == nil {
		return rule, nil
	}
	if !errors.Is(err, core.ErrConflict) {
		return nil, err
	}
	rules, err := app.AdminHandler.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	for _, existing := range rules {
		if existing.Name == name {
			return existing, nil
		}
	}
	return nil, fmt.Errorf("rule %s conflicted but was not listed", name)
}

func waitFor(ctx context.Context, timeout time.Duration, failure string, cond func() bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		if cond() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return errors.New(failure)
		case <-ticker.C:
		}
	}
}

func waitForRuleCache(ctx context.Context, app *Application, timeout time.Duration) error {
	if app == nil || app.RuleCache == nil {
		return errors.New("rule cache is required")
	}
	return waitFor(ctx, timeout, "rule cache did not converge", func() bool {
		return ruleCacheMatches(ctx, app.RuleCache, app.Registry)
	})
}

func ruleCacheMatches(ctx context.Context, cache *core.RuleCache, registry *core.Registry) bool {
	rules, err := registry.List(ctx)
	if err != nil {
		return false
	}
	cached, err := cache.List(ctx)
	if err != nil || len(cached) != len(rules) {
		return false
	}
	byID := make(map[string]*core.Rule, len(cached))
	for _, rule := range cached {
		byID[rule.ID] = rule
	}
	for _, rule := range rules {
		got, ok := byID[rule.ID]
		if !ok || got.Limit != rule.Limit || !got.UpdatedAt.Equal(rule.UpdatedAt) {
			return false
		}
	}
	return true
}
