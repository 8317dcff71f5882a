// Package core provides admin rule management.
package core

import (
	"context"
	"errors"
	"time"

	"ratelimiter/internal/ratelimit/observability"
)

// AdminHandler manages rules, statistics, exports and simulation behind one facade.
type AdminHandler struct {
	registry  *Registry
	stats     *Aggregator
	simulator *Simulator
	tracer    observability.Tracer
	metrics   observability.Metrics
	cache     *RuleCache
	now       func() time.Time
}

// NewAdminHandler constructs an AdminHandler.
func NewAdminHandler(registry *Registry, stats *Aggregator, simulator *Simulator, tracer observability.Tracer, metrics observability.Metrics) *AdminHandler {
	if tracer == nil {
		tracer = observability.NoopTracer{}
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &AdminHandler{
		registry:  registry,
		stats:     stats,
		simulator: simulator,
		tracer:    tracer,
		metrics:   metrics,
		now:       time.Now,
	}
}

// SetClock overrides the export timestamp source.
func (h *AdminHandler) SetClock(now func() time.Time) {
	if h == nil || now == nil {
		return
	}
	h.now = now
}

// SetRuleCache keeps cache in step with rule mutations made through the handler.
func (h *AdminHandler) SetRuleCache(cache *RuleCache) {
	if h == nil {
		return
	}
	h.cache = cache
}

func (h *AdminHandler) observe(ctx context.Context, op string) (context.Context, func(*error)) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	ctx, span := h.tracer.StartSpan(ctx, "admin."+op)
	return ctx, func(errp *error) {
		if errp != nil && *errp != nil {
			span.SetAttribute("error.code", string(CodeOf(*errp)))
			span.RecordError(*errp)
		}
		span.End()
		h.metrics.ObserveLatency(op, time.Since(start))
	}
}

func (h *AdminHandler) ready() error {
	if h == nil || h.registry == nil || h.stats == nil {
		return errors.New("admin handler is not configured")
	}
	return nil
}

// CreateRule creates a new rule.
func (h *AdminHandler) CreateRule(ctx context.Context, draft *RuleDraft) (rule *Rule, err error) {
	if err := h.ready(); err != nil {
		return nil, err
	}
	ctx, done := h.observe(ctx, "createRule")
	defer done(&err)
	rule, err = h.registry.Create(ctx, draft)
	if err != nil {
		return nil, err
	}
	h.metrics.IncRuleMutation("create")
	if h.cache != nil {
		h.cache.Upsert(rule)
	}
	return rule, nil
}

// UpdateRule updates an existing rule.
func (h *AdminHandler) UpdateRule(ctx context.Context, id string, patch *RulePatch) (rule *Rule, err error) {
	if err := h.ready(); err != nil {
		return nil, err
	}
	ctx, done := h.observe(ctx, "updateRule")
	defer done(&err)
	rule, err = h.registry.Update(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	h.metrics.IncRuleMutation("update")
	if h.cache != nil {
		h.cache.Upsert(rule)
	}
	return rule, nil
}

// DeleteRule deletes a rule and everything recorded for it.
func (h *AdminHandler) DeleteRule(ctx context.Context, id string) (err error) {
	if err := h.ready(); err != nil {
		return err
	}
	ctx, done := h.observe(ctx, "deleteRule")
	defer done(&err)
	err = h.registry.Delete(ctx, id)
	if h.cache != nil && (err == nil || CodeOf(err) == CodeNotFound) {
		h.cache.Remove(id)
	}
	if err != nil {
		return err
	}
	h.metrics.IncRuleMutation("delete")
	return nil
}

// GetRule fetches a rule by id.
func (h *AdminHandler) GetRule(ctx context.Context, id string) (rule *Rule, err error) {
	if err := h.ready(); err != nil {
		return nil, err
	}
	ctx, done := h.observe(ctx, "getRule")
	defer done(&err)
	return h.registry.Get(ctx, id)
}

// ListRules lists every rule.
func (h *AdminHandler) ListRules(ctx context.Context) (rules []*Rule, err error) {
	if err := h.ready(); err != nil {
		return nil, err
	}
	ctx, done := h.observe(ctx, "listRules")
	defer done(&err)
	return h.registry.List(ctx)
}

// GetStats returns the refreshed stats of one rule.
func (h *AdminHandler) GetStats(ctx context.Context, ruleID string) (stats *Stats, err error) {
	if err := h.ready(); err != nil {
		return nil, err
	}
	ctx, done := h.observe(ctx, "getStats")
	defer done(&err)
	rule, err := h.registry.Get(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	return h.stats.Get(ctx, rule)
}

// ListStats returns the refreshed stats of every rule.
func (h *AdminHandler) ListStats(ctx context.Context) (stats []*Stats, err error) {
	if err := h.ready(); err != nil {
		return nil, err
	}
	ctx, done := h.observe(ctx, "listStats")
	defer done(&err)
	rules, err := h.registry.List(ctx)
	if err != nil {
		return nil, err
	}
	return h.stats.GetAll(ctx, rules)
}

// ResetStats zeroes the counters of one rule.
func (h *AdminHandler) ResetStats(ctx context.Context, ruleID string) (err error) {
	if err := h.ready(); err != nil {
		return err
	}
	ctx, done := h.observe(ctx, "resetStats")
	defer done(&err)
	if _, err = h.registry.Get(ctx, ruleID); err != nil {
		return err
	}
	return h.stats.Reset(ctx, ruleID)
}

// ResetAllStats zeroes the counters of every rule.
func (h *AdminHandler) ResetAllStats(ctx context.Context) (err error) {
	if err := h.ready(); err != nil {
		return err
	}
	ctx, done := h.observe(ctx, "resetAllStats")
	defer done(&err)
	rules, err := h.registry.List(ctx)
	if err != nil {
		return err
	}
	ids := make([]string, len(rules))
	for i, rule := range rules {
		ids[i] = rule.ID
	}
	return h.stats.ResetAll(ctx, ids)
}

// ExportConfig snapshots every rule for backup.
func (h *AdminHandler) ExportConfig(ctx context.Context) (snapshot *ExportSnapshot, err error) {
	if err := h.ready(); err != nil {
		return nil, err
	}
	ctx, done := h.observe(ctx, "exportConfig")
	defer done(&err)
	rules, err := h.registry.List(ctx)
	if err != nil {
		return nil, err
	}
	return &ExportSnapshot{Rules: rules, ExportedAt: h.now(), Version: ExportVersion}, nil
}

// Simulate evaluates one synthetic request.
func (h *AdminHandler) Simulate(ctx context.Context, req *SimulateRequest) (result *SimulateResult, err error) {
	if h == nil || h.simulator == nil {
		return nil, errors.New("simulator is not configured")
	}
	ctx, done := h.observe(ctx, "simulate")
	defer done(&err)
	return h.simulator.Simulate(ctx, req)
}
