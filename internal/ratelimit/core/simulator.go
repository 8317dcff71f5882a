// Package core provides the request simulator.
package core

import (
	"context"
	"sort"
	"time"

	"ratelimiter/internal/ratelimit/observability"
)

// Simulator matches synthetic requests to rules, decides them and records the outcome.
type Simulator struct {
	rules   RuleLister
	matcher *Matcher
	engine  *Engine
	stats   *Aggregator
	metrics observability.Metrics
	now     func() time.Time
}

// NewSimulator constructs a Simulator.
func NewSimulator(rules RuleLister, matcher *Matcher, engine *Engine, stats *Aggregator, metrics observability.Metrics, now func() time.Time) *Simulator {
	if matcher == nil {
		matcher = NewMatcher(0)
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	if now == nil {
		now = time.Now
	}
	return &Simulator{rules: rules, matcher: matcher, engine: engine, stats: stats, metrics: metrics, now: now}
}

// Simulate evaluates one request. Requests matching no enabled rule are allowed without limit.
func (s *Simulator) Simulate(ctx context.Context, req *SimulateRequest) (*SimulateResult, error) {
	if req == nil {
		return nil, Validation("request", "is required")
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	method, _ := ParseMethod(req.Method)
	start := s.now()

	rule, err := s.Resolve(ctx, req.Endpoint, method)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		s.metrics.IncDecision("allowed", NoRuleID)
		return &SimulateResult{
			Allowed:           true,
			RemainingRequests: UnlimitedRemaining,
			RuleID:            NoRuleID,
		}, nil
	}

	decision, err := s.engine.Take(ctx, rule, req.ClientID, start)
	if err != nil {
		return nil, err
	}
	entry := LogEntry{
		Timestamp:    start,
		ClientID:     req.ClientID,
		RuleID:       rule.ID,
		Endpoint:     req.Endpoint,
		Method:       method,
		Allowed:      decision.Allowed,
		ResponseTime: float64(s.now().Sub(start).Microseconds()) / 1000,
	}
	if _, err := s.stats.RecordRequest(ctx, rule, entry); err != nil {
		return nil, err
	}

	result := "allowed"
	if !decision.Allowed {
		result = "blocked"
	}
	s.metrics.IncDecision(result, string(rule.Strategy))
	return &SimulateResult{
		Allowed:           decision.Allowed,
		RemainingRequests: decision.Remaining,
		ResetTime:         decision.ResetTime,
		RetryAfter:        decision.RetryAfter,
		RuleID:            rule.ID,
		RuleName:          rule.Name,
		Strategy:          rule.Strategy,
	}, nil
}

// Resolve returns the rule governing endpoint and method, or nil when none matches.
// Matches are ordered by priority, then creation time, then id.
func (s *Simulator) Resolve(ctx context.Context, endpoint string, method Method) (*Rule, error) {
	rules, err := s.rules.List(ctx)
	if err != nil {
		return nil, err
	}
	var matches []*Rule
	for _, rule := range rules {
		if s.matcher.Matches(rule, endpoint, method) {
			matches = append(matches, rule)
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}
	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return matches[0], nil
}
