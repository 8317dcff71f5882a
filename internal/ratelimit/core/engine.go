// Package core provides the window decision engine.
package core

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// Engine decides whether a client request against a rule is allowed.
// Each strategy keeps its own state shape in the store.
type Engine struct {
	store    Store
	keys     *KeyBuilder
	variants map[Strategy]decider
}

type decider interface {
	take(ctx context.Context, rule *Rule, clientID string, now time.Time) (*Decision, error)
	peek(ctx context.Context, rule *Rule, clientID string, now time.Time) (*Decision, error)
}

// NewEngine constructs an Engine over store.
func NewEngine(store Store, keys *KeyBuilder) *Engine {
	if keys == nil {
		keys = NewKeyBuilder("")
	}
	e := &Engine{store: store, keys: keys}
	e.variants = map[Strategy]decider{
		StrategyFixedWindow:   fixedWindow{e},
		StrategySlidingWindow: bucketVariant[*slidingState]{e, newSlidingState},
		StrategyTokenBucket:   bucketVariant[*tokenBucketState]{e, newTokenBucketState},
		StrategyLeakyBucket:   bucketVariant[*leakyBucketState]{e, newLeakyBucketState},
	}
	return e
}

// WindowStart aligns now to a multiple of window since the Unix epoch.
func WindowStart(now time.Time, window time.Duration) time.Time {
	ms := window.Milliseconds()
	if ms <= 0 {
		return now
	}
	return time.UnixMilli(now.UnixMilli() / ms * ms).In(now.Location())
}

// Take consumes capacity for one request and returns the decision.
func (e *Engine) Take(ctx context.Context, rule *Rule, clientID string, now time.Time) (*Decision, error) {
	d, err := e.variant(rule)
	if err != nil {
		return nil, err
	}
	return d.take(ctx, rule, clientID, now)
}

// Peek evaluates the decision a request would get at now without writing anything.
func (e *Engine) Peek(ctx context.Context, rule *Rule, clientID string, now time.Time) (*Decision, error) {
	d, err := e.variant(rule)
	if err != nil {
		return nil, err
	}
	return d.peek(ctx, rule, clientID, now)
}

func (e *Engine) variant(rule *Rule) (decider, error) {
	if e == nil || e.store == nil {
		return nil, StoreFailure("engine", errStoreMissing)
	}
	if rule == nil {
		return nil, Validation("rule", "is required")
	}
	if rule.Limit <= 0 {
		return nil, Validation("limit", "must be greater than 0")
	}
	if rule.WindowMs <= 0 {
		return nil, Validation("windowMs", "must be greater than 0")
	}
	strategy := rule.Strategy
	if strategy == "" {
		strategy = StrategyFixedWindow
	}
	d, ok := e.variants[strategy]
	if !ok {
		return nil, Validation("strategy", "unsupported strategy "+string(rule.Strategy))
	}
	return d, nil
}

func newDecision(rule *Rule, now time.Time, allowed bool, count int64) *Decision {
	window := rule.Window()
	reset := WindowStart(now, window).Add(window)
	remaining := rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	d := &Decision{
		Allowed:   allowed,
		Remaining: remaining,
		Limit:     rule.Limit,
		Count:     count,
		ResetTime: reset,
	}
	if !allowed {
		d.RetryAfter = reset.Sub(now)
	}
	return d
}

// fixedWindow counts every request in an atomic per-window counter.
type fixedWindow struct {
	e *Engine
}

func (f fixedWindow) take(ctx context.Context, rule *Rule, clientID string, now time.Time) (*Decision, error) {
	key := f.e.keys.Counter(rule.ID, clientID, WindowStart(now, rule.Window()))
	count, err := f.e.store.Incr(ctx, key, rule.Window())
	if err != nil {
		return nil, StoreFailure("incr", err)
	}
	return newDecision(rule, now, count <= rule.Limit, count), nil
}

func (f fixedWindow) peek(ctx context.Context, rule *Rule, clientID string, now time.Time) (*Decision, error) {
	key := f.e.keys.Counter(rule.ID, clientID, WindowStart(now, rule.Window()))
	raw, found, err := f.e.store.Get(ctx, key)
	if err != nil {
		return nil, StoreFailure("get", err)
	}
	var count int64
	if found {
		count, err = strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return nil, StoreFailure("decode counter", err)
		}
	}
	return newDecision(rule, now, count < rule.Limit, count), nil
}

// bucketState is the per-client state of the stateful strategies.
type bucketState interface {
	// advance moves the state to now, optionally consuming one request.
	advance(rule *Rule, now time.Time, consume bool) *Decision
}

type bucketVariant[S bucketState] struct {
	e     *Engine
	fresh func() S
}

func (b bucketVariant[S]) take(ctx context.Context, rule *Rule, clientID string, now time.Time) (*Decision, error) {
	var decision *Decision
	_, err := b.e.store.Update(ctx, b.e.keys.State(rule.ID, clientID), 2*rule.Window(), func(current []byte) ([]byte, error) {
		state, err := b.decode(current)
		if err != nil {
			return nil, err
		}
		decision = state.advance(rule, now, true)
		return json.Marshal(state)
	})
	if err != nil {
		return nil, StoreFailure("update", err)
	}
	return decision, nil
}

func (b bucketVariant[S]) peek(ctx context.Context, rule *Rule, clientID string, now time.Time) (*Decision, error) {
	raw, _, err := b.e.store.Get(ctx, b.e.keys.State(rule.ID, clientID))
	if err != nil {
		return nil, StoreFailure("get", err)
	}
	state, err := b.decode(raw)
	if err != nil {
		return nil, err
	}
	return state.advance(rule, now, false), nil
}

func (b bucketVariant[S]) decode(raw []byte) (S, error) {
	state := b.fresh()
	if len(raw) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(raw, state); err != nil {
		return state, StoreFailure("decode state", err)
	}
	return state, nil
}

// slidingState is a two-window sliding counter.
type slidingState struct {
	WindowStart int64 `json:"windowStart"`
	Current     int64 `json:"current"`
	Previous    int64 `json:"previous"`
}

func newSlidingState() *slidingState { return &slidingState{} }

func (s *slidingState) advance(rule *Rule, now time.Time, consume bool) *Decision {
	window := rule.Window()
	start := WindowStart(now, window).UnixMilli()
	switch {
	case s.WindowStart == start:
	case s.WindowStart == start-rule.WindowMs:
		s.Previous, s.Current = s.Current, 0
	default:
		s.Previous, s.Current = 0, 0
	}
	s.WindowStart = start

	elapsed := float64(now.UnixMilli()-start) / float64(rule.WindowMs)
	estimate := float64(s.Previous)*(1-elapsed) + float64(s.Current)
	allowed := estimate < float64(rule.Limit)
	if allowed && consume {
		s.Current++
		estimate++
	}
	d := newDecision(rule, now, allowed, int64(math.Ceil(estimate)))
	if !allowed && s.Previous > 0 {
		// The estimate decays as the previous window's weight shrinks.
		excess := estimate - float64(rule.Limit) + 1
		wait := time.Duration(excess / float64(s.Previous) * float64(window))
		if wait < d.RetryAfter {
			d.RetryAfter = wait
		}
	}
	return d
}

// tokenBucketState refills limit tokens per window up to a capacity of limit.
type tokenBucketState struct {
	Tokens     float64 `json:"tokens"`
	LastRefill int64   `json:"lastRefill"`
}

func newTokenBucketState() *tokenBucketState { return &tokenBucketState{Tokens: -1} }

func (s *tokenBucketState) advance(rule *Rule, now time.Time, consume bool) *Decision {
	capacity := float64(rule.Limit)
	perNano := capacity / float64(rule.Window())
	nowNanos := now.UnixNano()
	if s.Tokens < 0 {
		s.Tokens = capacity
		s.LastRefill = nowNanos
	}
	if elapsed := nowNanos - s.LastRefill; elapsed > 0 {
		s.Tokens = math.Min(capacity, s.Tokens+float64(elapsed)*perNano)
		s.LastRefill = nowNanos
	}
	allowed := s.Tokens >= 1
	if allowed && consume {
		s.Tokens--
	}
	d := newDecision(rule, now, allowed, rule.Limit-int64(math.Floor(s.Tokens)))
	if !allowed {
		d.RetryAfter = time.Duration(math.Ceil((1 - s.Tokens) / perNano))
	}
	return d
}

// leakyBucketState drains limit requests per window from a queue of capacity limit.
type leakyBucketState struct {
	Level    float64 `json:"level"`
	LastLeak int64   `json:"lastLeak"`
}

func newLeakyBucketState() *leakyBucketState { return &leakyBucketState{} }

func (s *leakyBucketState) advance(rule *Rule, now time.Time, consume bool) *Decision {
	capacity := float64(rule.Limit)
	perNano := capacity / float64(rule.Window())
	nowNanos := now.UnixNano()
	if s.LastLeak == 0 {
		s.LastLeak = nowNanos
	}
	if elapsed := nowNanos - s.LastLeak; elapsed > 0 {
		s.Level = math.Max(0, s.Level-float64(elapsed)*perNano)
		s.LastLeak = nowNanos
	}
	allowed := s.Level+1 <= capacity
	if allowed && consume {
		s.Level++
	}
	d := newDecision(rule, now, allowed, int64(math.Ceil(s.Level)))
	if !allowed {
		d.RetryAfter = time.Duration(math.Ceil((s.Level + 1 - capacity) / perNano))
	}
	return d
}
