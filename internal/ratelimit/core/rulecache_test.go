package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ratelimiter/internal/ratelimit/observability"
)

type staticLister struct {
	mu     sync.Mutex
	rules  []*Rule
	err    error
	calls  atomic.Int64
	before func(call int64)
	gate   chan struct{}
}

func (l *staticLister) List(ctx context.Context) ([]*Rule, error) {
	call := l.calls.Add(1)
	if l.gate != nil {
		select {
		case <-l.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if l.before != nil {
		l.before(call)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	out := make([]*Rule, len(l.rules))
	copy(out, l.rules)
	return out, nil
}

func (l *staticLister) set(rules ...*Rule) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rules = rules
}

func ids(rules []*Rule) map[string]int64 {
	out := make(map[string]int64, len(rules))
	for _, rule := range rules {
		out[rule.ID] = rule.Limit
	}
	return out
}

func TestRuleCache_LoadsLazilyAndServesSnapshot(t *testing.T) {
	t.Parallel()

	source := &staticLister{rules: []*Rule{{ID: "a", Limit: 1}, {ID: "b", Limit: 2}}}
	cache := NewRuleCache(source)
	if cache.Len() != 0 {
		t.Fatalf("expected empty cache before first use")
	}

	for i := 0; i < 3; i++ {
		rules, err := cache.List(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(rules) != 2 {
			t.Fatalf("expected 2 rules got %d", len(rules))
		}
	}
	if got := source.calls.Load(); got != 1 {
		t.Fatalf("expected one load got %d", got)
	}

	// Cached rules are copies of the source's.
	source.rules[0].Limit = 99
	rules, _ := cache.List(context.Background())
	if ids(rules)["a"] != 1 {
		t.Fatalf("expected cached copy to be isolated from the source")
	}
}

func TestRuleCache_UpsertAndRemove(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	cache := NewRuleCache(&staticLister{})
	cache.ReplaceAll([]*Rule{{ID: "a", Limit: 1, UpdatedAt: now}})

	cache.Upsert(&Rule{ID: "b", Limit: 2, UpdatedAt: now})
	cache.Upsert(&Rule{ID: "a", Limit: 3, UpdatedAt: now.Add(time.Second)})
	cache.Upsert(&Rule{ID: "a", Limit: 4, UpdatedAt: now})

	rules, err := cache.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := ids(rules)
	if len(got) != 2 || got["a"] != 3 || got["b"] != 2 {
		t.Fatalf("unexpected cache contents: %#v", got)
	}

	cache.Remove("a")
	cache.Remove("missing")
	if cache.Len() != 1 {
		t.Fatalf("expected 1 rule after remove got %d", cache.Len())
	}
}

func TestRuleCache_MutationsBeforeFirstLoadAreNotCached(t *testing.T) {
	t.Parallel()

	source := &staticLister{rules: []*Rule{{ID: "a", Limit: 1}}}
	cache := NewRuleCache(source)
	cache.Upsert(&Rule{ID: "b", Limit: 2})
	cache.Remove("a")

	rules, err := cache.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ids(rules); len(got) != 1 || got["a"] != 1 {
		t.Fatalf("expected the source listing, got %#v", got)
	}
}

func TestRuleCache_RefreshPicksUpSourceChanges(t *testing.T) {
	t.Parallel()

	source := &staticLister{rules: []*Rule{{ID: "a", Limit: 1}}}
	cache := NewRuleCache(source)
	if _, err := cache.List(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	source.set(&Rule{ID: "b", Limit: 5})
	if _, err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rules, _ := cache.List(context.Background())
	if got := ids(rules); len(got) != 1 || got["b"] != 5 {
		t.Fatalf("unexpected cache contents: %#v", got)
	}
}

func TestRuleCache_RefreshFailureKeepsSnapshot(t *testing.T) {
	t.Parallel()

	source := &staticLister{rules: []*Rule{{ID: "a", Limit: 1}}}
	cache := NewRuleCache(source)
	if _, err := cache.List(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	source.mu.Lock()
	source.err = errors.New("store down")
	source.mu.Unlock()
	if _, err := cache.Refresh(context.Background()); err == nil {
		t.Fatalf("expected refresh error")
	}
	if cache.Len() != 1 {
		t.Fatalf("expected snapshot to survive a failed refresh")
	}
}

func TestRuleCache_RacedLoadIsRetried(t *testing.T) {
	t.Parallel()

	source := &staticLister{}
	cache := NewRuleCache(source)
	cache.ReplaceAll(nil)
	source.before = func(call int64) {
		if call == 1 {
			// A local mutation lands while the first load is in flight.
			cache.Upsert(&Rule{ID: "local", Limit: 7})
		}
	}
	source.set(&Rule{ID: "local", Limit: 7}, &Rule{ID: "other", Limit: 1})

	rules, err := cache.Refresh(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := source.calls.Load(); got != 2 {
		t.Fatalf("expected a retried load, got %d calls", got)
	}
	if len(rules) != 2 || cache.Len() != 2 {
		t.Fatalf("expected retried listing to be cached, got %d/%d", len(rules), cache.Len())
	}
}

func TestRuleCache_ConcurrentRefreshSharesLoad(t *testing.T) {
	t.Parallel()

	source := &staticLister{rules: []*Rule{{ID: "a", Limit: 1}}, gate: make(chan struct{})}
	cache := NewRuleCache(source)

	const callers = 8
	var started sync.WaitGroup
	var wg sync.WaitGroup
	started.Add(callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started.Done()
			if _, err := cache.Refresh(context.Background()); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	started.Wait()
	// Let the callers pile up on the in-flight load before releasing it.
	time.Sleep(20 * time.Millisecond)
	close(source.gate)
	wg.Wait()

	if got := source.calls.Load(); got < 1 || got > callers {
		t.Fatalf("unexpected load count %d", got)
	}
	if got := source.calls.Load(); got == callers {
		t.Fatalf("expected concurrent refreshes to share loads, got %d", got)
	}
	if cache.Len() != 1 {
		t.Fatalf("expected 1 cached rule got %d", cache.Len())
	}
}

func TestRuleSyncWorker_RefreshesUntilCanceled(t *testing.T) {
	t.Parallel()

	source := &staticLister{rules: []*Rule{{ID: "a", Limit: 1}}}
	cache := NewRuleCache(source)
	if _, err := cache.List(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	worker := NewRuleSyncWorker(cache, 5*time.Millisecond, observability.NopLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Start(ctx) }()

	source.set(&Rule{ID: "a", Limit: 1}, &Rule{ID: "b", Limit: 2})
	deadline := time.Now().Add(2 * time.Second)
	for cache.Len() != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected worker to pick up the new rule")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not stop")
	}
}

func TestRuleSyncWorker_RequiresCache(t *testing.T) {
	t.Parallel()

	if err := NewRuleSyncWorker(nil, 0, nil).Start(context.Background()); err == nil {
		t.Fatalf("expected error without a cache")
	}
}
