// Package core provides rule snapshot caching.
package core

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

const refreshAttempts = 3

type ruleSnapshot struct {
	byID  map[string]*Rule
	rules []*Rule
}

// RuleCache serves rule listings for request matching from a copy-on-write snapshot.
// Local mutations are applied immediately; Refresh reloads from the source.
type RuleCache struct {
	source  RuleLister
	snap    atomic.Pointer[ruleSnapshot]
	mu      sync.Mutex
	version uint64
	loads   singleflight.Group
}

// NewRuleCache constructs an empty cache that loads lazily from source.
func NewRuleCache(source RuleLister) *RuleCache {
	return &RuleCache{source: source}
}

// List returns the cached rules. The returned rules must not be modified.
func (rc *RuleCache) List(ctx context.Context) ([]*Rule, error) {
	if snap := rc.snap.Load(); snap != nil {
		return snap.rules, nil
	}
	return rc.Refresh(ctx)
}

// Refresh reloads every rule from the source. Concurrent callers share one load.
// A load that raced with a local mutation is retried and never cached.
func (rc *RuleCache) Refresh(ctx context.Context) ([]*Rule, error) {
	v, err, _ := rc.loads.Do("rules", func() (any, error) {
		var rules []*Rule
		for attempt := 0; attempt < refreshAttempts; attempt++ {
			rc.mu.Lock()
			version := rc.version
			rc.mu.Unlock()

			var err error
			if rules, err = rc.source.List(ctx); err != nil {
				return nil, err
			}

			rc.mu.Lock()
			if rc.version == version {
				rc.store(rules)
				snap := rc.snap.Load()
				rc.mu.Unlock()
				return snap.rules, nil
			}
			rc.mu.Unlock()
		}
		return rules, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*Rule), nil
}

// ReplaceAll replaces the entire snapshot.
func (rc *RuleCache) ReplaceAll(rules []*Rule) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.version++
	rc.store(rules)
}

// Upsert stores rule unless the cached copy was updated later.
func (rc *RuleCache) Upsert(rule *Rule) {
	if rule == nil {
		return
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.version++
	snap := rc.snap.Load()
	if snap == nil {
		return
	}
	if existing, ok := snap.byID[rule.ID]; ok && existing.UpdatedAt.After(rule.UpdatedAt) {
		return
	}
	next := make([]*Rule, 0, len(snap.rules)+1)
	for _, cached := range snap.rules {
		if cached.ID != rule.ID {
			next = append(next, cached)
		}
	}
	rc.store(append(next, rule))
}

// Remove drops a rule from the snapshot.
func (rc *RuleCache) Remove(id string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.version++
	snap := rc.snap.Load()
	if snap == nil {
		return
	}
	if _, ok := snap.byID[id]; !ok {
		return
	}
	next := make([]*Rule, 0, len(snap.rules))
	for _, cached := range snap.rules {
		if cached.ID != id {
			next = append(next, cached)
		}
	}
	rc.store(next)
}

// Len returns the number of cached rules.
func (rc *RuleCache) Len() int {
	if snap := rc.snap.Load(); snap != nil {
		return len(snap.rules)
	}
	return 0
}

// store must be called with mu held.
func (rc *RuleCache) store(rules []*Rule) {
	snap := &ruleSnapshot{
		byID:  make(map[string]*Rule, len(rules)),
		rules: make([]*Rule, 0, len(rules)),
	}
	for _, rule := range rules {
		if rule == nil {
			continue
		}
		clone := cloneRule(rule)
		snap.byID[clone.ID] = clone
		snap.rules = append(snap.rules, clone)
	}
	rc.snap.Store(snap)
}
