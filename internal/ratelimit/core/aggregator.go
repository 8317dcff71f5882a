// Package core provides the statistics aggregator.
package core

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// AggregatorOptions bounds the derived statistics.
type AggregatorOptions struct {
	LogRetention   int
	RecentActivity int
	TopClients     int
	TopClientScan  int
}

// DefaultAggregatorOptions mirrors the dashboard limits.
func DefaultAggregatorOptions() AggregatorOptions {
	return AggregatorOptions{
		LogRetention:   1000,
		RecentActivity: 20,
		TopClients:     10,
		TopClientScan:  100,
	}
}

// Aggregator maintains per-rule counters, the request log and derived views.
type Aggregator struct {
	store Store
	keys  *KeyBuilder
	opts  AggregatorOptions
	now   func() time.Time
}

// NewAggregator constructs an Aggregator. Non-positive options fall back to defaults.
func NewAggregator(store Store, keys *KeyBuilder, opts AggregatorOptions, now func() time.Time) *Aggregator {
	defaults := DefaultAggregatorOptions()
	if opts.LogRetention <= 0 {
		opts.LogRetention = defaults.LogRetention
	}
	if opts.RecentActivity <= 0 {
		opts.RecentActivity = defaults.RecentActivity
	}
	if opts.TopClients <= 0 {
		opts.TopClients = defaults.TopClients
	}
	if opts.TopClientScan <= 0 {
		opts.TopClientScan = defaults.TopClientScan
	}
	if keys == nil {
		keys = NewKeyBuilder("")
	}
	if now == nil {
		now = time.Now
	}
	return &Aggregator{store: store, keys: keys, opts: opts, now: now}
}

func emptyStats(ruleID string) *Stats {
	return &Stats{
		RuleID:         ruleID,
		TopClients:     []ClientStat{},
		RecentActivity: []LogEntry{},
	}
}

// Init persists zeroed stats for a new rule.
func (a *Aggregator) Init(ctx context.Context, ruleID string) error {
	data, err := json.Marshal(emptyStats(ruleID))
	if err != nil {
		return StoreFailure("encode stats", err)
	}
	return StoreFailure("set", a.store.Set(ctx, a.keys.Stats(ruleID), data, 0))
}

// RecordRequest appends a log entry, prunes the log to its retention bound and
// updates the rule's counters and recent activity.
func (a *Aggregator) RecordRequest(ctx context.Context, rule *Rule, entry LogEntry) (*Stats, error) {
	if rule == nil {
		return nil, Validation("rule", "is required")
	}
	if _, found, err := a.store.Get(ctx, a.keys.Stats(rule.ID)); err != nil {
		return nil, StoreFailure("get", err)
	} else if !found {
		return nil, NotFound("stats", rule.ID)
	}

	entry.RuleID = rule.ID
	if entry.Timestamp.IsZero() {
		entry.Timestamp = a.now()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, StoreFailure("encode log", err)
	}
	logKey := a.keys.Log(rule.ID, entry.Timestamp, entry.ClientID, uuid.NewString())
	if err := a.store.Set(ctx, logKey, data, 0); err != nil {
		return nil, StoreFailure("set", err)
	}

	logKeys, err := a.pruneLogs(ctx, rule.ID)
	if err != nil {
		return nil, err
	}
	windowKey := a.keys.RuleCounter(rule.ID, WindowStart(entry.Timestamp, rule.Window()))
	if _, err := a.store.Incr(ctx, windowKey, rule.Window()); err != nil {
		return nil, StoreFailure("incr", err)
	}
	recent, err := a.loadLogs(ctx, newest(logKeys, a.opts.RecentActivity))
	if err != nil {
		return nil, err
	}

	var updated Stats
	_, err = a.store.Update(ctx, a.keys.Stats(rule.ID), 0, func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, NotFound("stats", rule.ID)
		}
		updated = Stats{}
		if err := json.Unmarshal(current, &updated); err != nil {
			return nil, StoreFailure("decode stats", err)
		}
		updated.TotalRequests++
		if entry.Allowed {
			updated.AllowedRequests++
		} else {
			updated.BlockedRequests++
		}
		updated.RecentActivity = recent
		return json.Marshal(&updated)
	})
	if err != nil {
		return nil, StoreFailure("update", err)
	}
	return &updated, nil
}

// pruneLogs deletes the oldest entries beyond retention and returns the survivors in key order.
func (a *Aggregator) pruneLogs(ctx context.Context, ruleID string) ([]string, error) {
	keys, err := a.store.Keys(ctx, a.keys.LogPrefix(ruleID))
	if err != nil {
		return nil, StoreFailure("keys", err)
	}
	excess := len(keys) - a.opts.LogRetention
	if excess <= 0 {
		return keys, nil
	}
	if err := a.store.Delete(ctx, keys[:excess]...); err != nil {
		return nil, StoreFailure("delete", err)
	}
	return keys[excess:], nil
}

// newest returns up to n keys from the end of an ascending key list, newest first.
func newest(keys []string, n int) []string {
	if len(keys) < n {
		n = len(keys)
	}
	out := make([]string, 0, n)
	for i := len(keys) - 1; i >= len(keys)-n; i-- {
		out = append(out, keys[i])
	}
	return out
}

func (a *Aggregator) loadLogs(ctx context.Context, keys []string) ([]LogEntry, error) {
	entries := make([]LogEntry, 0, len(keys))
	if len(keys) == 0 {
		return entries, nil
	}
	values, err := a.store.MGet(ctx, keys...)
	if err != nil {
		return nil, StoreFailure("mget", err)
	}
	for _, raw := range values {
		// Entries pruned between listing and reading are skipped.
		if raw == nil {
			continue
		}
		var entry LogEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, StoreFailure("decode log", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Logs returns a rule's retained log entries, newest first.
func (a *Aggregator) Logs(ctx context.Context, ruleID string, limit int) ([]LogEntry, error) {
	keys, err := a.store.Keys(ctx, a.keys.LogPrefix(ruleID))
	if err != nil {
		return nil, StoreFailure("keys", err)
	}
	if limit <= 0 || limit > len(keys) {
		limit = len(keys)
	}
	return a.loadLogs(ctx, newest(keys, limit))
}

// RefreshWindow recomputes the current window and the top clients of stats at now.
func (a *Aggregator) RefreshWindow(ctx context.Context, rule *Rule, stats *Stats, now time.Time) error {
	if rule == nil || stats == nil {
		return Validation("rule", "is required")
	}
	window := rule.Window()
	start := WindowStart(now, window)
	raw, found, err := a.store.Get(ctx, a.keys.RuleCounter(rule.ID, start))
	if err != nil {
		return StoreFailure("get", err)
	}
	var requests int64
	if found {
		if requests, err = strconv.ParseInt(string(raw), 10, 64); err != nil {
			return StoreFailure("decode counter", err)
		}
	}
	stats.CurrentWindow = Window{Start: start, End: start.Add(window), Requests: requests}

	entries, err := a.Logs(ctx, rule.ID, a.opts.TopClientScan)
	if err != nil {
		return err
	}
	stats.TopClients = topClients(entries, a.opts.TopClients)
	if stats.RecentActivity == nil {
		stats.RecentActivity = []LogEntry{}
	}
	return nil
}

func topClients(entries []LogEntry, limit int) []ClientStat {
	byClient := make(map[string]*ClientStat)
	for _, entry := range entries {
		stat := byClient[entry.ClientID]
		if stat == nil {
			stat = &ClientStat{Identifier: entry.ClientID}
			byClient[entry.ClientID] = stat
		}
		stat.Requests++
		if !entry.Allowed {
			stat.Blocked++
		}
	}
	out := make([]ClientStat, 0, len(byClient))
	for _, stat := range byClient {
		out = append(out, *stat)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Requests != out[j].Requests {
			return out[i].Requests > out[j].Requests
		}
		return out[i].Identifier < out[j].Identifier
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Get loads and refreshes the stats of rule.
func (a *Aggregator) Get(ctx context.Context, rule *Rule) (*Stats, error) {
	if rule == nil {
		return nil, Validation("rule", "is required")
	}
	raw, found, err := a.store.Get(ctx, a.keys.Stats(rule.ID))
	if err != nil {
		return nil, StoreFailure("get", err)
	}
	if !found {
		return nil, NotFound("stats", rule.ID)
	}
	var stats Stats
	if err := json.Unmarshal(raw, &stats); err != nil {
		return nil, StoreFailure("decode stats", err)
	}
	if err := a.RefreshWindow(ctx, rule, &stats, a.now()); err != nil {
		return nil, err
	}
	return &stats, nil
}

// GetAll loads the stats of every rule concurrently, preserving input order.
func (a *Aggregator) GetAll(ctx context.Context, rules []*Rule) ([]*Stats, error) {
	out := make([]*Stats, len(rules))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, rule := range rules {
		g.Go(func() error {
			stats, err := a.Get(gctx, rule)
			if err != nil {
				return err
			}
			out[i] = stats
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Reset zeroes the counters of one rule. Logs, window counters and algorithm state are kept,
// so decisions in the current window are unaffected.
func (a *Aggregator) Reset(ctx context.Context, ruleID string) error {
	resetAt := a.now()
	_, err := a.store.Update(ctx, a.keys.Stats(ruleID), 0, func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, NotFound("stats", ruleID)
		}
		stats := emptyStats(ruleID)
		stats.LastResetAt = &resetAt
		return json.Marshal(stats)
	})
	return StoreFailure("update", err)
}

// ResetAll zeroes the counters of every given rule concurrently.
func (a *Aggregator) ResetAll(ctx context.Context, ruleIDs []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, id := range ruleIDs {
		g.Go(func() error {
			return a.Reset(gctx, id)
		})
	}
	return g.Wait()
}

// CascadeKeys lists every record owned by a rule in deletion order:
// logs, client counters, rule-wide window counters, algorithm state, then stats.
func (a *Aggregator) CascadeKeys(ctx context.Context, ruleID string) ([]string, error) {
	var keys []string
	for _, prefix := range []string{
		a.keys.LogPrefix(ruleID),
		a.keys.CounterPrefix(ruleID),
		a.keys.WindowPrefix(ruleID),
		a.keys.StatePrefix(ruleID),
	} {
		found, err := a.store.Keys(ctx, prefix)
		if err != nil {
			return nil, StoreFailure("keys", err)
		}
		keys = append(keys, found...)
	}
	return append(keys, a.keys.Stats(ruleID)), nil
}
