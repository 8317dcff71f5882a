// Package core provides the rule registry.
package core

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Registry stores rule definitions and enforces case-insensitive name uniqueness
// through name claim records.
type Registry struct {
	store Store
	keys  *KeyBuilder
	stats *Aggregator
	now   func() time.Time
	newID func() string
}

// NewRegistry constructs a Registry. stats is initialized and cleaned up alongside rules.
func NewRegistry(store Store, keys *KeyBuilder, stats *Aggregator, now func() time.Time) *Registry {
	if keys == nil {
		keys = NewKeyBuilder("")
	}
	if now == nil {
		now = time.Now
	}
	return &Registry{store: store, keys: keys, stats: stats, now: now, newID: uuid.NewString}
}

// List returns every rule, most recently updated first.
func (r *Registry) List(ctx context.Context) ([]*Rule, error) {
	keys, err := r.store.Keys(ctx, r.keys.RulePrefix())
	if err != nil {
		return nil, StoreFailure("keys", err)
	}
	rules := make([]*Rule, 0, len(keys))
	if len(keys) == 0 {
		return rules, nil
	}
	values, err := r.store.MGet(ctx, keys...)
	if err != nil {
		return nil, StoreFailure("mget", err)
	}
	for _, raw := range values {
		if raw == nil {
			continue
		}
		rule, err := decodeRule(raw)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	sort.Slice(rules, func(i, j int) bool {
		if !rules[i].UpdatedAt.Equal(rules[j].UpdatedAt) {
			return rules[i].UpdatedAt.After(rules[j].UpdatedAt)
		}
		return rules[i].ID < rules[j].ID
	})
	return rules, nil
}

// Get returns one rule.
func (r *Registry) Get(ctx context.Context, id string) (*Rule, error) {
	if strings.TrimSpace(id) == "" {
		return nil, Validation("id", "is required")
	}
	raw, found, err := r.store.Get(ctx, r.keys.Rule(id))
	if err != nil {
		return nil, StoreFailure("get", err)
	}
	if !found {
		return nil, NotFound("rule", id)
	}
	return decodeRule(raw)
}

// Create validates a draft, claims its name and persists the rule with zeroed stats.
func (r *Registry) Create(ctx context.Context, draft *RuleDraft) (*Rule, error) {
	if draft == nil {
		return nil, Validation("rule", "is required")
	}
	if err := validateStruct(draft); err != nil {
		return nil, err
	}
	now := r.now()
	rule := &Rule{
		ID:        r.newID(),
		Method:    MethodAll,
		Strategy:  StrategyFixedWindow,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := applyFields(rule, draft.Name, draft.Endpoint, draft.Method, draft.Limit, draft.WindowMs, draft.Strategy, draft.Enabled, draft.Priority); err != nil {
		return nil, err
	}

	if err := r.claimName(ctx, rule.Name, rule.ID); err != nil {
		return nil, err
	}
	data, err := json.Marshal(rule)
	if err != nil {
		r.releaseName(ctx, rule.Name, rule.ID)
		return nil, StoreFailure("encode rule", err)
	}
	if err := r.store.Set(ctx, r.keys.Rule(rule.ID), data, 0); err != nil {
		r.releaseName(ctx, rule.Name, rule.ID)
		return nil, StoreFailure("set", err)
	}
	if r.stats != nil {
		if err := r.stats.Init(ctx, rule.ID); err != nil {
			return nil, err
		}
	}
	return rule, nil
}

// Update merges patch into an existing rule. A renamed rule moves its name claim.
func (r *Registry) Update(ctx context.Context, id string, patch *RulePatch) (*Rule, error) {
	if patch == nil {
		return nil, Validation("rule", "is required")
	}
	if err := validateStruct(patch); err != nil {
		return nil, err
	}
	existing, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	claimed := ""
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, Validation("name", "is required")
		}
		if r.keys.Name(name) != r.keys.Name(existing.Name) {
			if err := r.claimName(ctx, name, id); err != nil {
				return nil, err
			}
			claimed = name
		}
	}

	var updated *Rule
	var previous string
	_, err = r.store.Update(ctx, r.keys.Rule(id), 0, func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, NotFound("rule", id)
		}
		rule, err := decodeRule(current)
		if err != nil {
			return nil, err
		}
		previous = rule.Name
		if err := applyFields(rule, patch.Name, patch.Endpoint, patch.Method, patch.Limit, patch.WindowMs, patch.Strategy, patch.Enabled, patch.Priority); err != nil {
			return nil, err
		}
		rule.UpdatedAt = r.now()
		updated = rule
		return json.Marshal(rule)
	})
	if err != nil {
		if claimed != "" {
			r.releaseName(ctx, claimed, id)
		}
		return nil, StoreFailure("update", err)
	}

	// The committed record may have been renamed concurrently since existing was read,
	// so claims are settled against the name actually overwritten.
	final := r.keys.Name(updated.Name)
	if previous != "" && r.keys.Name(previous) != final {
		r.releaseName(ctx, previous, id)
	}
	if claimed != "" && r.keys.Name(claimed) != final {
		r.releaseName(ctx, claimed, id)
	}
	return updated, nil
}

// Delete removes a rule with its stats, logs, counters and algorithm state in one batch.
// Leftover records of an already deleted rule are cleaned up before NotFoundError is returned.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return Validation("id", "is required")
	}
	rule, err := r.Get(ctx, id)
	if err != nil && CodeOf(err) != CodeNotFound {
		return err
	}
	var keys []string
	if r.stats != nil {
		if keys, err = r.stats.CascadeKeys(ctx, id); err != nil {
			return err
		}
	}
	if rule == nil {
		if len(keys) > 0 {
			if err := r.store.Delete(ctx, keys...); err != nil {
				return StoreFailure("delete", err)
			}
		}
		return NotFound("rule", id)
	}
	if owner, found, err := r.NameOwner(ctx, rule.Name); err != nil {
		return err
	} else if found && owner == id {
		keys = append(keys, r.keys.Name(rule.Name))
	}
	keys = append(keys, r.keys.Rule(id))
	return StoreFailure("delete", r.store.Delete(ctx, keys...))
}

// staleClaimAge is how long a claim may point at a rule that does not carry its name
// before another rule may take it over. It covers the gap between claiming a name and
// writing the rule record.
const staleClaimAge = time.Minute

type nameClaim struct {
	RuleID    string    `json:"ruleId"`
	ClaimedAt time.Time `json:"claimedAt"`
}

func decodeClaim(raw []byte) nameClaim {
	var claim nameClaim
	if err := json.Unmarshal(raw, &claim); err != nil {
		return nameClaim{}
	}
	return claim
}

// NameOwner returns the id of the rule holding the claim on name.
func (r *Registry) NameOwner(ctx context.Context, name string) (string, bool, error) {
	raw, found, err := r.store.Get(ctx, r.keys.Name(name))
	if err != nil {
		return "", false, StoreFailure("get", err)
	}
	if !found {
		return "", false, nil
	}
	return decodeClaim(raw).RuleID, true, nil
}

// claimName atomically binds name to id, failing when another rule holds it. A claim
// left behind by a rule that is gone or renamed is taken over once it is stale.
func (r *Registry) claimName(ctx context.Context, name, id string) error {
	key := r.keys.Name(name)
	conflict := Conflict("rule name " + strings.TrimSpace(name) + " already exists")

	var stale []byte
	raw, found, err := r.store.Get(ctx, key)
	if err != nil {
		return StoreFailure("get", err)
	}
	if found {
		claim := decodeClaim(raw)
		if claim.RuleID != id {
			abandoned, err := r.claimAbandoned(ctx, claim, name)
			if err != nil {
				return err
			}
			if !abandoned {
				return conflict
			}
			stale = raw
		}
	}

	data, err := json.Marshal(nameClaim{RuleID: id, ClaimedAt: r.now()})
	if err != nil {
		return StoreFailure("encode claim", err)
	}
	_, err = r.store.Update(ctx, key, 0, func(current []byte) ([]byte, error) {
		if current != nil && decodeClaim(current).RuleID != id && string(current) != string(stale) {
			return nil, conflict
		}
		return data, nil
	})
	return StoreFailure("claim name", err)
}

// claimAbandoned reports whether claim is stale and its rule no longer carries name.
func (r *Registry) claimAbandoned(ctx context.Context, claim nameClaim, name string) (bool, error) {
	if r.now().Sub(claim.ClaimedAt) < staleClaimAge {
		return false, nil
	}
	if claim.RuleID == "" {
		return true, nil
	}
	raw, found, err := r.store.Get(ctx, r.keys.Rule(claim.RuleID))
	if err != nil {
		return false, StoreFailure("get", err)
	}
	if !found {
		return true, nil
	}
	owner, err := decodeRule(raw)
	if err != nil {
		return false, err
	}
	return r.keys.Name(owner.Name) != r.keys.Name(name), nil
}

// releaseName drops a claim still held by id. Failures leave a stale claim that a
// later claim of the same name takes over.
func (r *Registry) releaseName(ctx context.Context, name, id string) {
	owner, found, err := r.NameOwner(ctx, name)
	if err != nil || !found || owner != id {
		return
	}
	_ = r.store.Delete(ctx, r.keys.Name(name))
}

func applyFields(rule *Rule, name, endpoint, method *string, limit, windowMs *int64, strategy *string, enabled *bool, priority *int) error {
	if name != nil {
		trimmed := strings.TrimSpace(*name)
		if trimmed == "" {
			return Validation("name", "is required")
		}
		rule.Name = trimmed
	}
	if endpoint != nil {
		trimmed := strings.TrimSpace(*endpoint)
		if trimmed == "" {
			return Validation("endpoint", "is required")
		}
		rule.Endpoint = trimmed
	}
	if method != nil && strings.TrimSpace(*method) != "" {
		m, ok := ParseMethod(*method)
		if !ok {
			return Validation("method", "must be one of GET, POST, PUT, DELETE, PATCH, ALL")
		}
		rule.Method = m
	}
	if limit != nil {
		if *limit <= 0 {
			return Validation("limit", "must be greater than 0")
		}
		rule.Limit = *limit
	}
	if windowMs != nil {
		if *windowMs <= 0 {
			return Validation("windowMs", "must be greater than 0")
		}
		rule.WindowMs = *windowMs
	}
	if strategy != nil && strings.TrimSpace(*strategy) != "" {
		s, ok := ParseStrategy(*strategy)
		if !ok {
			return Validation("strategy", "must be one of fixed-window, sliding-window, token-bucket, leaky-bucket")
		}
		rule.Strategy = s
	}
	if enabled != nil {
		rule.Enabled = *enabled
	}
	if priority != nil {
		if *priority < 0 {
			return Validation("priority", "must be at least 0")
		}
		rule.Priority = *priority
	}
	return nil
}

func decodeRule(raw []byte) (*Rule, error) {
	var rule Rule
	if err := json.Unmarshal(raw, &rule); err != nil {
		return nil, StoreFailure("decode rule", err)
	}
	return &rule, nil
}
