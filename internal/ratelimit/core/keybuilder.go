// Package core provides store key construction.
package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultNamespace prefixes every key when none is configured.
const DefaultNamespace = "ratelimiter"

// KeyBuilder builds structured store keys of the form <namespace>:<kind>:<id>[:<subkey>].
type KeyBuilder struct {
	namespace string
}

// NewKeyBuilder constructs a KeyBuilder.
func NewKeyBuilder(namespace string) *KeyBuilder {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &KeyBuilder{namespace: namespace}
}

func (kb *KeyBuilder) join(parts ...string) string {
	return kb.namespace + ":" + strings.Join(parts, ":")
}

// RulePrefix is the prefix of every rule record.
func (kb *KeyBuilder) RulePrefix() string { return kb.join("rules", "") }

// Rule is the key of a rule record.
func (kb *KeyBuilder) Rule(id string) string { return kb.join("rules", id) }

// RuleIDFromKey extracts the rule id from a rule record key.
func (kb *KeyBuilder) RuleIDFromKey(key string) string {
	return strings.TrimPrefix(key, kb.RulePrefix())
}

// Name is the key claiming a rule name, compared case-insensitively.
func (kb *KeyBuilder) Name(name string) string {
	return kb.join("names", strings.ToLower(strings.TrimSpace(name)))
}

// Stats is the key of a rule's stats record.
func (kb *KeyBuilder) Stats(ruleID string) string { return kb.join("stats", ruleID) }

// LogPrefix is the prefix of every log entry of a rule.
func (kb *KeyBuilder) LogPrefix(ruleID string) string { return kb.join("logs", ruleID, "") }

// Log is the key of one log entry. The zero padded timestamp keeps key order aligned
// with time order; seq disambiguates entries sharing a timestamp and client.
func (kb *KeyBuilder) Log(ruleID string, ts time.Time, clientID, seq string) string {
	return kb.join("logs", ruleID, fmt.Sprintf("%020d", ts.UnixNano()), clientID, seq)
}

// CounterPrefix is the prefix of every window counter of a rule.
func (kb *KeyBuilder) CounterPrefix(ruleID string) string { return kb.join("counters", ruleID, "") }

// Counter is the fixed-window counter of one client.
func (kb *KeyBuilder) Counter(ruleID, clientID string, windowStart time.Time) string {
	return kb.join("counters", ruleID, clientID, strconv.FormatInt(windowStart.UnixMilli(), 10))
}

// WindowPrefix is the prefix of every rule-wide window counter of a rule.
func (kb *KeyBuilder) WindowPrefix(ruleID string) string { return kb.join("windows", ruleID, "") }

// RuleCounter is the fixed-window counter across all clients of a rule. It lives under
// its own kind so no client id can address it.
func (kb *KeyBuilder) RuleCounter(ruleID string, windowStart time.Time) string {
	return kb.join("windows", ruleID, strconv.FormatInt(windowStart.UnixMilli(), 10))
}

// StatePrefix is the prefix of every algorithm state record of a rule.
func (kb *KeyBuilder) StatePrefix(ruleID string) string { return kb.join("state", ruleID, "") }

// State is the algorithm state of one client.
func (kb *KeyBuilder) State(ruleID, clientID string) string {
	return kb.join("state", ruleID, clientID)
}
