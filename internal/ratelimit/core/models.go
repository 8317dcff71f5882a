// Package core defines rule, statistics and decision models.
package core

import (
	"strings"
	"time"
)

// Method is an HTTP verb a rule applies to.
type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodDelete Method = "DELETE"
	MethodPatch  Method = "PATCH"
	MethodAll    Method = "ALL"
)

// ParseMethod normalizes a method string. ok is false for unknown verbs.
func ParseMethod(s string) (Method, bool) {
	m := Method(strings.ToUpper(strings.TrimSpace(s)))
	switch m {
	case MethodGet, MethodPost, MethodPut, MethodDelete, MethodPatch, MethodAll:
		return m, true
	}
	return "", false
}

// Strategy names a rate limiting algorithm.
type Strategy string

const (
	StrategyFixedWindow   Strategy = "fixed-window"
	StrategySlidingWindow Strategy = "sliding-window"
	StrategyTokenBucket   Strategy = "token-bucket"
	StrategyLeakyBucket   Strategy = "leaky-bucket"
)

// ParseStrategy normalizes a strategy string, accepting underscores as separators.
func ParseStrategy(s string) (Strategy, bool) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	normalized = strings.ReplaceAll(normalized, "_", "-")
	st := Strategy(normalized)
	switch st {
	case StrategyFixedWindow, StrategySlidingWindow, StrategyTokenBucket, StrategyLeakyBucket:
		return st, true
	}
	return "", false
}

// Rule is a rate limiting policy scoped to an endpoint pattern and method.
type Rule struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Endpoint  string    `json:"endpoint"`
	Method    Method    `json:"method"`
	Limit     int64     `json:"limit"`
	WindowMs  int64     `json:"windowMs"`
	Strategy  Strategy  `json:"strategy"`
	Enabled   bool      `json:"enabled"`
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Window returns the rule window as a duration.
func (r *Rule) Window() time.Duration {
	return time.Duration(r.WindowMs) * time.Millisecond
}

// RuleDraft captures rule creation intent. Nil fields are absent.
type RuleDraft struct {
	Name     *string `json:"name" validate:"required,min=1,max=128"`
	Endpoint *string `json:"endpoint" validate:"required,min=1,max=512"`
	Method   *string `json:"method" validate:"omitempty,method"`
	Limit    *int64  `json:"limit" validate:"required,gt=0"`
	WindowMs *int64  `json:"windowMs" validate:"required,gt=0"`
	Strategy *string `json:"strategy" validate:"omitempty,strategy"`
	Enabled  *bool   `json:"enabled"`
	Priority *int    `json:"priority" validate:"omitempty,gte=0"`
}

// RulePatch captures a partial rule update. Nil fields are left unchanged.
type RulePatch struct {
	Name     *string `json:"name" validate:"omitempty,min=1,max=128"`
	Endpoint *string `json:"endpoint" validate:"omitempty,min=1,max=512"`
	Method   *string `json:"method" validate:"omitempty,method"`
	Limit    *int64  `json:"limit" validate:"omitempty,gt=0"`
	WindowMs *int64  `json:"windowMs" validate:"omitempty,gt=0"`
	Strategy *string `json:"strategy" validate:"omitempty,strategy"`
	Enabled  *bool   `json:"enabled"`
	Priority *int    `json:"priority" validate:"omitempty,gte=0"`
}

// Window is the counting interval a stats read falls into.
type Window struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Requests int64     `json:"requests"`
}

// ClientStat aggregates recent requests for one client.
type ClientStat struct {
	Identifier string `json:"identifier"`
	Requests   int64  `json:"requests"`
	Blocked    int64  `json:"blocked"`
}

// Stats is the derived aggregate state of one rule.
type Stats struct {
	RuleID          string       `json:"ruleId"`
	TotalRequests   int64        `json:"totalRequests"`
	AllowedRequests int64        `json:"allowedRequests"`
	BlockedRequests int64        `json:"blockedRequests"`
	CurrentWindow   Window       `json:"currentWindow"`
	TopClients      []ClientStat `json:"topClients"`
	RecentActivity  []LogEntry   `json:"recentActivity"`
	LastResetAt     *time.Time   `json:"lastResetAt,omitempty"`
}

// LogEntry records the outcome of one simulated request.
type LogEntry struct {
	Timestamp    time.Time `json:"timestamp"`
	ClientID     string    `json:"clientId"`
	RuleID       string    `json:"ruleId"`
	Endpoint     string    `json:"endpoint"`
	Method       Method    `json:"method"`
	Allowed      bool      `json:"allowed"`
	ResponseTime float64   `json:"responseTime"`
}

// Decision captures the evaluated rate limit outcome.
type Decision struct {
	Allowed    bool
	Remaining  int64
	Limit      int64
	Count      int64
	ResetTime  time.Time
	RetryAfter time.Duration
}

// SimulateRequest is a synthetic client request.
type SimulateRequest struct {
	ClientID string `json:"clientId" validate:"required,max=256"`
	Endpoint string `json:"endpoint" validate:"required,max=512"`
	Method   string `json:"method" validate:"required,method"`
}

// NoRuleID is reported when no rule matched a simulated request.
const NoRuleID = "none"

// UnlimitedRemaining is reported as remaining requests when no rule matched.
const UnlimitedRemaining int64 = -1

// SimulateResult is the outcome of a simulated request.
type SimulateResult struct {
	Allowed           bool
	RemainingRequests int64
	ResetTime         time.Time
	RetryAfter        time.Duration
	RuleID            string
	RuleName          string
	Strategy          Strategy
}

// ExportVersion is the export document format version.
const ExportVersion = "1.0"

// ExportSnapshot is a read-only backup of all rules.
type ExportSnapshot struct {
	Rules      []*Rule   `json:"rules"`
	ExportedAt time.Time `json:"exportedAt"`
	Version    string    `json:"version"`
}

func cloneRule(rule *Rule) *Rule {
	if rule == nil {
		return nil
	}
	clone := *rule
	return &clone
}
