// Package httptransport provides HTTP transport models.
package httptransport

import (
	"time"

	"ratelimiter/internal/ratelimit/core"
)

// HTTPRuleRequest is the body of rule create and update calls. Omitted fields are nil.
type HTTPRuleRequest struct {
	Name     *string `json:"name,omitempty"`
	Endpoint *string `json:"endpoint,omitempty"`
	Method   *string `json:"method,omitempty"`
	Limit    *int64  `json:"limit,omitempty"`
	WindowMs *int64  `json:"windowMs,omitempty"`
	Strategy *string `json:"strategy,omitempty"`
	Enabled  *bool   `json:"enabled,omitempty"`
	Priority *int    `json:"priority,omitempty"`
}

type HTTPRuleResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Endpoint  string    `json:"endpoint"`
	Method    string    `json:"method"`
	Limit     int64     `json:"limit"`
	WindowMs  int64     `json:"windowMs"`
	Strategy  string    `json:"strategy"`
	Enabled   bool      `json:"enabled"`
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type HTTPSimulateRequest struct {
	ClientID string `json:"clientId"`
	Endpoint string `json:"endpoint"`
	Method   string `json:"method"`
}

type HTTPSimulateResponse struct {
	Allowed           bool       `json:"allowed"`
	RemainingRequests int64      `json:"remainingRequests"`
	ResetTime         *time.Time `json:"resetTime,omitempty"`
	RetryAfterMs      int64      `json:"retryAfterMs"`
	RuleID            string     `json:"ruleId"`
	RuleName          string     `json:"ruleName,omitempty"`
	Strategy          string     `json:"strategy,omitempty"`
}

type HTTPExportResponse struct {
	Rules      []HTTPRuleResponse `json:"rules"`
	ExportedAt time.Time          `json:"exportedAt"`
	Version    string             `json:"version"`
}

type httpErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Field string `json:"field,omitempty"`
}

func toRuleDraft(req HTTPRuleRequest) *core.RuleDraft {
	return &core.RuleDraft{
		Name:     req.Name,
		Endpoint: req.Endpoint,
		Method:   req.Method,
		Limit:    req.Limit,
		WindowMs: req.WindowMs,
		Strategy: req.Strategy,
		Enabled:  req.Enabled,
		Priority: req.Priority,
	}
}

func toRulePatch(req HTTPRuleRequest) *core.RulePatch {
	return &core.RulePatch{
		Name:     req.Name,
		Endpoint: req.Endpoint,
		Method:   req.Method,
		Limit:    req.Limit,
		WindowMs: req.WindowMs,
		Strategy: req.Strategy,
		Enabled:  req.Enabled,
		Priority: req.Priority,
	}
}

func fromRule(rule *core.Rule) HTTPRuleResponse {
	if rule == nil {
		return HTTPRuleResponse{}
	}
	return HTTPRuleResponse{
		ID:        rule.ID,
		Name:      rule.Name,
		Endpoint:  rule.Endpoint,
		Method:    string(rule.Method),
		Limit:     rule.Limit,
		WindowMs:  rule.WindowMs,
		Strategy:  string(rule.Strategy),
		Enabled:   rule.Enabled,
		Priority:  rule.Priority,
		CreatedAt: rule.CreatedAt,
		UpdatedAt: rule.UpdatedAt,
	}
}

func fromRules(rules []*core.Rule) []HTTPRuleResponse {
	out := make([]HTTPRuleResponse, len(rules))
	for i, rule := range rules {
		out[i] = fromRule(rule)
	}
	return out
}

func toSimulateRequest(req HTTPSimulateRequest) *core.SimulateRequest {
	return &core.SimulateRequest{
		ClientID: req.ClientID,
		Endpoint: req.Endpoint,
		Method:   req.Method,
	}
}

func fromSimulateResult(result *core.SimulateResult) HTTPSimulateResponse {
	resp := HTTPSimulateResponse{
		Allowed:           result.Allowed,
		RemainingRequests: result.RemainingRequests,
		RetryAfterMs:      result.RetryAfter.Milliseconds(),
		RuleID:            result.RuleID,
		RuleName:          result.RuleName,
		Strategy:          string(result.Strategy),
	}
	if !result.ResetTime.IsZero() {
		reset := result.ResetTime
		resp.ResetTime = &reset
	}
	return resp
}

func fromExport(snapshot *core.ExportSnapshot) HTTPExportResponse {
	return HTTPExportResponse{
		Rules:      fromRules(snapshot.Rules),
		ExportedAt: snapshot.ExportedAt,
		Version:    snapshot.Version,
	}
}
