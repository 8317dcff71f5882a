// Package grpctransport defines gRPC request and response messages.
package grpctransport

import (
	"time"

	"ratelimiter/internal/ratelimit/core"
)

type SimulateRequest struct {
	ClientID string `json:"clientId"`
	Endpoint string `json:"endpoint"`
	Method   string `json:"method"`
}

type SimulateResponse struct {
	Allowed           bool       `json:"allowed"`
	RemainingRequests int64      `json:"remainingRequests"`
	ResetTime         *time.Time `json:"resetTime,omitempty"`
	RetryAfterMs      int64      `json:"retryAfterMs"`
	RuleID            string     `json:"ruleId"`
	RuleName          string     `json:"ruleName,omitempty"`
	Strategy          string     `json:"strategy,omitempty"`
}

type ListRulesRequest struct{}

type ListRulesResponse struct {
	Rules []*core.Rule `json:"rules"`
}

type GetRuleRequest struct {
	ID string `json:"id"`
}

type CreateRuleRequest struct {
	Rule core.RuleDraft `json:"rule"`
}

type UpdateRuleRequest struct {
	ID    string         `json:"id"`
	Patch core.RulePatch `json:"patch"`
}

type RuleResponse struct {
	Rule *core.Rule `json:"rule"`
}

type DeleteRuleRequest struct {
	ID string `json:"id"`
}

type GetStatsRequest struct {
	RuleID string `json:"ruleId"`
}

type StatsResponse struct {
	Stats *core.Stats `json:"stats"`
}

type ListStatsRequest struct{}

type ListStatsResponse struct {
	Stats []*core.Stats `json:"stats"`
}

// ResetStatsRequest resets one rule, or every rule when RuleID is empty.
type ResetStatsRequest struct {
	RuleID string `json:"ruleId,omitempty"`
}

type ExportConfigRequest struct{}

type ExportConfigResponse struct {
	Rules      []*core.Rule `json:"rules"`
	ExportedAt time.Time    `json:"exportedAt"`
	Version    string       `json:"version"`
}

type Empty struct{}

func toSimulateResponse(result *core.SimulateResult) *SimulateResponse {
	resp := &SimulateResponse{
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
