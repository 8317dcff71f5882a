// Package core defines service interfaces.
package core

import "context"

// SimulatorService evaluates synthetic client requests.
type SimulatorService interface {
	Simulate(ctx context.Context, req *SimulateRequest) (*SimulateResult, error)
}

// AdminService manages rules, statistics and exports.
type AdminService interface {
	CreateRule(ctx context.Context, draft *RuleDraft) (*Rule, error)
	UpdateRule(ctx context.Context, id string, patch *RulePatch) (*Rule, error)
	DeleteRule(ctx context.Context, id string) error
	GetRule(ctx context.Context, id string) (*Rule, error)
	ListRules(ctx context.Context) ([]*Rule, error)
	GetStats(ctx context.Context, ruleID string) (*Stats, error)
	ListStats(ctx context.Context) ([]*Stats, error)
	ResetStats(ctx context.Context, ruleID string) error
	ResetAllStats(ctx context.Context) error
	ExportConfig(ctx context.Context) (*ExportSnapshot, error)
}

// RuleLister enumerates rules for matching.
type RuleLister interface {
	List(ctx context.Context) ([]*Rule, error)
}

// Transport exposes services over a transport layer.
type Transport interface {
	ServeSimulator(service SimulatorService) error
	ServeAdmin(service AdminService) error
	Shutdown(ctx context.Context) error
}
