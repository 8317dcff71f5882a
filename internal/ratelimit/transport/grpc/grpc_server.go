// Package grpctransport adapts core services to the gRPC API.
package grpctransport

import (
	"context"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ratelimiter/internal/ratelimit/core"
)

type grpcServer struct {
	simulator core.SimulatorService
	admin     core.AdminService
}

var _ RateLimiterServer = (*grpcServer)(nil)

func (s *grpcServer) Simulate(ctx context.Context, req *SimulateRequest) (*SimulateResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "invalid request")
	}
	result, err := s.simulator.Simulate(ctx, &core.SimulateRequest{
		ClientID: req.ClientID,
		Endpoint: req.Endpoint,
		Method:   req.Method,
	})
	if err != nil {
		return nil, grpcError(err)
	}
	return toSimulateResponse(result), nil
}

func (s *grpcServer) ListRules(ctx context.Context, _ *ListRulesRequest) (*ListRulesResponse, error) {
	rules, err := s.admin.ListRules(ctx)
	if err != nil {
		return nil, grpcError(err)
	}
	return &ListRulesResponse{Rules: rules}, nil
}

func (s *grpcServer) GetRule(ctx context.Context, req *GetRuleRequest) (*RuleResponse, error) {
	if req == nil || strings.TrimSpace(req.ID) == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	rule, err := s.admin.GetRule(ctx, req.ID)
	if err != nil {
		return nil, grpcError(err)
	}
	return &RuleResponse{Rule: rule}, nil
}

func (s *grpcServer) CreateRule(ctx context.Context, req *CreateRuleRequest) (*RuleResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "invalid request")
	}
	rule, err := s.admin.CreateRule(ctx, &req.Rule)
	if err != nil {
		return nil, grpcError(err)
	}
	return &RuleResponse{Rule: rule}, nil
}

func (s *grpcServer) UpdateRule(ctx context.Context, req *UpdateRuleRequest) (*RuleResponse, error) {
	if req == nil || strings.TrimSpace(req.ID) == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	rule, err := s.admin.UpdateRule(ctx, req.ID, &req.Patch)
	if err != nil {
		return nil, grpcError(err)
	}
	return &RuleResponse{Rule: rule}, nil
}

func (s *grpcServer) DeleteRule(ctx context.Context, req *DeleteRuleRequest) (*Empty, error) {
	if req == nil || strings.TrimSpace(req.ID) == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	if err := s.admin.DeleteRule(ctx, req.ID); err != nil {
		return nil, grpcError(err)
	}
	return &Empty{}, nil
}

func (s *grpcServer) GetStats(ctx context.Context, req *GetStatsRequest) (*StatsResponse, error) {
	if req == nil || strings.TrimSpace(req.RuleID) == "" {
		return nil, status.Error(codes.InvalidArgument, "ruleId is required")
	}
	stats, err := s.admin.GetStats(ctx, req.RuleID)
	if err != nil {
		return nil, grpcError(err)
	}
	return &StatsResponse{Stats: stats}, nil
}

func (s *grpcServer) ListStats(ctx context.Context, _ *ListStatsRequest) (*ListStatsResponse, error) {
	stats, err := s.admin.ListStats(ctx)
	if err != nil {
		return nil, grpcError(err)
	}
	return &ListStatsResponse{Stats: stats}, nil
}

func (s *grpcServer) ResetStats(ctx context.Context, req *ResetStatsRequest) (*Empty, error) {
	var err error
	if req == nil || strings.TrimSpace(req.RuleID) == "" {
		err = s.admin.ResetAllStats(ctx)
	} else {
		err = s.admin.ResetStats(ctx, req.RuleID)
	}
	if err != nil {
		return nil, grpcError(err)
	}
	return &Empty{}, nil
}

func (s *grpcServer) ExportConfig(ctx context.Context, _ *ExportConfigRequest) (*ExportConfigResponse, error) {
	snapshot, err := s.admin.ExportConfig(ctx)
	if err != nil {
		return nil, grpcError(err)
	}
	return &ExportConfigResponse{
		Rules:      snapshot.Rules,
		ExportedAt: snapshot.ExportedAt,
		Version:    snapshot.Version,
	}, nil
}
