// Package grpctransport defines the RateLimiterService gRPC service.
package grpctransport

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "ratelimiter.v1.RateLimiterService"

// RateLimiterServer is the server API for RateLimiterService.
type RateLimiterServer interface {
	Simulate(context.Context, *SimulateRequest) (*SimulateResponse, error)
	ListRules(context.Context, *ListRulesRequest) (*ListRulesResponse, error)
	GetRule(context.Context, *GetRuleRequest) (*RuleResponse, error)
	CreateRule(context.Context, *CreateRuleRequest) (*RuleResponse, error)
	UpdateRule(context.Context, *UpdateRuleRequest) (*RuleResponse, error)
	DeleteRule(context.Context, *DeleteRuleRequest) (*Empty, error)
	GetStats(context.Context, *GetStatsRequest) (*StatsResponse, error)
	ListStats(context.Context, *ListStatsRequest) (*ListStatsResponse, error)
	ResetStats(context.Context, *ResetStatsRequest) (*Empty, error)
	ExportConfig(context.Context, *ExportConfigRequest) (*ExportConfigResponse, error)
}

// RegisterRateLimiterServer registers srv on s.
func RegisterRateLimiterServer(s grpc.ServiceRegistrar, srv RateLimiterServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RateLimiterServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Simulate", RateLimiterServer.Simulate),
		unaryMethod("ListRules", RateLimiterServer.ListRules),
		unaryMethod("GetRule", RateLimiterServer.GetRule),
		unaryMethod("CreateRule", RateLimiterServer.CreateRule),
		unaryMethod("UpdateRule", RateLimiterServer.UpdateRule),
		unaryMethod("DeleteRule", RateLimiterServer.DeleteRule),
		unaryMethod("GetStats", RateLimiterServer.GetStats),
		unaryMethod("ListStats", RateLimiterServer.ListStats),
		unaryMethod("ResetStats", RateLimiterServer.ResetStats),
		unaryMethod("ExportConfig", RateLimiterServer.ExportConfig),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ratelimiter/v1/ratelimiter.proto",
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func unaryMethod[Req, Resp any](name string, call func(RateLimiterServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			server := srv.(RateLimiterServer)
			if interceptor == nil {
				return call(server, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(server, ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}
