// Package grpctransport provides a client for RateLimiterService.
package grpctransport

import (
	"context"

	"google.golang.org/grpc"
)

// Client calls RateLimiterService over an existing connection using the JSON codec.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps conn.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func invoke[Resp any](ctx context.Context, c *Client, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.conn.Invoke(ctx, fullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Simulate(ctx context.Context, in *SimulateRequest, opts ...grpc.CallOption) (*SimulateResponse, error) {
	return invoke[SimulateResponse](ctx, c, "Simulate", in, opts)
}

func (c *Client) ListRules(ctx context.Context, in *ListRulesRequest, opts ...grpc.CallOption) (*ListRulesResponse, error) {
	return invoke[ListRulesResponse](ctx, c, "ListRules", in, opts)
}

func (c *Client) GetRule(ctx context.Context, in *GetRuleRequest, opts ...grpc.CallOption) (*RuleResponse, error) {
	return invoke[RuleResponse](ctx, c, "GetRule", in, opts)
}

func (c *Client) CreateRule(ctx context.Context, in *CreateRuleRequest, opts ...grpc.CallOption) (*RuleResponse, error) {
	return invoke[RuleResponse](ctx, c, "CreateRule", in, opts)
}

func (c *Client) UpdateRule(ctx context.Context, in *UpdateRuleRequest, opts ...grpc.CallOption) (*RuleResponse, error) {
	return invoke[RuleResponse](ctx, c, "UpdateRule", in, opts)
}

func (c *Client) DeleteRule(ctx context.Context, in *DeleteRuleRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c, "DeleteRule", in, opts)
}

func (c *Client) GetStats(ctx context.Context, in *GetStatsRequest, opts ...grpc.CallOption) (*StatsResponse, error) {
	return invoke[StatsResponse](ctx, c, "GetStats", in, opts)
}

func (c *Client) ListStats(ctx context.Context, in *ListStatsRequest, opts ...grpc.CallOption) (*ListStatsResponse, error) {
	return invoke[ListStatsResponse](ctx, c, "ListStats", in, opts)
}

func (c *Client) ResetStats(ctx context.Context, in *ResetStatsRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c, "ResetStats", in, opts)
}

func (c *Client) ExportConfig(ctx context.Context, in *ExportConfigRequest, opts ...grpc.CallOption) (*ExportConfigResponse, error) {
	return invoke[ExportConfigResponse](ctx, c, "ExportConfig", in, opts)
}
