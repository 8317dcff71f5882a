package core_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"ratelimiter/internal/ratelimit/core"
	"ratelimiter/internal/ratelimit/observability"
)

func TestAdminHandler_ExportConfig(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	first := h.createRule(t, draft("first", "/1", 1, 1000))
	h.clock.Advance(time.Second)
	second := h.createRule(t, draft("second", "/2", 2, 2000))
	h.clock.Advance(time.Second)

	snapshot, err := h.admin.ExportConfig(ctx)
	require.NoError(t, err)
	require.Equal(t, core.ExportVersion, snapshot.Version)
	require.True(t, snapshot.ExportedAt.Equal(epoch.Add(2*time.Second)))
	require.Len(t, snapshot.Rules, 2)
	require.Equal(t, second.ID, snapshot.Rules[0].ID)
	require.Equal(t, first.ID, snapshot.Rules[1].ID)

	empty := newHarness(t)
	snapshot, err = empty.admin.ExportConfig(ctx)
	require.NoError(t, err)
	require.NotNil(t, snapshot.Rules)
	require.Empty(t, snapshot.Rules)
}

func TestAdminHandler_MissingRules(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	_, err := h.admin.GetRule(ctx, "missing")
	requireCode(t, err, core.CodeNotFound)
	_, err = h.admin.GetStats(ctx, "missing")
	requireCode(t, err, core.CodeNotFound)
	requireCode(t, h.admin.ResetStats(ctx, "missing"), core.CodeNotFound)
	requireCode(t, h.admin.DeleteRule(ctx, "missing"), core.CodeNotFound)
	_, err = h.admin.UpdateRule(ctx, "missing", &core.RulePatch{})
	requireCode(t, err, core.CodeNotFound)
}

func TestAdminHandler_ListAndResetAllStats(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	a := h.createRule(t, draft("a", "/a", 5, 60_000))
	h.clock.Advance(time.Second)
	b := h.createRule(t, draft("b", "/b", 5, 60_000))
	h.simulate(t, "c", "/a", "GET")
	h.simulate(t, "c", "/b", "GET")
	h.simulate(t, "c", "/b", "GET")

	all, err := h.admin.ListStats(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, b.ID, all[0].RuleID)
	require.Equal(t, int64(2), all[0].TotalRequests)
	require.Equal(t, a.ID, all[1].RuleID)
	require.Equal(t, int64(1), all[1].TotalRequests)

	require.NoError(t, h.admin.ResetAllStats(ctx))
	all, err = h.admin.ListStats(ctx)
	require.NoError(t, err)
	for _, stats := range all {
		require.Zero(t, stats.TotalRequests)
		require.NotNil(t, stats.LastResetAt)
	}
}

func TestAdminHandler_RecordsMetricsAndSpans(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	metrics := observability.NewPrometheusMetrics("admin_test")
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	simulator := core.NewSimulator(h.registry, nil, h.engine, h.stats, metrics, h.clock.Now)
	admin := core.NewAdminHandler(h.registry, h.stats, simulator, observability.NewOTelTracer(provider, "test"), metrics)

	rule, err := admin.CreateRule(ctx, draft("traced", "/traced", 1, 60_000))
	require.NoError(t, err)
	_, err = admin.UpdateRule(ctx, rule.ID, &core.RulePatch{Limit: ptr(int64(2))})
	require.NoError(t, err)
	_, err = admin.CreateRule(ctx, draft("TRACED", "/dup", 1, 60_000))
	requireCode(t, err, core.CodeConflict)
	_, err = admin.Simulate(ctx, &core.SimulateRequest{ClientID: "c", Endpoint: "/traced", Method: "GET"})
	require.NoError(t, err)
	require.NoError(t, admin.DeleteRule(ctx, rule.ID))

	expected := `
# HELP admin_test_rule_mutations_total Rule registry mutations by action
# TYPE admin_test_rule_mutations_total counter
admin_test_rule_mutations_total{action="create"} 1
admin_test_rule_mutations_total{action="delete"} 1
admin_test_rule_mutations_total{action="update"} 1
`
	require.NoError(t, testutil.GatherAndCompare(metrics.Registry(), strings.NewReader(expected), "admin_test_rule_mutations_total"))

	expected = `
# HELP admin_test_decisions_total Simulated request decisions by result and strategy
# TYPE admin_test_decisions_total counter
admin_test_decisions_total{result="allowed",strategy="fixed-window"} 1
`
	require.NoError(t, testutil.GatherAndCompare(metrics.Registry(), strings.NewReader(expected), "admin_test_decisions_total"))

	spans := recorder.Ended()
	names := make([]string, len(spans))
	for i, span := range spans {
		names[i] = span.Name()
	}
	require.Equal(t, []string{"admin.createRule", "admin.updateRule", "admin.createRule", "admin.simulate", "admin.deleteRule"}, names)

	failed := spans[2]
	require.Equal(t, otelcodes.Error, failed.Status().Code)
	require.Contains(t, failed.Attributes(), attribute.String("error.code", string(core.CodeConflict)))
	require.Equal(t, otelcodes.Unset, spans[0].Status().Code)
}

func TestAdminHandler_Unconfigured(t *testing.T) {
	t.Parallel()

	var admin *core.AdminHandler
	_, err := admin.ListRules(context.Background())
	require.Error(t, err)
	_, err = admin.Simulate(context.Background(), &core.SimulateRequest{})
	require.Error(t, err)

	admin = core.NewAdminHandler(nil, nil, nil, nil, nil)
	_, err = admin.ExportConfig(context.Background())
	require.Error(t, err)
}
