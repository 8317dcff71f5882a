package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"ratelimiter/internal/ratelimit/config"
	"ratelimiter/internal/ratelimit/core"
	"ratelimiter/internal/ratelimit/observability"
	"ratelimiter/internal/ratelimit/store/inmemory"
	grpctransport "ratelimiter/internal/ratelimit/transport/grpc"
)

func shutdown(t *testing.T, app *Application) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, app.Shutdown(ctx))
}

func TestApplication_ServesHTTPAndGRPC(t *testing.T) {
	cfg := config.Default()
	cfg.HTTP.Addr = "localhost:0"
	cfg.GRPC.Enabled = true
	cfg.GRPC.Addr = "127.0.0.1:0"
	cfg.Trace.Exporter = "stdout"
	var traces bytes.Buffer

	app, err := NewApplication(context.Background(), cfg, Dependencies{
		Logger:      observability.NopLogger{},
		Store:       inmemory.NewInMemoryStore(nil),
		TraceOutput: &traces,
	})
	require.NoError(t, err)
	require.False(t, app.Ready())
	require.Empty(t, app.HTTPAddr())

	require.NoError(t, app.Start(context.Background()))
	require.True(t, app.Ready())
	require.NotEmpty(t, app.HTTPAddr())
	require.NotEmpty(t, app.GRPCAddr())

	base := "http://" + app.HTTPAddr()
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(base + path)
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	body := `{"name":"app","endpoint":"/app","limit":1,"windowMs":3600000}`
	resp, err := http.Post(base+"/v1/rules", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	var rule struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rule))
	_ = resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	conn, err := grpc.NewClient(app.GRPCAddr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := grpctransport.NewClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	first, err := client.Simulate(ctx, &grpctransport.SimulateRequest{ClientID: "c", Endpoint: "/app", Method: "GET"})
	require.NoError(t, err)
	require.True(t, first.Allowed)
	require.Equal(t, rule.ID, first.RuleID)

	resp, err = http.Post(base+"/v1/simulate", "application/json", strings.NewReader(`{"clientId":"c","endpoint":"/app","method":"GET"}`))
	require.NoError(t, err)
	var second struct {
		Allowed bool   `json:"allowed"`
		RuleID  string `json:"ruleId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&second))
	_ = resp.Body.Close()
	require.False(t, second.Allowed)
	require.Equal(t, rule.ID, second.RuleID)

	shutdown(t, app)
	require.False(t, app.Ready())
	require.Contains(t, traces.String(), "admin.createRule")
	require.Contains(t, traces.String(), "admin.simulate")
}

func TestApplication_RedisBackend(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.HTTP.Enabled = false
	cfg.Metrics.Enabled = false
	cfg.Store.Backend = "redis"
	cfg.Redis.Addr = mr.Addr()

	app, err := NewApplication(context.Background(), cfg, Dependencies{Logger: observability.NopLogger{}})
	require.NoError(t, err)
	require.NoError(t, app.Start(context.Background()))
	defer shutdown(t, app)

	ctx := context.Background()
	name, endpoint := "redis-app", "/redis"
	limit, window := int64(5), int64(3_600_000)
	rule, err := app.AdminHandler.CreateRule(ctx, &core.RuleDraft{Name: &name, Endpoint: &endpoint, Limit: &limit, WindowMs: &window})
	require.NoError(t, err)

	result, err := app.AdminHandler.Simulate(ctx, &core.SimulateRequest{ClientID: "c", Endpoint: "/redis", Method: "GET"})
	require.NoError(t, err)
	require.True(t, result.Allowed)
	require.Equal(t, rule.ID, result.RuleID)

	keys := mr.Keys()
	require.Contains(t, keys, app.KeyBuilder.Rule(rule.ID))
	require.Contains(t, keys, app.KeyBuilder.Stats(rule.ID))
}

func TestApplication_ConfigErrors(t *testing.T) {
	t.Parallel()

	_, err := NewApplication(context.Background(), nil, Dependencies{})
	require.Error(t, err)

	cfg := config.Default()
	cfg.Store.Backend = "redis"
	cfg.Redis.Addr = ""
	_, err = NewApplication(context.Background(), cfg, Dependencies{Logger: observability.NopLogger{}})
	require.Error(t, err)

	cfg = config.Default()
	cfg.GRPC.Enabled = true
	cfg.GRPC.Addr = cfg.HTTP.Addr
	_, err = NewApplication(context.Background(), cfg, Dependencies{Logger: observability.NopLogger{}})
	require.Error(t, err)
}

func TestApplication_ReleasesTracingWhenStoreIsUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := config.Default()
	cfg.Store.Backend = "redis"
	cfg.Redis.Addr = addr
	cfg.Redis.MaxRetries = -1
	cfg.Redis.DialTimeout = 200 * time.Millisecond
	cfg.Trace.Exporter = "stdout"
	var traces bytes.Buffer

	_, err := NewApplication(context.Background(), cfg, Dependencies{Logger: observability.NopLogger{}, TraceOutput: &traces})
	require.Error(t, err)

	_, span := otel.Tracer("app-test").Start(context.Background(), "after-failure")
	defer span.End()
	require.False(t, span.IsRecording())
}

func TestApplication_StartFailsOnStoreOutage(t *testing.T) {
	t.Parallel()

	store := inmemory.NewInMemoryStore(nil)
	cfg := config.Default()
	cfg.HTTP.Enabled = false
	cfg.Metrics.Enabled = false
	app, err := NewApplication(context.Background(), cfg, Dependencies{Logger: observability.NopLogger{}, Store: store})
	require.NoError(t, err)

	store.SetHealthy(false)
	require.Error(t, app.Start(context.Background()))
	require.False(t, app.Ready())
}

func TestChaos_Suite(t *testing.T) {
	t.Parallel()

	harness, err := NewChaosHarness()
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, RunChaos(ctx, harness))
	require.False(t, harness.App.Ready())
}

func TestChaos_RequiresHarness(t *testing.T) {
	t.Parallel()

	require.Error(t, RunChaos(context.Background(), nil))
	require.Error(t, RunChaos(context.Background(), &ChaosHarness{}))
}
