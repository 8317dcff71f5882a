package httptransport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ratelimiter/internal/ratelimit/app"
	"ratelimiter/internal/ratelimit/config"
	"ratelimiter/internal/ratelimit/observability"
	"ratelimiter/internal/ratelimit/store/inmemory"
	httptransport "ratelimiter/internal/ratelimit/transport/http"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field"`
}

type testServer struct {
	*httptest.Server
	app   *app.Application
	store *inmemory.InMemoryStore
}

func newHTTPTestServer(t *testing.T, ping func(context.Context) error) *testServer {
	t.Helper()

	store := inmemory.NewInMemoryStore(nil)
	cfg := config.Default()
	cfg.HTTP.Enabled = false
	application, err := app.NewApplication(context.Background(), cfg, app.Dependencies{
		Logger: observability.NopLogger{},
		Store:  store,
	})
	if err != nil {
		t.Fatalf("failed to build application: %v", err)
	}

	transport := httptransport.NewHTTPTransport("", func() bool { return true })
	if err := transport.ServeSimulator(application.AdminHandler); err != nil {
		t.Fatalf("failed to register simulator: %v", err)
	}
	if err := transport.ServeAdmin(application.AdminHandler); err != nil {
		t.Fatalf("failed to register admin: %v", err)
	}
	if ping == nil {
		ping = application.Store.Ping
	}
	transport.Configure(httptransport.HTTPTransportConfig{
		RequestTimeout: time.Second,
		MaxBodyBytes:   1024,
		Logger:         observability.NopLogger{},
		Metrics:        application.Metrics,
		MetricsHandler: application.Metrics.Handler(),
		Ping:           ping,
	})
	handler, err := transport.Handler()
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &testServer{Server: server, app: application, store: store}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(v)
	default:
		payload, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return out
}

func ptr[T any](v T) *T { return &v }

func createRule(t *testing.T, s *testServer, req httptransport.HTTPRuleRequest) httptransport.HTTPRuleResponse {
	t.Helper()
	resp := s.do(t, http.MethodPost, "/v1/rules", req)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected status 201 got %d: %+v", resp.StatusCode, decode[errorBody](t, resp))
	}
	return decode[httptransport.HTTPRuleResponse](t, resp)
}

func simulate(t *testing.T, s *testServer, client, endpoint, method string) httptransport.HTTPSimulateResponse {
	t.Helper()
	resp := s.do(t, http.MethodPost, "/v1/simulate", httptransport.HTTPSimulateRequest{
		ClientID: client,
		Endpoint: endpoint,
		Method:   method,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 got %d: %+v", resp.StatusCode, decode[errorBody](t, resp))
	}
	return decode[httptransport.HTTPSimulateResponse](t, resp)
}

func TestHTTP_Rules_CreateGetUpdateDelete(t *testing.T) {
	t.Parallel()

	s := newHTTPTestServer(t, nil)
	created := createRule(t, s, httptransport.HTTPRuleRequest{
		Name:     ptr("api"),
		Endpoint: ptr("/api/users"),
		Limit:    ptr(int64(5)),
		WindowMs: ptr(int64(60000)),
	})
	require.NotEmpty(t, created.ID)
	require.Equal(t, "ALL", created.Method)
	require.Equal(t, "fixed-window", created.Strategy)
	require.True(t, created.Enabled)

	resp := s.do(t, http.MethodGet, "/v1/rules/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, created.ID, decode[httptransport.HTTPRuleResponse](t, resp).ID)

	resp = s.do(t, http.MethodPatch, "/v1/rules/"+created.ID, httptransport.HTTPRuleRequest{Limit: ptr(int64(9))})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[httptransport.HTTPRuleResponse](t, resp)
	require.Equal(t, int64(9), updated.Limit)
	require.Equal(t, "api", updated.Name)

	resp = s.do(t, http.MethodGet, "/v1/rules", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, decode[[]httptransport.HTTPRuleResponse](t, resp), 1)

	resp = s.do(t, http.MethodDelete, "/v1/rules/"+created.ID, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/v1/rules/"+created.ID, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "NOT_FOUND", decode[errorBody](t, resp).Code)

	resp = s.do(t, http.MethodGet, "/v1/stats/"+created.ID, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTP_Rules_ValidationAndConflict(t *testing.T) {
	t.Parallel()

	s := newHTTPTestServer(t, nil)
	createRule(t, s, httptransport.HTTPRuleRequest{
		Name:     ptr("dup"),
		Endpoint: ptr("/a"),
		Limit:    ptr(int64(1)),
		WindowMs: ptr(int64(1000)),
	})

	resp := s.do(t, http.MethodPost, "/v1/rules", httptransport.HTTPRuleRequest{
		Name:     ptr("DUP"),
		Endpoint: ptr("/b"),
		Limit:    ptr(int64(1)),
		WindowMs: ptr(int64(1000)),
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "CONFLICT", decode[errorBody](t, resp).Code)

	resp = s.do(t, http.MethodPost, "/v1/rules", httptransport.HTTPRuleRequest{
		Name:     ptr("zero"),
		Endpoint: ptr("/z"),
		Limit:    ptr(int64(0)),
		WindowMs: ptr(int64(1000)),
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[errorBody](t, resp)
	require.Equal(t, "VALIDATION_ERROR", body.Code)
	require.Equal(t, "limit", body.Field)

	resp = s.do(t, http.MethodPost, "/v1/rules", `{"name":"x","endpoint":"/x","limit":1,"windowMs":1,"burst":3}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "body", decode[errorBody](t, resp).Field)

	resp = s.do(t, http.MethodPost, "/v1/rules", `{"name":"x"} {"name":"y"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/v1/rules", `{"name":"`+strings.Repeat("a", 2048)+`"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, decode[errorBody](t, resp).Error, "size limit")
}

func TestHTTP_Simulate_AllowThenBlock(t *testing.T) {
	t.Parallel()

	s := newHTTPTestServer(t, nil)
	rule := createRule(t, s, httptransport.HTTPRuleRequest{
		Name:     ptr("t1"),
		Endpoint: ptr("/api/x"),
		Method:   ptr("ALL"),
		Limit:    ptr(int64(2)),
		WindowMs: ptr(int64(60000)),
	})

	first := simulate(t, s, "c1", "/api/x", "GET")
	second := simulate(t, s, "c1", "/api/x", "GET")
	third := simulate(t, s, "c1", "/api/x", "GET")
	require.True(t, first.Allowed)
	require.Equal(t, int64(1), first.RemainingRequests)
	require.True(t, second.Allowed)
	require.False(t, third.Allowed)
	require.Equal(t, int64(0), third.RemainingRequests)
	require.Equal(t, rule.ID, third.RuleID)
	require.NotNil(t, third.ResetTime)
	require.Positive(t, third.RetryAfterMs)

	other := simulate(t, s, "c2", "/api/x", "GET")
	require.True(t, other.Allowed)

	resp := s.do(t, http.MethodGet, "/v1/stats/"+rule.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decode[map[string]any](t, resp)
	require.EqualValues(t, 4, stats["totalRequests"])
	require.EqualValues(t, 3, stats["allowedRequests"])
	require.EqualValues(t, 1, stats["blockedRequests"])
}

func TestHTTP_Simulate_NoRuleAndValidation(t *testing.T) {
	t.Parallel()

	s := newHTTPTestServer(t, nil)
	result := simulate(t, s, "c1", "/unmatched", "GET")
	require.True(t, result.Allowed)
	require.Equal(t, "none", result.RuleID)
	require.Equal(t, int64(-1), result.RemainingRequests)
	require.Nil(t, result.ResetTime)

	resp := s.do(t, http.MethodPost, "/v1/simulate", httptransport.HTTPSimulateRequest{
		ClientID: "c1",
		Endpoint: "/x",
		Method:   "TRACE",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "method", decode[errorBody](t, resp).Field)
}

func TestHTTP_Stats_ResetAndExport(t *testing.T) {
	t.Parallel()

	s := newHTTPTestServer(t, nil)
	rule := createRule(t, s, httptransport.HTTPRuleRequest{
		Name:     ptr("reset"),
		Endpoint: ptr("/r"),
		Limit:    ptr(int64(1)),
		WindowMs: ptr(int64(60000)),
	})
	simulate(t, s, "c", "/r", "GET")
	blocked := simulate(t, s, "c", "/r", "GET")
	require.False(t, blocked.Allowed)

	resp := s.do(t, http.MethodPost, "/v1/stats/"+rule.ID+"/reset", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, map[string]bool{"success": true}, decode[map[string]bool](t, resp))

	resp = s.do(t, http.MethodGet, "/v1/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	all := decode[[]map[string]any](t, resp)
	require.Len(t, all, 1)
	require.EqualValues(t, 0, all[0]["totalRequests"])

	// The window counter survives a stats reset.
	require.False(t, simulate(t, s, "c", "/r", "GET").Allowed)

	resp = s.do(t, http.MethodPost, "/v1/stats/reset", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/v1/export", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")
	export := decode[httptransport.HTTPExportResponse](t, resp)
	require.Equal(t, "1.0", export.Version)
	require.Len(t, export.Rules, 1)
	require.Equal(t, rule.ID, export.Rules[0].ID)
}

func TestHTTP_HealthReadyMetrics(t *testing.T) {
	t.Parallel()

	s := newHTTPTestServer(t, nil)
	resp := s.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = s.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	simulate(t, s, "c", "/nothing", "GET")

	resp = s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(raw), `ratelimiter_decisions_total{result="allowed",strategy="none"} 1`)
	require.Contains(t, string(raw), "ratelimiter_operation_duration_seconds")
}

func TestHTTP_ReadyReportsStoreOutage(t *testing.T) {
	t.Parallel()

	s := newHTTPTestServer(t, func(context.Context) error { return errors.New("down") })
	resp := s.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, "store_unavailable", decode[map[string]string](t, resp)["status"])
}

func TestHTTP_StoreOutageMapsTo500(t *testing.T) {
	t.Parallel()

	s := newHTTPTestServer(t, nil)
	s.store.SetHealthy(false)
	resp := s.do(t, http.MethodGet, "/v1/rules", nil)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, "STORE_ERROR", decode[errorBody](t, resp).Code)
}
