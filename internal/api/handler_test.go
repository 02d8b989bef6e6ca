package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/querygate/querygate/internal/auth"
	"github.com/querygate/querygate/internal/config"
	"github.com/querygate/querygate/internal/patterns"
	"github.com/querygate/querygate/internal/pipeline"
	"github.com/querygate/querygate/internal/safety"
	"github.com/querygate/querygate/internal/schema"
	"github.com/querygate/querygate/internal/session"
)

func TestHealthEndpoint(t *testing.T) {
	cfg := loadConfig(t, nil)

	h := NewHandler(cfg, Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["service"] != "querygate-api" {
		t.Fatalf("service = %v", body["service"])
	}
}

func TestReadyEndpointReturns503WhenDependencyFails(t *testing.T) {
	cfg := loadConfig(t, nil)

	h := NewHandler(cfg, Dependencies{
		Readiness: CheckPing("query source", failingPinger{}),
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if !strings.Contains(body["message"].(string), "query source is not reachable") {
		t.Fatalf("message = %v", body["message"])
	}
}

func TestProtectedRouteRequiresAnalyst(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"QUERYGATE_AUTH_REQUIRED": "true"})
	validator, err := auth.NewStaticAPIKeyValidator("k1:alice:analyst,k2:victor:viewer")
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}

	h := NewHandler(cfg, Dependencies{
		AuthMiddleware: auth.Middleware(nil, validator),
		Sessions:       session.NewManager(5, nil),
	})

	cases := []struct {
		key  string
		want int
	}{
		{"", http.StatusUnauthorized},
		{"k2", http.StatusForbidden},
		{"k1", http.StatusNotFound},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/v1/sessions/unknown/turns", nil)
		if tc.key != "" {
			req.Header.Set("X-API-Key", tc.key)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != tc.want {
			t.Fatalf("key %q status = %d, want %d", tc.key, rr.Code, tc.want)
		}
	}

	health := httptest.NewRecorder()
	h.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	if health.Code != http.StatusOK {
		t.Fatalf("health should stay public, status = %d", health.Code)
	}
}

func TestAuthRequiredWithoutMiddlewareFailsClosed(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"QUERYGATE_AUTH_REQUIRED": "true"})
	h := NewHandler(cfg, Dependencies{Sessions: session.NewManager(5, nil)})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/sessions/s1/turns", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestCombineReadinessChecksStopsOnFirstFailure(t *testing.T) {
	order := make([]int, 0, 3)
	combined := CombineReadinessChecks(
		func(_ context.Context) error {
			order = append(order, 1)
			return nil
		},
		nil,
		func(_ context.Context) error {
			order = append(order, 2)
			return errors.New("boom")
		},
		func(_ context.Context) error {
			order = append(order, 3)
			return nil
		},
	)

	if err := combined(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("execution order = %#v", order)
	}
}

func TestMetricsSnapshotEndpoint(t *testing.T) {
	cfg := loadConfig(t, nil)
	h := NewHandler(cfg, Dependencies{Metrics: pipeline.NewMetrics(8)})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/metrics/snapshot", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if _, ok := body["requests_total"]; !ok {
		t.Fatalf("snapshot missing requests_total: %v", body)
	}
	if _, ok := body["stage_executing_latency_ms_p95"]; !ok {
		t.Fatalf("snapshot missing stage latency: %v", body)
	}
}

func TestSchemaEndpoints(t *testing.T) {
	cfg := loadConfig(t, nil)
	source := &fakeSource{tables: []schema.Table{{Name: "orders", Columns: []schema.Column{{Name: "order_id", Type: "INTEGER"}}}}}
	h := NewHandler(cfg, Dependencies{Schemas: schema.NewCache(), Source: source})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/schema", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("GET status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var descriptor schema.Descriptor
	if err := json.Unmarshal(rr.Body.Bytes(), &descriptor); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if len(descriptor.Tables) != 1 || descriptor.Tables[0].Name != "orders" {
		t.Fatalf("tables = %#v", descriptor.Tables)
	}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/schema", nil))
	if source.calls != 1 {
		t.Fatalf("source calls = %d, want cached", source.calls)
	}

	refresh := httptest.NewRecorder()
	h.ServeHTTP(refresh, httptest.NewRequest(http.MethodPost, "/v1/schema/refresh", nil))
	if refresh.Code != http.StatusOK || source.calls != 2 {
		t.Fatalf("refresh status = %d, calls = %d", refresh.Code, source.calls)
	}

	source.err = errors.New("source offline")
	failed := httptest.NewRecorder()
	h.ServeHTTP(failed, httptest.NewRequest(http.MethodPost, "/v1/schema/refresh", nil))
	if failed.Code != http.StatusServiceUnavailable {
		t.Fatalf("failed refresh status = %d", failed.Code)
	}
}

func TestSchemaUnavailable(t *testing.T) {
	cfg := loadConfig(t, nil)
	h := NewHandler(cfg, Dependencies{Schemas: schema.NewCache(), Source: &fakeSource{err: errors.New("down")}})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/schema", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["retryable"] != true {
		t.Fatalf("retryable = %v", body["retryable"])
	}
}

func TestSessionEndpoints(t *testing.T) {
	cfg := loadConfig(t, nil)
	sessions := session.NewManager(5, nil)
	sessionCtx := sessions.GetOrCreate("s1")
	for _, question := range []string{"first", "second", "third"} {
		sessionCtx.Append(session.Turn{SessionID: "s1", Request: question})
	}
	h := NewHandler(cfg, Dependencies{Sessions: sessions})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/sessions/s1/turns?n=2", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var body struct {
		SessionID string         `json:"session_id"`
		Turns     []session.Turn `json:"turns"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if len(body.Turns) != 2 || body.Turns[0].Request != "second" || body.Turns[1].Request != "third" {
		t.Fatalf("turns = %#v", body.Turns)
	}

	bad := httptest.NewRecorder()
	h.ServeHTTP(bad, httptest.NewRequest(http.MethodGet, "/v1/sessions/s1/turns?n=x", nil))
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("bad n status = %d", bad.Code)
	}

	closed := httptest.NewRecorder()
	h.ServeHTTP(closed, httptest.NewRequest(http.MethodDelete, "/v1/sessions/s1", nil))
	if closed.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", closed.Code)
	}
	again := httptest.NewRecorder()
	h.ServeHTTP(again, httptest.NewRequest(http.MethodDelete, "/v1/sessions/s1", nil))
	if again.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", again.Code)
	}
}

func TestPatternEndpoints(t *testing.T) {
	cfg := loadConfig(t, nil)
	store := &fakePatternStore{entries: map[string]patterns.Pattern{
		"top customers": {Key: "top customers", Query: "SELECT name FROM customers", Success: true, UsageCount: 4},
	}}
	h := NewHandler(cfg, Dependencies{Patterns: store})

	top := httptest.NewRecorder()
	h.ServeHTTP(top, httptest.NewRequest(http.MethodGet, "/v1/patterns?k=5", nil))
	if top.Code != http.StatusOK || store.lastK != 5 {
		t.Fatalf("top status = %d, k = %d", top.Code, store.lastK)
	}

	invalid := httptest.NewRecorder()
	h.ServeHTTP(invalid, httptest.NewRequest(http.MethodGet, "/v1/patterns?k=1000", nil))
	if invalid.Code != http.StatusBadRequest {
		t.Fatalf("invalid k status = %d", invalid.Code)
	}

	found := httptest.NewRecorder()
	h.ServeHTTP(found, httptest.NewRequest(http.MethodGet, "/v1/patterns/lookup?q=Top+Customers%3F", nil))
	if found.Code != http.StatusOK {
		t.Fatalf("lookup status = %d, body = %s", found.Code, found.Body.String())
	}
	body := decodeBody(t, found)
	if body["query"] != "SELECT name FROM customers" {
		t.Fatalf("query = %v", body["query"])
	}

	missing := httptest.NewRecorder()
	h.ServeHTTP(missing, httptest.NewRequest(http.MethodGet, "/v1/patterns/lookup?q=unknown", nil))
	if missing.Code != http.StatusNotFound {
		t.Fatalf("missing status = %d", missing.Code)
	}

	blank := httptest.NewRecorder()
	h.ServeHTTP(blank, httptest.NewRequest(http.MethodGet, "/v1/patterns/lookup?q=++", nil))
	if blank.Code != http.StatusBadRequest {
		t.Fatalf("blank status = %d", blank.Code)
	}

	similar := httptest.NewRecorder()
	h.ServeHTTP(similar, httptest.NewRequest(http.MethodGet, "/v1/patterns/similar?q=best+customers", nil))
	if similar.Code != http.StatusOK || store.similarRequest != "best customers" || store.lastK != patterns.DefaultSimilarLimit {
		t.Fatalf("similar status = %d, request = %q, k = %d", similar.Code, store.similarRequest, store.lastK)
	}
	matches, ok := decodeBody(t, similar)["matches"].([]any)
	if !ok || len(matches) != 1 {
		t.Fatalf("matches = %v", decodeBody(t, similar)["matches"])
	}
	if score := matches[0].(map[string]any)["score"]; score != float64(1) {
		t.Fatalf("score = %v", score)
	}

	noQuestion := httptest.NewRecorder()
	h.ServeHTTP(noQuestion, httptest.NewRequest(http.MethodGet, "/v1/patterns/similar?q=%3F", nil))
	if noQuestion.Code != http.StatusBadRequest {
		t.Fatalf("similar without question status = %d", noQuestion.Code)
	}
}

func loadConfig(t *testing.T, values map[string]string) config.Config {
	t.Helper()
	if values == nil {
		values = map[string]string{}
	}
	cfg, err := config.Load("querygate-api", mapLookup(values))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	return cfg
}

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v, body = %s", err, rr.Body.String())
	}
	return body
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

type fakeSource struct {
	tables []schema.Table
	err    error
	calls  int
}

func (s *fakeSource) DescribeSchema(context.Context) ([]schema.Table, error) {
	s.calls++
	return s.tables, s.err
}

type fakePatternStore struct {
	entries        map[string]patterns.Pattern
	lastK          int
	similarRequest string
}

func (s *fakePatternStore) Lookup(_ context.Context, key string) (patterns.Pattern, error) {
	pattern, ok := s.entries[key]
	if !ok {
		return patterns.Pattern{}, patterns.ErrNotFound
	}
	return pattern, nil
}

func (s *fakePatternStore) Record(context.Context, string, safety.ValidatedQuery, bool, time.Duration) (patterns.Pattern, error) {
	return patterns.Pattern{}, errors.New("not used")
}

func (s *fakePatternStore) TopPatterns(_ context.Context, k int) ([]patterns.Pattern, error) {
	s.lastK = k
	out := make([]patterns.Pattern, 0, len(s.entries))
	for _, pattern := range s.entries {
		out = append(out, pattern)
	}
	return out, nil
}

func (s *fakePatternStore) Similar(_ context.Context, request string, k int) ([]patterns.Match, error) {
	s.similarRequest = request
	s.lastK = k
	out := make([]patterns.Pattern, 0, len(s.entries))
	for _, pattern := range s.entries {
		out = append(out, pattern)
	}
	return patterns.RankSimilar(request, out, k), nil
}

func (s *fakePatternStore) Close() error { return nil }
