package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gwerr "github.com/YASSERRMD/naseejmesh/internal/errors"
	"github.com/YASSERRMD/naseejmesh/internal/metrics"
	"github.com/YASSERRMD/naseejmesh/internal/router"
	"github.com/YASSERRMD/naseejmesh/internal/security"
	"github.com/YASSERRMD/naseejmesh/internal/security/ratelimit"
	"github.com/YASSERRMD/naseejmesh/internal/security/waf"
	"github.com/YASSERRMD/naseejmesh/internal/transform"
)

// echoUpstream answers with the method, path and body it received.
func echoUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"method": r.Method,
			"path":   r.URL.Path,
			"body":   string(body),
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestPipeline(t *testing.T, routes []router.Route, scripts map[string]string) *Pipeline {
	t.Helper()

	h := router.NewHandle()
	h.Store(router.Build(routes))

	gate, err := security.NewGate(security.Config{
		WAF:       waf.DefaultConfig(),
		RateLimit: ratelimit.Config{RequestsPerWindow: 10_000, WindowSecs: 60},
	})
	if err != nil {
		t.Fatalf("gate: %v", err)
	}

	return &Pipeline{
		Routes: h,
		Gate:   gate,
		Engine: transform.NewEngine(transform.DefaultLimits),
		Transforms: func(id string) (string, error) {
			src, ok := scripts[id]
			if !ok {
				return "", fmt.Errorf("transform %s not found", id)
			}
			return src, nil
		},
		Dispatcher:  NewDispatcher(),
		Metrics:     metrics.New(),
		MaxBodySize: 1 << 20,
	}
}

func doRequest(t *testing.T, p *Pipeline, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, "http://gw"+path, rd)
	rec := httptest.NewRecorder()
	p.HTTPHandler().ServeHTTP(rec, req)
	return rec
}

func TestRoutingExactAndWildcard(t *testing.T) {
	users := echoUpstream(t)
	catch := echoUpstream(t)

	p := newTestPipeline(t, []router.Route{
		{ID: "U", Path: "/api/users", Upstream: users.URL, Active: true},
		{ID: "C", Path: "/api/*", Upstream: catch.URL, Active: true},
	}, nil)

	// Exact match goes to U.
	rec := doRequest(t, p, "GET", "/api/users", "")
	if rec.Code != 200 {
		t.Fatalf("exact: expected 200, got %d: %s", rec.Code, rec.Body)
	}

	// Wildcard catches deeper paths.
	rec = doRequest(t, p, "GET", "/api/orders/1", "")
	if rec.Code != 200 {
		t.Fatalf("wildcard: expected 200, got %d", rec.Code)
	}
	var out map[string]string
	json.Unmarshal(rec.Body.Bytes(), &out)
	if out["path"] != "/api/orders/1" {
		t.Errorf("path not forwarded: %+v", out)
	}

	// The wildcard boundary excludes the bare prefix.
	rec = doRequest(t, p, "GET", "/api", "")
	if rec.Code != 404 {
		t.Errorf("/api should be 404, got %d", rec.Code)
	}
}

func TestMethodGate(t *testing.T) {
	up := echoUpstream(t)
	p := newTestPipeline(t, []router.Route{
		{ID: "r", Path: "/api/x", Upstream: up.URL, Methods: []string{"GET"}, Active: true},
	}, nil)

	if rec := doRequest(t, p, "GET", "/api/x", ""); rec.Code != 200 {
		t.Errorf("GET should pass, got %d", rec.Code)
	}
	rec := doRequest(t, p, "DELETE", "/api/x", "")
	if rec.Code != 405 {
		t.Errorf("DELETE should be 405, got %d", rec.Code)
	}
}

func TestTransformOnRoute(t *testing.T) {
	up := echoUpstream(t)
	p := newTestPipeline(t, []router.Route{
		{ID: "w", Path: "/api/weather", Upstream: up.URL, Active: true, TransformID: "c2f"},
	}, map[string]string{
		"c2f": "payload.temp_f = payload.temp * 9 / 5 + 32",
	})

	rec := doRequest(t, p, "POST", "/api/weather", `{"temp": 20}`)
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}

	var echo map[string]string
	json.Unmarshal(rec.Body.Bytes(), &echo)
	var forwarded map[string]interface{}
	if err := json.Unmarshal([]byte(echo["body"]), &forwarded); err != nil {
		t.Fatalf("forwarded body not JSON: %v", err)
	}
	if forwarded["temp_f"] != float64(68) {
		t.Errorf("expected temp_f=68 forwarded upstream, got %v", forwarded["temp_f"])
	}
}

func TestTransformFailureIs500(t *testing.T) {
	up := echoUpstream(t)
	p := newTestPipeline(t, []router.Route{
		{ID: "r", Path: "/api/x", Upstream: up.URL, Active: true, TransformID: "boom"},
	}, map[string]string{
		"boom": `error("kaput")`,
	})

	rec := doRequest(t, p, "POST", "/api/x", `{}`)
	if rec.Code != 500 {
		t.Errorf("transform failure should be 500, got %d", rec.Code)
	}
}

func TestWafBlocksRequest(t *testing.T) {
	up := echoUpstream(t)
	p := newTestPipeline(t, []router.Route{
		{ID: "r", Path: "/api/x", Upstream: up.URL, Active: true},
	}, nil)

	rec := doRequest(t, p, "POST", "/api/x", "SELECT id FROM t WHERE x=1 OR 1=1")
	if rec.Code != 403 {
		t.Errorf("injection should be 403, got %d", rec.Code)
	}
}

func TestRouteNotFound(t *testing.T) {
	p := newTestPipeline(t, nil, nil)
	rec := doRequest(t, p, "GET", "/nope", "")
	if rec.Code != 404 {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestPayloadTooLarge(t *testing.T) {
	up := echoUpstream(t)
	p := newTestPipeline(t, []router.Route{
		{ID: "r", Path: "/api/x", Upstream: up.URL, Active: true},
	}, nil)
	p.MaxBodySize = 8

	rec := doRequest(t, p, "POST", "/api/x", strings.Repeat("x", 64))
	if rec.Code != 413 {
		t.Errorf("expected 413, got %d", rec.Code)
	}
}

func TestUpstreamTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	t.Cleanup(slow.Close)

	p := newTestPipeline(t, []router.Route{
		{ID: "r", Path: "/api/slow", Upstream: slow.URL, Active: true, TimeoutMS: 50},
	}, nil)

	rec := doRequest(t, p, "GET", "/api/slow", "")
	if rec.Code != 504 {
		t.Errorf("expected 504, got %d", rec.Code)
	}
}

func TestUpstreamConnectFailure(t *testing.T) {
	p := newTestPipeline(t, []router.Route{
		{ID: "r", Path: "/api/x", Upstream: "http://127.0.0.1:1", Active: true, TimeoutMS: 1000},
	}, nil)

	rec := doRequest(t, p, "GET", "/api/x", "")
	if rec.Code != 502 {
		t.Errorf("expected 502, got %d", rec.Code)
	}
}

func TestUpstreamStatusPropagation(t *testing.T) {
	teapot := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	t.Cleanup(teapot.Close)
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(failing.Close)

	p := newTestPipeline(t, []router.Route{
		{ID: "t", Path: "/api/teapot", Upstream: teapot.URL, Active: true},
		{ID: "f", Path: "/api/fail", Upstream: failing.URL, Active: true},
	}, nil)

	// 4xx passes through untouched.
	if rec := doRequest(t, p, "GET", "/api/teapot", ""); rec.Code != http.StatusTeapot {
		t.Errorf("expected 418, got %d", rec.Code)
	}
	// 5xx classifies as an upstream status failure.
	if rec := doRequest(t, p, "GET", "/api/fail", ""); rec.Code != 500 {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestTraceparentPropagation(t *testing.T) {
	var seen string
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("Traceparent")
	}))
	t.Cleanup(up.Close)

	p := newTestPipeline(t, []router.Route{
		{ID: "r", Path: "/api/x", Upstream: up.URL, Active: true},
	}, nil)

	req := httptest.NewRequest("GET", "http://gw/api/x", nil)
	req.Header.Set("Traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	p.HTTPHandler().ServeHTTP(rec, req)

	if !strings.Contains(seen, "4bf92f3577b34da6a3ce929d0e0e4736") {
		t.Errorf("trace id not propagated upstream: %q", seen)
	}
	if !strings.Contains(rec.Header().Get("Traceparent"), "4bf92f3577b34da6a3ce929d0e0e4736") {
		t.Errorf("trace id not emitted on egress: %q", rec.Header().Get("Traceparent"))
	}
}

func TestReadiness(t *testing.T) {
	p := newTestPipeline(t, nil, nil)
	mux := p.AdminMux()

	// Empty table: not ready.
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/_gateway/ready", nil))
	if rec.Code != 503 {
		t.Errorf("empty table should be 503, got %d", rec.Code)
	}
	var out map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &out)
	if out["ready"] != false || out["routes_loaded"] != float64(0) {
		t.Errorf("unexpected readiness body: %+v", out)
	}

	// Loaded table: ready.
	p.Routes.Store(router.Build([]router.Route{
		{ID: "r", Path: "/x", Upstream: "http://up:80", Active: true},
	}))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/_gateway/ready", nil))
	if rec.Code != 200 {
		t.Errorf("loaded table should be 200, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	p := newTestPipeline(t, nil, nil)
	rec := httptest.NewRecorder()
	p.AdminMux().ServeHTTP(rec, httptest.NewRequest("GET", "/_gateway/health", nil))
	if rec.Code != 200 {
		t.Fatalf("health should be 200, got %d", rec.Code)
	}
	var out map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &out)
	if out["status"] != "healthy" {
		t.Errorf("unexpected health body: %+v", out)
	}
	if _, ok := out["version"].(string); !ok {
		t.Error("health must carry a version")
	}
}

func TestGatewayErrorShape(t *testing.T) {
	p := newTestPipeline(t, nil, nil)
	rec := doRequest(t, p, "GET", "/missing", "")

	if rec.Header().Get("X-Gateway-Error-Category") == "" {
		t.Error("error responses must carry the category header")
	}
	var out map[string]gwerr.GatewayError
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("error body not JSON: %v", err)
	}
	if out["error"].Code != 404 {
		t.Errorf("unexpected error body: %+v", out)
	}
}
