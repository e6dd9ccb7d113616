package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"vodworks/internal/api"
	"vodworks/internal/config"
	"vodworks/internal/observability/metrics"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	handler := api.NewHandler(nil, nil, nil, nil, config.Config{}, discardLogger())
	srv, err := New(handler, Config{
		Addr:    "127.0.0.1:0",
		Logger:  discardLogger(),
		Metrics: metrics.New(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return srv
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHealthRoute(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatal(err)
	}
	if payload["ok"] != true {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestMetricsRoute(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "vodworks_") {
		t.Fatal("expected prometheus exposition output")
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("request id not generated")
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "caller-supplied")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-Id"); got != "caller-supplied" {
		t.Fatalf("caller request id not honored: %q", got)
	}
}

func TestMetricsPathCollapsesProxyKeys(t *testing.T) {
	cases := map[string]string{
		api.ProxyBasePath + "videos/courses/c1/intro/master.m3u8": api.ProxyBasePath,
		api.ProxyBasePath + "videos/v1/seg_000.ts":                api.ProxyBasePath,
		"/upload":  "/upload",
		"/health":  "/health",
		"/metrics": "/metrics",
	}
	for path, want := range cases {
		if got := metricsPath(api.ProxyBasePath, path); got != want {
			t.Fatalf("metricsPath(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestExtractClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "10.0.0.9:1234"
	if got := extractClientIP(req); got != "10.0.0.9" {
		t.Fatalf("remote addr ip = %q", got)
	}
	req.Header.Set("X-Real-IP", "203.0.113.7")
	if got := extractClientIP(req); got != "203.0.113.7" {
		t.Fatalf("x-real-ip = %q", got)
	}
	req.Header.Set("X-Forwarded-For", "198.51.100.4, 10.0.0.1")
	if got := extractClientIP(req); got != "198.51.100.4" {
		t.Fatalf("x-forwarded-for = %q", got)
	}
}

func TestMethodNotAllowedOnUpload(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/upload", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if rec.Header().Get("Allow") != "POST" {
		t.Fatalf("allow header %q", rec.Header().Get("Allow"))
	}
}
