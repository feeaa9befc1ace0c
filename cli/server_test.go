package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gateway "github.com/adonese/bizpilot/apigateway"
	"github.com/adonese/bizpilot/cache"
	"github.com/adonese/bizpilot/fields"
	"github.com/adonese/bizpilot/store/storetest"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) fields.AppConfig {
	cfg := fields.AppConfig{
		UploadFolder: t.TempDir(),
		MLModelPath:  "../ml/models/model.json",
		OllamaHost:   "http://127.0.0.1:1",
	}
	cfg.Defaults()
	return cfg
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestServer(t *testing.T, cfg fields.AppConfig) *server {
	t.Helper()
	st := storetest.New(t)
	app, scheduler, err := buildApp(cfg, st, cache.Noop{}, quietLogger(), gateway.LogSamplingConfig{Tick: time.Second, After: time.Second})
	require.NoError(t, err)
	return &server{app: app, store: st, scheduler: scheduler}
}

func TestRoutes(t *testing.T) {
	srv := newTestServer(t, testConfig(t))
	got := map[string]bool{}
	for _, r := range getAllRoutes(srv.app) {
		got[r.Method+" "+r.Path] = true
	}
	for _, want := range []string{
		"GET /",
		"GET /chat",
		"GET /healthz",
		"GET /metrics",
		"POST /api/csv/upload",
		"GET /api/customers/metrics",
		"POST /api/email/send-custom",
		"POST /api/llm/chat",
		"POST /api/llm/chat/stream",
		"POST /api/ml/predict",
		"POST /api/business-automation/create",
		"PUT /api/notion/:story_id/token",
		"GET /api/reports/pdf",
		"POST /api/auth/token",
	} {
		assert.True(t, got[want], "missing route %s", want)
	}
}

func TestServerEndpoints(t *testing.T) {
	srv := newTestServer(t, testConfig(t))
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		want   string
	}{
		{"healthz", http.MethodGet, "/healthz", "", http.StatusOK, `"ok"`},
		{"index", http.MethodGet, "/", "", http.StatusOK, "<html"},
		{"unknown route", http.MethodGet, "/nope", "", http.StatusNotFound, `"code":"not_found"`},
		{"chat without prompt", http.MethodPost, "/api/llm/chat", `{}`, http.StatusBadRequest, "Missing 'prompt'"},
		{"predict", http.MethodPost, "/api/ml/predict", `{"features":[5.1,3.5,1.4,0.2]}`, http.StatusOK, "setosa"},
		{"report without data", http.MethodGet, "/api/reports/analytics", "", http.StatusNotFound, "No data available"},
		{"token needs admin", http.MethodPost, "/api/auth/token", `{"email":"a@b.co"}`, http.StatusServiceUnavailable, "admin_auth_not_configured"},
		{"bad jwt", http.MethodGet, "/api/customers", "", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			if tt.name == "bad jwt" {
				req.Header.Set("Authorization", "Bearer not-a-token")
			}
			res, err := srv.app.Test(req, -1)
			require.NoError(t, err)
			assert.Equal(t, tt.status, res.StatusCode)
			body, _ := io.ReadAll(res.Body)
			assert.Contains(t, string(body), tt.want)
			assert.NotEmpty(t, res.Header.Get("X-Request-ID"))
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, testConfig(t))
	_, err := srv.app.Test(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NoError(t, err)

	res, err := srv.app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	body, _ := io.ReadAll(res.Body)
	assert.Contains(t, string(body), "bizpilot_")
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestRunAcceptsConnections(t *testing.T) {
	srv := newTestServer(t, testConfig(t))
	addr := freeAddr(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.run(ctx, addr, quietLogger()) }()

	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRunFailsWhenPortTaken(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	srv := newTestServer(t, testConfig(t))
	err = srv.run(context.Background(), l.Addr().String(), quietLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen")
}
