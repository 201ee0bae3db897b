// Copyright (c) 2026 QueryGate. All rights reserved.

package gateway_test

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querygate/querygate/internal/gateway"
	"github.com/querygate/querygate/internal/platform/config"
	"github.com/querygate/querygate/internal/platform/metrics"
	"github.com/querygate/querygate/internal/pool"
)

func newTestServer(t *testing.T, serverConfig config.ServerConfig) *gateway.Server {
	t.Helper()
	cfg := &config.Config{Server: serverConfig}
	if cfg.Server.MCPPath == "" {
		cfg.Server.MCPPath = "/mcp"
	}

	registry := prometheus.NewRegistry()
	metrics.New(registry)
	pools := pool.NewManager(slog.Default())
	return gateway.NewServer(cfg, nil, nil, pools, registry, slog.Default())
}

/*
TestHealthz verifies the probe shape: with no configured databases the
gateway itself is healthy.
*/
func TestHealthz(t *testing.T) {
	server := newTestServer(t, config.ServerConfig{})

	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, recorder.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

/*
TestMetricsEndpoint verifies that the injected registry is exposed in
Prometheus text format.
*/
func TestMetricsEndpoint(t *testing.T) {
	server := newTestServer(t, config.ServerConfig{})

	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "querygate_audit_dropped_total")
}

/*
TestBearerAuth verifies that a configured token gates the MCP endpoint and
leaves the operational endpoints open.
*/
func TestBearerAuth(t *testing.T) {
	server := newTestServer(t, config.ServerConfig{AuthBearer: "sekrit"})

	// No token.
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/mcp", nil))
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)

	// Wrong token.
	recorder = httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	request.Header.Set("Authorization", "Bearer wrong")
	server.Handler().ServeHTTP(recorder, request)
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)

	// Probes stay open.
	recorder = httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, recorder.Code)
}
