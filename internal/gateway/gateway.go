// Copyright (c) 2026 QueryGate. All rights reserved.

/*
Package gateway wires the MCP server, the HTTP router, and the middleware
chain into a runnable [http.Server].

Architecture:

  - This package is the topmost transport boundary.
  - Tools and resources delegate straight to the orchestrator; no pipeline
    logic lives here.
  - Only this package and cmd/server are allowed to import net/http server
    primitives.
*/
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/querygate/querygate/internal/orchestrator"
	"github.com/querygate/querygate/internal/platform/config"
	"github.com/querygate/querygate/internal/platform/constants"
	"github.com/querygate/querygate/internal/platform/middleware"
	"github.com/querygate/querygate/internal/pool"
	"github.com/querygate/querygate/internal/schema"
)

// # Server Definitions

// SchemaSource supplies rendered snapshots for the schema resources.
type SchemaSource interface {
	Get(ctx context.Context, database string) (*schema.Snapshot, error)
}

// Server wraps the MCP server, the chi router, and the [http.Server].
//
// It is constructed once in main.go with all dependencies injected.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	mcpServer  *mcp.Server

	pipeline  *orchestrator.Orchestrator
	schemas   SchemaSource
	pools     *pool.Manager
	databases []string

	log *slog.Logger
}

// # Server Initialization

// NewServer constructs the router with the full middleware chain, registers
// the MCP tools and resources, and mounts the operational endpoints.
func NewServer(cfg *config.Config, pipeline *orchestrator.Orchestrator, schemas SchemaSource,
	pools *pool.Manager, registry *prometheus.Registry, log *slog.Logger) *Server {

	s := &Server{
		pipeline:  pipeline,
		schemas:   schemas,
		pools:     pools,
		databases: databaseNames(cfg),
		log:       log,
	}

	s.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    constants.AppName,
		Version: constants.AppVersion,
	}, nil)
	s.registerTools()
	s.registerResources()

	r := chi.NewRouter()

	// # Middleware Chain
	// Global middleware applied in order of execution.
	r.Use(middleware.RequestID())
	r.Use(middleware.StructuredLogger(log))
	r.Use(middleware.ClientIdentity())
	r.Use(middleware.PanicRecovery(log))

	// # Infrastructure Endpoints
	// Unauthenticated probes and metrics for container orchestration.
	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// # MCP Endpoint
	// Streamable HTTP transport; one endpoint carries the whole protocol.
	var handler http.Handler = mcp.NewStreamableHTTPHandler(
		func(*http.Request) *mcp.Server { return s.mcpServer }, nil)
	if !cfg.Server.AuthBearer.IsZero() {
		handler = middleware.BearerAuth(cfg.Server.AuthBearer)(handler)
	}
	r.Handle(cfg.Server.MCPPath, handler)

	s.router = r
	s.httpServer = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           r,
		ReadTimeout:       constants.DefaultReadTimeout,
		WriteTimeout:      constants.DefaultWriteTimeout,
		IdleTimeout:       constants.DefaultIdleTimeout,
		ReadHeaderTimeout: constants.DefaultReadHeaderTimeout,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// # Server Lifecycle

// ListenAndServe starts the HTTP server.
//
// It blocks until the server is closed or an error occurs.
func (s *Server) ListenAndServe() error {
	s.log.Info("server_starting", slog.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// # Health Probe

// healthz reports per-database pool health. Any unhealthy pool degrades
// the status to 503; the gateway itself stays up so operators can see
// which database is down.
func (s *Server) healthz(writer http.ResponseWriter, request *http.Request) {
	type checkResult struct {
		Name string `json:"name"`
		IsOK bool   `json:"ok"`
	}

	results := make([]checkResult, 0, len(s.databases))
	healthy := true
	for _, name := range s.databases {
		ok := s.pools.HealthCheck(request.Context(), name)
		if !ok {
			healthy = false
			s.log.Error("health_check_failed", slog.String("database", name))
		}
		results = append(results, checkResult{Name: name, IsOK: ok})
	}

	status := "ok"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(writer, httpStatus, map[string]any{
		"status":    status,
		"databases": results,
	})
}

func writeJSON(writer http.ResponseWriter, status int, body any) {
	writer.Header().Set("Content-Type", "application/json; charset=utf-8")
	writer.WriteHeader(status)
	_ = json.NewEncoder(writer).Encode(body)
}

func databaseNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Databases))
	for _, db := range cfg.Databases {
		names = append(names, db.Name)
	}
	return names
}
