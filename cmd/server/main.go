// Copyright (c) 2026 QueryGate. All rights reserved.

// Command server is the entry point for the QueryGate MCP gateway.
//
// # Startup Sequence
//
//  1. Initialize structured logger.
//  2. Load configuration (YAML file + environment).
//  3. Open one pgx pool per configured database.
//  4. Build the pipeline components: schema cache, policy checkers,
//     explain validators, LM client, rate limiter, audit recorder.
//  5. Wire the orchestrator and the MCP/HTTP gateway.
//  6. Start the HTTP server with graceful shutdown.
//
// No business logic lives here. All wiring is explicit constructor injection.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/querygate/querygate/internal/audit"
	"github.com/querygate/querygate/internal/explain"
	"github.com/querygate/querygate/internal/gateway"
	"github.com/querygate/querygate/internal/llm"
	"github.com/querygate/querygate/internal/orchestrator"
	"github.com/querygate/querygate/internal/platform/config"
	"github.com/querygate/querygate/internal/platform/constants"
	"github.com/querygate/querygate/internal/platform/metrics"
	"github.com/querygate/querygate/internal/policy"
	"github.com/querygate/querygate/internal/pool"
	"github.com/querygate/querygate/internal/ratelimit"
	"github.com/querygate/querygate/internal/schema"
)

func main() {
	configPath := flag.String("config", os.Getenv("PG_MCP_CONFIG"), "path to the YAML configuration file")
	flag.Parse()

	// ── 1. Logger ──────────────────────────────────────────────────────────
	// Initialize first so that subsequent startup errors are structured JSON.
	rawLog := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Add global context to all log entries.
	log := rawLog.With(slog.String("app", constants.AppName))
	slog.SetDefault(log)

	log.Info("service_initializing", slog.String("version", constants.AppVersion))

	// ── 2. Configuration ──────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	must(log, err, "load configuration")

	if cfg.Debug {
		debugLog := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
		log = debugLog.With(slog.String("app", constants.AppName))
		slog.SetDefault(log)
		log.Debug("debug_logging_enabled")
	}

	log.Info("configuration_loaded",
		slog.String("listen_addr", cfg.Server.ListenAddr),
		slog.Int("databases", len(cfg.Databases)),
	)

	// Root context for startup. Deadlined so misconfiguration is caught
	// quickly rather than hanging indefinitely.
	startupCtx, startupCancel := context.WithTimeout(context.Background(), constants.StartupTimeout)
	defer startupCancel()

	// ── 3. Metrics ────────────────────────────────────────────────────────
	registry := prometheus.NewRegistry()
	set := metrics.New(registry)

	// ── 4. Database Pools ─────────────────────────────────────────────────
	// One unreachable database must not take the gateway down; its pool is
	// skipped and shows up unhealthy on /healthz until a restart.
	pools := pool.NewManager(log)
	defer pools.CloseAll()

	policies := make(map[string]orchestrator.PolicyChecker, len(cfg.Databases))
	validators := make(map[string]*explain.Validator, len(cfg.Databases))
	for _, db := range cfg.Databases {
		if err := pools.Add(startupCtx, db); err != nil {
			log.Error("database_unavailable_at_startup",
				slog.String("database", db.Name),
				slog.Any("error", err),
			)
			continue
		}

		checker, err := policy.NewChecker(db.AccessPolicy, log)
		must(log, err, "build access policy for "+db.Name)
		policies[db.Name] = checker
		validators[db.Name] = explain.NewValidator(db.AccessPolicy.ExplainPolicy, log, set)
	}
	if len(cfg.Databases) > 0 && len(pools.Names()) == 0 {
		must(log, errors.New("no configured database is reachable"), "connect to databases")
	}

	// ── 5. Schema Cache ───────────────────────────────────────────────────
	introspector := schema.NewCatalogIntrospector(pools, log)
	cache := schema.NewCache(introspector, cfg.CacheRefreshDuration(), log, set)

	// Warm the cache so the first request does not pay for introspection.
	for _, name := range pools.Names() {
		if _, err := cache.Get(startupCtx, name); err != nil {
			log.Warn("schema_warmup_failed",
				slog.String("database", name),
				slog.Any("error", err),
			)
		}
	}

	// ── 6. Language Model ─────────────────────────────────────────────────
	generator := llm.New(cfg.OpenAI, log)

	// ── 7. Rate Limiter ───────────────────────────────────────────────────
	limiter := ratelimit.NewCoordinator(cfg.RateLimit, log, set)
	limiter.Start()
	defer limiter.Stop()

	// ── 8. Audit Trail ────────────────────────────────────────────────────
	sinks := []audit.Sink{audit.NewLogSink(log)}
	if cfg.Audit.RedisURL != "" {
		redisSink, err := audit.NewRedisSink(startupCtx, cfg.Audit.RedisURL, cfg.Audit.Stream, log)
		must(log, err, "connect audit redis sink")
		sinks = append(sinks, redisSink)
	}
	recorder := audit.NewRecorder(cfg.Audit.QueueSize, sinks, log, set)
	recorder.Start()
	defer recorder.Stop()

	// ── 9. Pipeline ───────────────────────────────────────────────────────
	executor := orchestrator.NewDBExecutor(pools, validators,
		cfg.QueryTimeoutDuration(), *cfg.Server.UseReadonlyTransactions,
		cfg.Server.MaxResultRows, log)

	pipeline := orchestrator.New(cache, generator, policies, executor, limiter, recorder,
		orchestrator.Options{
			MaxResultRows:      cfg.Server.MaxResultRows,
			MaxSQLRetry:        cfg.Server.MaxSQLRetry,
			LLMMaxRetries:      cfg.OpenAI.MaxRetries,
			DatabaseMaxRetries: constants.DatabaseMaxRetries,
		}, log, set)

	// ── 10. HTTP Server ───────────────────────────────────────────────────
	server := gateway.NewServer(cfg, pipeline, cache, pools, registry, log)

	// ── 11. Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Block until OS signal or server error.
	select {
	case sig := <-quit:
		log.Info("shutdown_signal_received", slog.String("signal", sig.String()))
	case err := <-serverErr:
		log.Error("server_startup_error", slog.Any("error", err))
	}

	// Give in-flight requests enough time to complete.
	shutdownTimeout := constants.ShutdownTimeout
	log.Info("shutting_down", slog.Duration("timeout", shutdownTimeout))

	if err := server.Shutdown(shutdownTimeout); err != nil {
		log.Error("shutdown_error", slog.Any("error", err))
		os.Exit(1)
	}

	log.Info("server_stopped_cleanly")
}

// must logs a structured fatal error and terminates the process if err is non-nil.
//
// It is intentionally limited to startup wiring. After startup, all errors
// must be returned and handled explicitly (never panic).
func must(log *slog.Logger, err error, context string) {
	if err != nil {
		log.Error("startup_failure",
			slog.String("context", context),
			slog.Any("error", err),
		)
		os.Exit(1)
	}
}
