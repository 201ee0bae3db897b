// Copyright (c) 2026 QueryGate. All rights reserved.

/*
Package pool owns the per-database PostgreSQL connection pools.

# Architecture

This package is part of the Infrastructure layer. One [pgxpool.Pool] is kept
per configured connection descriptor, keyed by the descriptor's short name.
Descriptors are immutable inputs at startup; the manager never mutates them.

# Acquisition Discipline

Callers obtain connections through scoped acquisition ([Manager.WithConn])
or through [Manager.Acquire] paired with a deferred Release. The pool is the
only mutator of its free list; a connection is returned to idle or discarded
on fault by the pool itself.
*/
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/querygate/querygate/internal/platform/apperr"
	"github.com/querygate/querygate/internal/platform/config"
	"github.com/querygate/querygate/internal/platform/constants"
	"github.com/querygate/querygate/internal/platform/dberr"
)

// Opinionated pool settings for the gateway workload.
const (
	// maxConnLifetime ensures connections are periodically recycled.
	maxConnLifetime = 60 * time.Minute
	// maxConnIdleTime closes connections that have been idle too long.
	maxConnIdleTime = 10 * time.Minute
	// healthCheckPeriod is the frequency of background connection health checks.
	healthCheckPeriod = 1 * time.Minute
	// connectTimeout is the maximum time allowed to establish a new connection.
	connectTimeout = 5 * time.Second
	// pingTimeout is the maximum duration for a health check ping.
	pingTimeout = 2 * time.Second
)

// Manager holds one connection pool per configured database.
//
// # Concurrency
//
// Safe for concurrent use. The map is guarded by a read/write mutex; the
// pools themselves are concurrency-safe by construction.
type Manager struct {
	log *slog.Logger

	mu    sync.RWMutex
	pools map[string]*pgxpool.Pool
	// known records every name ever registered, including failed and closed
	// pools, so lookups can tell an unconfigured database from an
	// unavailable one.
	known map[string]bool
}

// NewManager creates an empty pool manager.
func NewManager(log *slog.Logger) *Manager {
	return &Manager{
		log:   log,
		pools: make(map[string]*pgxpool.Pool),
		known: make(map[string]bool),
	}
}

// Add creates and validates the pool for one connection descriptor.
//
// Add is idempotent: registering a name twice keeps the first pool. A
// creation failure is returned to the caller, who decides whether the
// database is skipped or startup aborts; other pools are unaffected.
func (m *Manager) Add(ctx context.Context, desc config.DatabaseConfig) error {
	m.mu.Lock()
	_, exists := m.pools[desc.Name]
	m.known[desc.Name] = true
	m.mu.Unlock()
	if exists {
		return nil
	}

	poolConfig, err := pgxpool.ParseConfig(desc.DSN())
	if err != nil {
		return apperr.Configuration(fmt.Sprintf("databases[%s]: invalid connection settings", desc.Name))
	}

	// Apply pool tuning parameters from the descriptor.
	poolConfig.MinConns = int32(desc.MinPoolSize)
	poolConfig.MaxConns = int32(desc.MaxPoolSize)
	poolConfig.MaxConnLifetime = maxConnLifetime
	poolConfig.MaxConnIdleTime = maxConnIdleTime
	poolConfig.HealthCheckPeriod = healthCheckPeriod
	poolConfig.ConnConfig.ConnectTimeout = connectTimeout

	// AfterConnect is called each time a new physical connection is established.
	poolConfig.AfterConnect = func(ctx context.Context, connection *pgx.Conn) error {
		// Wire-level safety net. The per-query statement timeout is set
		// separately inside each read-only transaction and is always shorter.
		timeoutQuery := fmt.Sprintf("SET statement_timeout = '%ds'", int(constants.CommandTimeout.Seconds()))
		_, err := connection.Exec(ctx, timeoutQuery)
		return err
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	p, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return dberr.Classify(fmt.Errorf("pool %s: %w", desc.Name, err))
	}

	// Validate that we can actually reach the database.
	if err := ping(ctx, p); err != nil {
		p.Close()
		return dberr.Classify(fmt.Errorf("pool %s: %w", desc.Name, err))
	}

	m.mu.Lock()
	if _, exists := m.pools[desc.Name]; exists {
		// Raced with another Add for the same name; keep the first pool.
		m.mu.Unlock()
		p.Close()
		return nil
	}
	m.pools[desc.Name] = p
	m.mu.Unlock()

	m.log.Info("pool_connected",
		slog.String("database", desc.Name),
		slog.Int("min_conns", desc.MinPoolSize),
		slog.Int("max_conns", desc.MaxPoolSize),
		slog.String("ssl_mode", desc.SSLMode),
	)
	return nil
}

// Names returns the registered database names, for the list resource.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.pools))
	for name := range m.pools {
		names = append(names, name)
	}
	return names
}

// Acquire checks out a connection from the named pool.
//
// The caller must Release the connection on every exit path. Acquisition is
// bounded by [constants.PoolAcquireTimeout].
func (m *Manager) Acquire(ctx context.Context, name string) (*pgxpool.Conn, error) {
	p, err := m.lookup(name)
	if err != nil {
		return nil, err
	}

	acquireCtx, cancel := context.WithTimeout(ctx, constants.PoolAcquireTimeout)
	defer cancel()

	conn, err := p.Acquire(acquireCtx)
	if err != nil {
		return nil, dberr.Classify(fmt.Errorf("acquire %s: %w", name, err))
	}
	return conn, nil
}

// WithConn runs fn with a pooled connection, guaranteeing release on every
// exit path including panic and cancellation.
func (m *Manager) WithConn(ctx context.Context, name string, fn func(conn *pgxpool.Conn) error) error {
	conn, err := m.Acquire(ctx, name)
	if err != nil {
		return err
	}
	defer conn.Release()
	return fn(conn)
}

// HealthCheck reports whether the named database answers a trivial query.
func (m *Manager) HealthCheck(ctx context.Context, name string) bool {
	p, err := m.lookup(name)
	if err != nil {
		return false
	}

	checkCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	var one int
	if err := p.QueryRow(checkCtx, "SELECT 1").Scan(&one); err != nil {
		m.log.Warn("health_check_failed", slog.String("database", name), slog.Any("error", err))
		return false
	}
	return one == 1
}

// CloseAll shuts down every pool. Subsequent acquires fail with a
// connection error.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[string]*pgxpool.Pool)
	m.mu.Unlock()

	for name, p := range pools {
		m.log.Info("closing_pool", slog.String("database", name))
		p.Close()
	}
}

func (m *Manager) lookup(name string) (*pgxpool.Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[name]
	if !ok {
		if m.known[name] {
			// Configured, but the pool failed at startup or was closed.
			return nil, apperr.ConnectionFatal(fmt.Errorf("pool %s unavailable", name))
		}
		return nil, apperr.UnknownDatabase(name)
	}
	return p, nil
}

// ping verifies that a freshly created pool can reach its database.
func ping(ctx context.Context, p *pgxpool.Pool) error {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return p.Ping(pingCtx)
}
