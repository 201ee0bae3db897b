// Copyright (c) 2026 QueryGate. All rights reserved.

package schema

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/querygate/querygate/internal/platform/metrics"
)

// Cache keeps one snapshot per database with a TTL, refreshing through a
// single-flight group so concurrent expiry triggers exactly one
// introspection per database.
//
// # Staleness Policy
//
// A failed refresh is reported to the caller; the previous snapshot stays
// cached so operators can still inspect it through [Cache.Peek], but it is
// never silently served in place of the refresh result.
type Cache struct {
	introspector Introspector
	ttl          time.Duration
	log          *slog.Logger
	metrics      *metrics.Set

	group singleflight.Group

	mu        sync.RWMutex
	snapshots map[string]*Snapshot
}

// NewCache builds an empty cache around an introspector.
func NewCache(introspector Introspector, ttl time.Duration, log *slog.Logger, set *metrics.Set) *Cache {
	return &Cache{
		introspector: introspector,
		ttl:          ttl,
		log:          log,
		metrics:      set,
		snapshots:    make(map[string]*Snapshot),
	}
}

// Get returns the cached snapshot for a database, refreshing it first when
// missing or older than the TTL.
func (c *Cache) Get(ctx context.Context, database string) (*Snapshot, error) {
	c.mu.RLock()
	snap, ok := c.snapshots[database]
	c.mu.RUnlock()

	if ok && time.Since(snap.CachedAt) < c.ttl {
		return snap, nil
	}
	return c.refresh(ctx, database)
}

// Refresh forces a new introspection regardless of TTL. Used by the
// refresh_schema tool after migrations.
func (c *Cache) Refresh(ctx context.Context, database string) (*Snapshot, error) {
	c.group.Forget(database)
	return c.refresh(ctx, database)
}

// Peek returns the cached snapshot without refreshing, for the schema
// resource listing. The boolean reports presence.
func (c *Cache) Peek(database string) (*Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.snapshots[database]
	return snap, ok
}

func (c *Cache) refresh(ctx context.Context, database string) (*Snapshot, error) {
	value, err, _ := c.group.Do(database, func() (any, error) {
		snap, err := c.introspector.Introspect(ctx, database)
		if err != nil {
			c.metrics.SchemaRefreshes.WithLabelValues(database, "error").Inc()
			return nil, err
		}
		c.metrics.SchemaRefreshes.WithLabelValues(database, "ok").Inc()

		c.mu.Lock()
		c.snapshots[database] = snap
		c.mu.Unlock()
		return snap, nil
	})

	if err != nil {
		c.log.Warn("schema_refresh_failed",
			slog.String("database", database),
			slog.Any("error", err),
		)
		return nil, err
	}
	return value.(*Snapshot), nil
}
