// Copyright (c) 2026 QueryGate. All rights reserved.

package schema_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querygate/querygate/internal/platform/metrics"
	"github.com/querygate/querygate/internal/schema"
)

// fakeIntrospector counts calls and optionally blocks until released, so
// tests can pile up concurrent refreshes.
type fakeIntrospector struct {
	calls   atomic.Int64
	err     error
	release chan struct{}
}

func (f *fakeIntrospector) Introspect(_ context.Context, database string) (*schema.Snapshot, error) {
	f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	return sampleSnapshot(database), nil
}

func sampleSnapshot(database string) *schema.Snapshot {
	return &schema.Snapshot{
		Database: database,
		Tables: map[string]*schema.Table{
			"public.orders": {
				Schema:        "public",
				Name:          "orders",
				Comment:       "customer orders",
				EstimatedRows: 1200,
				Columns: []schema.Column{
					{Name: "id", DataType: "bigint", IsPrimaryKey: true},
					{Name: "user_id", DataType: "bigint",
						ForeignKey: &schema.ForeignKeyRef{Schema: "public", Table: "users", Column: "id"}},
					{Name: "status", DataType: "order_status", Nullable: true,
						EnumValues: []string{"pending", "shipped"}},
				},
				Indexes: []schema.Index{
					{Name: "orders_pkey", Columns: []string{"id"}, Kind: "btree", Unique: true, Primary: true},
				},
			},
			"public.users": {
				Schema:        "public",
				Name:          "users",
				EstimatedRows: 300,
				Columns: []schema.Column{
					{Name: "id", DataType: "bigint", IsPrimaryKey: true},
					{Name: "email", DataType: "text", IsUnique: true},
				},
			},
		},
		Views: []schema.View{
			{Schema: "public", Name: "active_users", Columns: []schema.Column{
				{Name: "id", DataType: "bigint"},
			}},
		},
		Enums: []schema.EnumType{
			{Schema: "public", Name: "order_status", Values: []string{"pending", "shipped"}},
		},
		CachedAt: time.Now(),
	}
}

func newCache(intr schema.Introspector, ttl time.Duration) *schema.Cache {
	return schema.NewCache(intr, ttl, slog.Default(), metrics.NewForTest())
}

/*
TestCache_SingleFlight verifies that many concurrent Gets on a cold cache
trigger exactly one introspection, and that every caller receives the same
snapshot.
*/
func TestCache_SingleFlight(t *testing.T) {
	intr := &fakeIntrospector{release: make(chan struct{})}
	cache := newCache(intr, time.Minute)

	const callers = 16
	var wg sync.WaitGroup
	results := make([]*schema.Snapshot, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap, err := cache.Get(context.Background(), "shop")
			require.NoError(t, err)
			results[i] = snap
		}(i)
	}

	// Give the goroutines time to queue behind the in-flight call, then
	// release the introspector.
	time.Sleep(50 * time.Millisecond)
	close(intr.release)
	wg.Wait()

	assert.Equal(t, int64(1), intr.calls.Load())
	for i := 1; i < callers; i++ {
		assert.Same(t, results[0], results[i])
	}
}

/*
TestCache_TTLAndRefresh verifies that a fresh snapshot is served from memory
within the TTL, and that Refresh forces a new introspection regardless.
*/
func TestCache_TTLAndRefresh(t *testing.T) {
	intr := &fakeIntrospector{}
	cache := newCache(intr, time.Minute)

	first, err := cache.Get(context.Background(), "shop")
	require.NoError(t, err)

	second, err := cache.Get(context.Background(), "shop")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, int64(1), intr.calls.Load())

	forced, err := cache.Refresh(context.Background(), "shop")
	require.NoError(t, err)
	assert.NotSame(t, first, forced)
	assert.Equal(t, int64(2), intr.calls.Load())
}

/*
TestCache_RefreshErrorPropagates verifies that a failed refresh surfaces the
error to the caller instead of silently serving the expired snapshot. The
previous snapshot stays reachable through Peek for inspection.
*/
func TestCache_RefreshErrorPropagates(t *testing.T) {
	intr := &fakeIntrospector{}
	cache := newCache(intr, 10*time.Millisecond)

	snap, err := cache.Get(context.Background(), "shop")
	require.NoError(t, err)

	// Let the TTL lapse, then make introspection fail. The expired Get must
	// report the failure, not fall back to the old snapshot.
	time.Sleep(20 * time.Millisecond)
	intr.err = errors.New("connection refused")

	_, err = cache.Get(context.Background(), "shop")
	require.Error(t, err)
	assert.Equal(t, int64(2), intr.calls.Load())

	kept, ok := cache.Peek("shop")
	require.True(t, ok)
	assert.Same(t, snap, kept)

	// Forced refresh fails the same way, and a cold database has nothing to
	// hide behind either.
	_, err = cache.Refresh(context.Background(), "shop")
	require.Error(t, err)

	_, err = cache.Get(context.Background(), "other")
	require.Error(t, err)
}

/*
TestSnapshot_Render verifies the deterministic text rendering: byte-stable
across calls, dictionary-ordered, and carrying the attribute tags the model
relies on.
*/
func TestSnapshot_Render(t *testing.T) {
	snap := sampleSnapshot("shop")

	first := snap.Render()
	second := snap.Render()
	assert.Equal(t, first, second)

	// 1. Header and schema grouping
	assert.True(t, strings.HasPrefix(first, "Database: shop\n"))
	assert.Contains(t, first, "Schema public:\n")

	// 2. Tables in dictionary order
	assert.Less(t, strings.Index(first, "TABLE public.orders"), strings.Index(first, "TABLE public.users"))

	// 3. Row estimates, comments, and column tags
	assert.Contains(t, first, "TABLE public.orders (~1200 rows) -- customer orders")
	assert.Contains(t, first, "id bigint PRIMARY KEY NOT NULL")
	assert.Contains(t, first, "FK -> public.users.id")
	assert.Contains(t, first, "status order_status ENUM: [pending, shipped]")
	assert.Contains(t, first, "email text NOT NULL UNIQUE")

	// 4. Indexes, views, enums
	assert.Contains(t, first, "INDEX orders_pkey (btree, primary) ON (id)")
	assert.Contains(t, first, "VIEW public.active_users (id bigint)")
	assert.Contains(t, first, "ENUM public.order_status: [pending, shipped]")
}

/*
TestSnapshot_Lookup verifies case-insensitive lookup with the public-schema
default, and the row-estimate helper.
*/
func TestSnapshot_Lookup(t *testing.T) {
	snap := sampleSnapshot("shop")

	table, ok := snap.Lookup("", "ORDERS")
	require.True(t, ok)
	assert.Equal(t, "orders", table.Name)
	assert.True(t, table.HasColumn("USER_ID"))
	assert.Equal(t, []string{"id", "user_id", "status"}, table.ColumnNames())

	assert.Equal(t, int64(300), snap.RowEstimate("public", "users"))
	assert.Zero(t, snap.RowEstimate("public", "missing"))

	_, ok = snap.Lookup("other", "orders")
	assert.False(t, ok)
}
