// Copyright (c) 2026 QueryGate. All rights reserved.

package explain_test

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querygate/querygate/internal/explain"
	"github.com/querygate/querygate/internal/platform/apperr"
	"github.com/querygate/querygate/internal/platform/config"
	"github.com/querygate/querygate/internal/platform/metrics"
	"github.com/querygate/querygate/internal/schema"
)

// fakeQuerier returns one canned EXPLAIN JSON document per Query call and
// counts the calls.
type fakeQuerier struct {
	payload string
	err     error
	calls   int
}

func (f *fakeQuerier) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &fakeRows{payload: []byte(f.payload)}, nil
}

// fakeRows implements the single-row single-column shape EXPLAIN returns.
type fakeRows struct {
	payload []byte
	done    bool
}

func (r *fakeRows) Next() bool {
	if r.done {
		return false
	}
	r.done = true
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	*(dest[0].(*[]byte)) = r.payload
	return nil
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func planJSON(nodeType string, rows int64, cost float64, relation string, children string) string {
	inner := ""
	if children != "" {
		inner = `, "Plans": [` + children + `]`
	}
	rel := ""
	if relation != "" {
		rel = `, "Relation Name": "` + relation + `", "Schema": "public"`
	}
	return `{"Node Type": "` + nodeType + `", "Plan Rows": ` + strconv.FormatInt(rows, 10) +
		`, "Total Cost": ` + strconv.FormatFloat(cost, 'f', 1, 64) + rel + inner + `}`
}

func wrap(plan string) string { return `[{"Plan": ` + plan + `}]` }

func newValidator(policyConfig config.ExplainPolicyConfig) *explain.Validator {
	if policyConfig.TimeoutSeconds == 0 {
		policyConfig.TimeoutSeconds = 5
	}
	return explain.NewValidator(policyConfig, slog.Default(), metrics.NewForTest())
}

/*
TestValidator_RowBudget verifies the hard row budget: a root estimate over
max_estimated_rows denies with the estimate in the details.
*/
func TestValidator_RowBudget(t *testing.T) {
	validator := newValidator(config.ExplainPolicyConfig{MaxEstimatedRows: 1000})
	querier := &fakeQuerier{payload: wrap(planJSON("Seq Scan", 5000000, 90.0, "events", ""))}

	err := validator.Check(context.Background(), querier, "SELECT * FROM public.events", nil)
	require.Error(t, err)
	appError := apperr.As(err)
	assert.Equal(t, apperr.CodeQueryTooExpensive, appError.Code)
	assert.EqualValues(t, int64(5000000), appError.Details["estimated_rows"])
}

/*
TestValidator_CostWarnsOnly verifies that a cost overrun alone passes.
*/
func TestValidator_CostWarnsOnly(t *testing.T) {
	validator := newValidator(config.ExplainPolicyConfig{
		MaxEstimatedRows: 1000,
		MaxEstimatedCost: 100,
	})
	querier := &fakeQuerier{payload: wrap(planJSON("Index Scan", 10, 9999.0, "users", ""))}

	err := validator.Check(context.Background(), querier, "SELECT id FROM users", nil)
	assert.NoError(t, err)
}

/*
TestValidator_SeqScanGate verifies the large-table gate: the effective size
is the larger of the plan estimate and the cached reltuples, so a plan that
underestimates a big table still denies.
*/
func TestValidator_SeqScanGate(t *testing.T) {
	policyConfig := config.ExplainPolicyConfig{
		MaxEstimatedRows:         10000000,
		DenySeqScanOnLargeTables: true,
		LargeTableThreshold:      1000000,
	}

	snap := &schema.Snapshot{
		Database: "main",
		Tables: map[string]*schema.Table{
			"public.events": {Schema: "public", Name: "events", EstimatedRows: 5000000},
		},
	}

	// Nested Seq Scan with a low plan estimate; reltuples says the table
	// is huge.
	child := planJSON("Seq Scan", 100, 10.0, "events", "")
	payload := wrap(planJSON("Aggregate", 1, 50.0, "", child))

	validator := newValidator(policyConfig)
	querier := &fakeQuerier{payload: payload}
	err := validator.Check(context.Background(), querier, "SELECT COUNT(*) FROM public.events", snap)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeSeqScanDenied, apperr.As(err).Code)

	// A small table passes even when sequentially scanned.
	small := wrap(planJSON("Seq Scan", 100, 10.0, "users", ""))
	validator = newValidator(policyConfig)
	querier = &fakeQuerier{payload: small}
	err = validator.Check(context.Background(), querier, "SELECT * FROM public.users", snap)
	assert.NoError(t, err)
}

/*
TestValidator_FailOpen verifies that EXPLAIN failures pass instead of
denying.
*/
func TestValidator_FailOpen(t *testing.T) {
	validator := newValidator(config.ExplainPolicyConfig{MaxEstimatedRows: 10})
	querier := &fakeQuerier{err: errors.New("syntax error at or near EXPLAIN")}

	err := validator.Check(context.Background(), querier, "SELECT 1", nil)
	assert.NoError(t, err)
}

/*
TestValidator_Cache verifies that a verdict is served from the TTL cache:
the second check for the same SQL issues no EXPLAIN, and denials are cached
just like passes.
*/
func TestValidator_Cache(t *testing.T) {
	validator := newValidator(config.ExplainPolicyConfig{
		MaxEstimatedRows: 1000,
		CacheTTLSeconds:  300,
		CacheMaxSize:     16,
	})
	querier := &fakeQuerier{payload: wrap(planJSON("Seq Scan", 5000, 90.0, "events", ""))}

	err := validator.Check(context.Background(), querier, "SELECT * FROM public.events", nil)
	require.Error(t, err)
	assert.Equal(t, 1, querier.calls)

	err = validator.Check(context.Background(), querier, "SELECT * FROM public.events", nil)
	require.Error(t, err)
	assert.Equal(t, 1, querier.calls)

	// Different SQL misses the cache.
	_ = validator.Check(context.Background(), querier, "SELECT id FROM public.users", nil)
	assert.Equal(t, 2, querier.calls)
}

/*
TestValidator_Disabled verifies a disabled policy never queries.
*/
func TestValidator_Disabled(t *testing.T) {
	disabled := false
	validator := newValidator(config.ExplainPolicyConfig{Enabled: &disabled})
	querier := &fakeQuerier{payload: wrap(planJSON("Seq Scan", 5000000, 90.0, "events", ""))}

	err := validator.Check(context.Background(), querier, "SELECT * FROM public.events", nil)
	assert.NoError(t, err)
	assert.Zero(t, querier.calls)
}
