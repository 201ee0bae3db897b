// Copyright (c) 2026 QueryGate. All rights reserved.

/*
Package explain runs the cost gate: EXPLAIN (FORMAT JSON) on the candidate
statement, inside the same read-only transaction that will execute it.

# Fail-Open Contract

EXPLAIN itself failing (timeout, unsupported construct, database error)
never denies the query. The statement timeout at execution still bounds the
damage, and denying on infrastructure noise would make the gateway flaky.
Only a successfully parsed plan that breaks a budget denies.
*/
package explain

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/querygate/querygate/internal/platform/apperr"
	"github.com/querygate/querygate/internal/platform/config"
	"github.com/querygate/querygate/internal/platform/metrics"
	"github.com/querygate/querygate/internal/schema"
	"github.com/querygate/querygate/pkg/pointer"
)

// Querier is the slice of pgx.Tx the validator needs; the orchestrator
// passes its open read-only transaction.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// planNode is one node of the EXPLAIN (FORMAT JSON) tree.
type planNode struct {
	NodeType     string     `json:"Node Type"`
	TotalCost    float64    `json:"Total Cost"`
	PlanRows     int64      `json:"Plan Rows"`
	RelationName string     `json:"Relation Name"`
	SchemaName   string     `json:"Schema"`
	Plans        []planNode `json:"Plans"`
}

type explainRow struct {
	Plan planNode `json:"Plan"`
}

// seqScan is one sequential-scan node found in the tree.
type seqScan struct {
	schemaName string
	relation   string
	planRows   int64
}

// Validator evaluates plans for one database's explain policy.
type Validator struct {
	enabled   bool
	maxRows   int64
	maxCost   float64
	denySeq   bool
	largeSize int64
	timeout   time.Duration

	cache   *verdictCache
	log     *slog.Logger
	metrics *metrics.Set
}

// NewValidator compiles one database's explain policy.
func NewValidator(policyConfig config.ExplainPolicyConfig, log *slog.Logger, set *metrics.Set) *Validator {
	return &Validator{
		enabled:   pointer.Fallback(policyConfig.Enabled, true),
		maxRows:   policyConfig.MaxEstimatedRows,
		maxCost:   policyConfig.MaxEstimatedCost,
		denySeq:   policyConfig.DenySeqScanOnLargeTables,
		largeSize: policyConfig.LargeTableThreshold,
		timeout:   time.Duration(policyConfig.TimeoutSeconds) * time.Second,
		cache:     newVerdictCache(policyConfig.CacheMaxSize, time.Duration(policyConfig.CacheTTLSeconds)*time.Second),
		log:       log,
		metrics:   set,
	}
}

// Check runs EXPLAIN for the canonical SQL and applies the three rules:
// root row budget denies, root cost budget warns, and large-table
// sequential scans deny when configured. The snapshot supplies reltuples so
// a misestimated plan cannot hide a large scan.
func (v *Validator) Check(ctx context.Context, q Querier, sql string, snap *schema.Snapshot) error {
	if !v.enabled {
		return nil
	}

	key := cacheKey(sql)
	if verdict, ok := v.cache.get(key); ok {
		v.metrics.ExplainCacheHits.Inc()
		return verdict
	}

	explainCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	root, err := v.runExplain(explainCtx, q, sql)
	if err != nil {
		if ctx.Err() != nil {
			// The request itself is gone; do not mask the cancellation.
			return apperr.Cancelled(ctx.Err())
		}
		v.log.Warn("explain_failed_passing",
			slog.String("database", snapDatabase(snap)),
			slog.Any("error", err),
		)
		return nil
	}

	verdict := v.evaluate(root, snap)
	v.cache.put(key, verdict)
	return verdict
}

func (v *Validator) runExplain(ctx context.Context, q Querier, sql string) (*planNode, error) {
	rows, err := q.Query(ctx, "EXPLAIN (FORMAT JSON, COSTS TRUE) "+sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("explain returned no rows")
	}

	var raw []byte
	if err := rows.Scan(&raw); err != nil {
		return nil, err
	}
	rows.Close()

	var parsed []explainRow
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("explain output: %w", err)
	}
	if len(parsed) == 0 {
		return nil, fmt.Errorf("explain output empty")
	}
	return &parsed[0].Plan, nil
}

// evaluate applies the budget rules to a parsed plan. Returns nil when the
// plan passes, or the denial. The verdict is what gets cached.
func (v *Validator) evaluate(root *planNode, snap *schema.Snapshot) error {
	if v.maxRows > 0 && root.PlanRows > v.maxRows {
		return apperr.QueryTooExpensive(root.PlanRows, v.maxRows)
	}

	if v.maxCost > 0 && root.TotalCost > v.maxCost {
		// Cost overrun warns but does not deny; the row budget and the
		// statement timeout are the hard limits.
		v.log.Warn("plan_cost_over_budget",
			slog.Float64("total_cost", root.TotalCost),
			slog.Float64("max_cost", v.maxCost),
		)
	}

	if v.denySeq {
		for _, scan := range collectSeqScans(root, nil) {
			size := scan.planRows
			if snap != nil {
				if estimate := snap.RowEstimate(scan.schemaName, scan.relation); estimate > size {
					size = estimate
				}
			}
			if size > v.largeSize {
				return apperr.SeqScanDenied(scan.relation, size)
			}
		}
	}
	return nil
}

func collectSeqScans(node *planNode, acc []seqScan) []seqScan {
	if node.NodeType == "Seq Scan" {
		acc = append(acc, seqScan{
			schemaName: node.SchemaName,
			relation:   node.RelationName,
			planRows:   node.PlanRows,
		})
	}
	for i := range node.Plans {
		acc = collectSeqScans(&node.Plans[i], acc)
	}
	return acc
}

func cacheKey(sql string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(sql))
	return h.Sum64()
}

func snapDatabase(snap *schema.Snapshot) string {
	if snap == nil {
		return ""
	}
	return snap.Database
}
