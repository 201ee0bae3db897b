// Copyright (c) 2026 QueryGate. All rights reserved.

package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/querygate/querygate/internal/explain"
	"github.com/querygate/querygate/internal/platform/dberr"
	"github.com/querygate/querygate/internal/pool"
	"github.com/querygate/querygate/internal/schema"
)

// DBExecutor runs the canonical SQL inside a read-only transaction with a
// statement timeout, gated by the per-database explain validator.
type DBExecutor struct {
	pools      *pool.Manager
	validators map[string]*explain.Validator

	queryTimeout time.Duration
	readOnly     bool
	maxRows      int

	log *slog.Logger
}

// NewDBExecutor wires the execution stage.
func NewDBExecutor(pools *pool.Manager, validators map[string]*explain.Validator,
	queryTimeout time.Duration, readOnly bool, maxRows int, log *slog.Logger) *DBExecutor {
	return &DBExecutor{
		pools:        pools,
		validators:   validators,
		queryTimeout: queryTimeout,
		readOnly:     readOnly,
		maxRows:      maxRows,
		log:          log,
	}
}

// Execute runs one statement. The transaction is always rolled back: the
// statement is a SELECT and the READ ONLY mode makes anything else fail at
// the database.
func (e *DBExecutor) Execute(ctx context.Context, database, sql string, snap *schema.Snapshot) (*QueryResult, error) {
	conn, err := e.pools.Acquire(ctx, database)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	txOptions := pgx.TxOptions{}
	if e.readOnly {
		txOptions.AccessMode = pgx.ReadOnly
	}
	tx, err := conn.BeginTx(ctx, txOptions)
	if err != nil {
		return nil, dberr.Classify(fmt.Errorf("begin: %w", err))
	}
	// Rollback must run even when ctx is already cancelled, otherwise the
	// connection goes back to the pool mid-transaction.
	defer func() {
		rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := tx.Rollback(rollbackCtx); err != nil && err != pgx.ErrTxClosed {
			e.log.Warn("rollback_failed", slog.String("database", database), slog.Any("error", err))
		}
	}()

	// SET LOCAL scopes the timeout to this transaction.
	timeoutMS := e.queryTimeout.Milliseconds()
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", timeoutMS)); err != nil {
		return nil, dberr.Classify(fmt.Errorf("set statement_timeout: %w", err))
	}

	if validator := e.validators[database]; validator != nil {
		if err := validator.Check(ctx, tx, sql, snap); err != nil {
			return nil, err
		}
	}

	started := time.Now()
	rows, err := tx.Query(ctx, sql)
	if err != nil {
		return nil, dberr.Classify(err)
	}

	result, err := collectRows(rows, e.maxRows)
	if err != nil {
		return nil, dberr.Classify(err)
	}
	result.Duration = time.Since(started)
	return result, nil
}

// collectRows materializes up to maxRows rows. One extra row is read to
// learn whether the result was cut off.
func collectRows(rows pgx.Rows, maxRows int) (*QueryResult, error) {
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, field := range fields {
		columns[i] = string(field.Name)
	}

	result := &QueryResult{Columns: columns}
	for rows.Next() {
		if maxRows > 0 && len(result.Rows) >= maxRows {
			result.Truncated = true
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make([]any, len(values))
		for i, value := range values {
			row[i] = normalizeValue(value)
		}
		result.Rows = append(result.Rows, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	result.RowCount = len(result.Rows)
	return result, nil
}

// normalizeValue converts driver types that do not serialize cleanly.
// Numerics become strings so precision survives the JSON boundary.
func normalizeValue(value any) any {
	switch v := value.(type) {
	case pgtype.Numeric:
		if text, err := v.Value(); err == nil {
			return text
		}
		return nil
	case [16]byte:
		return uuid.UUID(v).String()
	case time.Time:
		return v.UTC()
	default:
		return value
	}
}
