// Copyright (c) 2026 QueryGate. All rights reserved.

// Package dberr provides a bridge between low-level PostgreSQL driver errors
// and the typed errors consumed by the query orchestrator.
//
// # Error Mapping
//
// The driver reports failures as [pgconn.PgError] values carrying a SQLSTATE
// code, or as plain network errors. Classify inspects both and returns the
// matching [apperr.AppError] kind so that the orchestrator never needs to
// know SQLSTATE semantics.
package dberr

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/querygate/querygate/internal/platform/apperr"
)

// SQLSTATE classes and codes the pipeline cares about.
const (
	// sqlstateQueryCanceled is raised when statement_timeout fires.
	sqlstateQueryCanceled = "57014"
	// sqlstateReadOnlyViolation is raised when a write reaches a READ ONLY transaction.
	sqlstateReadOnlyViolation = "25006"
	// sqlstateTooManyConnections is transient back-pressure from the server.
	sqlstateTooManyConnections = "53300"
	// classSyntax covers syntax errors and unknown identifiers (42xxx).
	classSyntax = "42"
	// classConnection covers connection exceptions (08xxx).
	classConnection = "08"
)

// Classify maps a database error into a typed [apperr.AppError].
//
// Classification order matters: context cancellation is checked first so a
// caller-initiated cancel is never misreported as a server fault.
func Classify(err error) *apperr.AppError {
	if err == nil {
		return nil
	}

	// 1. Caller cancellation and deadlines
	if errors.Is(err, context.Canceled) {
		return apperr.Cancelled(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.ExecutionTimeout(err)
	}

	// 2. Server-reported SQLSTATE
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		code := pgErr.Code
		switch {
		case code == sqlstateQueryCanceled:
			return apperr.ExecutionTimeout(err)
		case code == sqlstateReadOnlyViolation:
			return apperr.UnsafeSQL("write")
		case code == sqlstateTooManyConnections:
			return apperr.ConnectionLost(err)
		case strings.HasPrefix(code, classSyntax):
			// Includes undefined tables/columns: the model guessed wrong and
			// is given another attempt with the error as context.
			return apperr.InvalidSQL(pgErr.Message, int(pgErr.Position))
		case strings.HasPrefix(code, classConnection):
			return apperr.ConnectionLost(err)
		}
		return apperr.Internal(err)
	}

	// 3. Network-level failures without a SQLSTATE
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return apperr.ExecutionTimeout(err)
		}
		return apperr.ConnectionLost(err)
	}

	// 4. pgconn reports broken connections with a sentinel-style message
	if pgconn.Timeout(err) {
		return apperr.ExecutionTimeout(err)
	}
	if strings.Contains(err.Error(), "conn closed") || strings.Contains(err.Error(), "connection reset") {
		return apperr.ConnectionLost(err)
	}

	return apperr.Internal(err)
}
