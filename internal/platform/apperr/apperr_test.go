// Copyright (c) 2026 QueryGate. All rights reserved.

package apperr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/querygate/querygate/internal/platform/apperr"
)

/*
TestAppError_Retryable verifies that only the transient kinds qualify for
the retry executor.
*/
func TestAppError_Retryable(t *testing.T) {
	assert.True(t, apperr.ConnectionLost(errors.New("reset")).Retryable())
	assert.True(t, apperr.OpenAI(errors.New("429"), true).Retryable())

	assert.False(t, apperr.OpenAI(errors.New("401"), false).Retryable())
	assert.False(t, apperr.TableAccessDenied("public.users").Retryable())
	assert.False(t, apperr.InvalidSQL("unexpected token", 3).Retryable())
	assert.False(t, apperr.ExecutionTimeout(nil).Retryable())
}

/*
TestAppError_Chain verifies errors.As traversal through wrapped causes.
*/
func TestAppError_Chain(t *testing.T) {
	cause := errors.New("connection refused")
	wrapped := fmt.Errorf("acquire: %w", apperr.ConnectionLost(cause))

	// 1. The AppError is recoverable from the chain
	ae := apperr.As(wrapped)
	assert.NotNil(t, ae)
	assert.Equal(t, apperr.CodeConnectionError, ae.Code)

	// 2. The original cause is still reachable
	assert.ErrorIs(t, wrapped, cause)
}

/*
TestAppError_Wrap verifies that unknown errors are hidden behind a generic
internal error while typed errors pass through untouched.
*/
func TestAppError_Wrap(t *testing.T) {
	// 1. Unknown errors become INTERNAL_ERROR with a generic message
	internal := apperr.Wrap(errors.New("pq: relation secrets does not exist"))
	assert.Equal(t, apperr.CodeInternalError, internal.Code)
	assert.NotContains(t, internal.Message, "secrets")

	// 2. Typed errors keep their identity
	denied := apperr.SchemaAccessDenied("audit")
	assert.Same(t, denied, apperr.Wrap(denied))
}

/*
TestAppError_Details verifies structured detail accumulation.
*/
func TestAppError_Details(t *testing.T) {
	err := apperr.RateLimitExceeded("minute", "requests", 3, 0, 1700000060)

	assert.Equal(t, "minute", err.Details["window"])
	assert.Equal(t, 3, err.Details["limit"])
	assert.Equal(t, int64(1700000060), err.Details["reset_at"])
}
