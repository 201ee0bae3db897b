// Copyright (c) 2026 QueryGate. All rights reserved.

package retry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/querygate/querygate/internal/platform/apperr"
	"github.com/querygate/querygate/internal/platform/retry"
)

/*
TestRetry_TransientEventuallySucceeds verifies that a transient failure is
re-attempted within the retry budget.
*/
func TestRetry_TransientEventuallySucceeds(t *testing.T) {
	executor := retry.ForDatabase(3)

	attempts := 0
	err := executor.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return apperr.ConnectionLost(errors.New("reset by peer"))
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

/*
TestRetry_NonRetryableStopsImmediately verifies that terminal kinds bypass
the backoff loop entirely.
*/
func TestRetry_NonRetryableStopsImmediately(t *testing.T) {
	executor := retry.ForLLM(5)

	attempts := 0
	err := executor.Do(context.Background(), func() error {
		attempts++
		return apperr.OpenAI(errors.New("invalid api key"), false)
	})

	assert.Equal(t, 1, attempts)
	assert.Equal(t, apperr.CodeOpenAIError, apperr.As(err).Code)
}

/*
TestRetry_BudgetExhausted verifies that the final attempt's error is the one
propagated once the budget runs out.
*/
func TestRetry_BudgetExhausted(t *testing.T) {
	executor := retry.ForDatabase(2)

	attempts := 0
	err := executor.Do(context.Background(), func() error {
		attempts++
		return apperr.ConnectionLost(errors.New("still down"))
	})

	// 1 initial attempt + 2 retries
	assert.Equal(t, 3, attempts)
	assert.Equal(t, apperr.CodeConnectionError, apperr.As(err).Code)
}

/*
TestRetry_Cancellation verifies that cancelling the context during the retry
loop surfaces as a typed cancellation.
*/
func TestRetry_Cancellation(t *testing.T) {
	executor := retry.ForLLM(5)

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := executor.Do(ctx, func() error {
		attempts++
		cancel() // cancel while the executor would back off
		return apperr.OpenAI(errors.New("503"), true)
	})

	assert.Equal(t, 1, attempts)
	assert.Error(t, err)
}

/*
TestRetry_ZeroBudget verifies that a zero budget means exactly one attempt.
*/
func TestRetry_ZeroBudget(t *testing.T) {
	executor := retry.ForDatabase(0)

	attempts := 0
	_ = executor.Do(context.Background(), func() error {
		attempts++
		return apperr.ConnectionLost(errors.New("down"))
	})

	assert.Equal(t, 1, attempts)
}
