// Copyright (c) 2026 QueryGate. All rights reserved.

/*
Package retry provides the two retry executors used by the query pipeline.

Architecture:

  - Language-model calls retry on transient vendor failures with an
    exponential backoff: 1s initial, ×2 multiplier, 30s cap, ±25% jitter.
  - Database connection losses retry with a fixed 0.5s pause.
  - Everything else propagates immediately: an error is only re-attempted
    when [apperr.AppError.Retryable] reports true.

Both executors are context-aware; cancellation interrupts the backoff sleep.
*/
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/querygate/querygate/internal/platform/apperr"
)

// Backoff parameters for the language-model executor.
const (
	llmInitialInterval = 1 * time.Second
	llmMaxInterval     = 30 * time.Second
	llmMultiplier      = 2.0
	llmJitter          = 0.25
)

// databaseInterval is the fixed pause between database reconnect attempts.
const databaseInterval = 500 * time.Millisecond

// Executor re-runs an operation on retryable failures.
//
// An Executor is immutable and safe for concurrent use; each Do call builds
// a fresh backoff state.
type Executor struct {
	newBackOff func() backoff.BackOff
	maxRetries uint64
}

// ForLLM builds the exponential-backoff executor for model calls.
func ForLLM(maxRetries int) *Executor {
	return &Executor{
		maxRetries: clampRetries(maxRetries),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = llmInitialInterval
			b.MaxInterval = llmMaxInterval
			b.Multiplier = llmMultiplier
			b.RandomizationFactor = llmJitter
			b.MaxElapsedTime = 0 // bounded by attempt count, not wall clock
			return b
		},
	}
}

// ForDatabase builds the fixed-backoff executor for connection losses.
func ForDatabase(maxRetries int) *Executor {
	return &Executor{
		maxRetries: clampRetries(maxRetries),
		newBackOff: func() backoff.BackOff {
			return backoff.NewConstantBackOff(databaseInterval)
		},
	}
}

// Do runs op, re-attempting it up to the executor's retry budget while the
// returned error stays retryable and the context stays alive.
//
// The error returned is always the one from the final attempt.
func (e *Executor) Do(ctx context.Context, op func() error) error {
	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !apperr.Wrap(err).Retryable() {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(e.newBackOff(), e.maxRetries), ctx)
	err := backoff.Retry(wrapped, b)

	// A context cancellation during the backoff sleep surfaces as the raw
	// context error; report it as the typed cancellation instead.
	if err != nil && ctx.Err() != nil && !apperr.IsAppError(err) {
		return apperr.Cancelled(ctx.Err())
	}
	return err
}

func clampRetries(n int) uint64 {
	if n < 0 {
		return 0
	}
	return uint64(n)
}
