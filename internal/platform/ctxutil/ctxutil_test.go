// Copyright (c) 2026 QueryGate. All rights reserved.

package ctxutil_test

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/querygate/querygate/internal/platform/ctxutil"
)

/*
TestContext_RequestID verifies that Request IDs can be injected and retrieved.
*/
func TestContext_RequestID(t *testing.T) {
	ctx := context.Background()
	requestID := "test-request-id"

	// 1. Initially should be empty
	assert.Empty(t, ctxutil.GetRequestID(ctx))

	// 2. Inject and retrieve
	ctx = ctxutil.WithRequestID(ctx, requestID)
	assert.Equal(t, requestID, ctxutil.GetRequestID(ctx))
}

/*
TestContext_Logger verifies that a custom logger can be stored in context.
*/
func TestContext_Logger(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// 1. Initially should return the default logger
	assert.Equal(t, slog.Default(), ctxutil.GetLogger(ctx))

	// 2. Inject and retrieve
	ctx = ctxutil.WithLogger(ctx, logger)
	assert.Equal(t, logger, ctxutil.GetLogger(ctx))
}

/*
TestContext_Client verifies the client identity fallback and round-trip.
*/
func TestContext_Client(t *testing.T) {
	ctx := context.Background()

	// 1. Without a transport-supplied identity, requests are anonymous
	assert.Equal(t, ctxutil.AnonymousClient, ctxutil.GetClient(ctx))

	// 2. Inject and retrieve
	ctx = ctxutil.WithClient(ctx, "203.0.113.7")
	assert.Equal(t, "203.0.113.7", ctxutil.GetClient(ctx))

	// 3. An explicitly empty identity still resolves to anonymous
	ctx = ctxutil.WithClient(context.Background(), "")
	assert.Equal(t, ctxutil.AnonymousClient, ctxutil.GetClient(ctx))
}
