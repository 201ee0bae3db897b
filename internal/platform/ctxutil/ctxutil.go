// Copyright (c) 2026 QueryGate. All rights reserved.

// Package ctxutil provides helpers for interacting with values stored in [context.Context].
package ctxutil

import (
	"context"
	"log/slog"

	"github.com/querygate/querygate/internal/platform/ctxkey"
)

// AnonymousClient is the client identity used when the transport layer
// could not attribute the request to an IP or API key.
const AnonymousClient = "anonymous"

// # Request Tracing

// WithRequestID returns a new context with the provided request ID attached.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxkey.KeyRequestID, id)
}

// GetRequestID retrieves the request ID from the context.
// Returns an empty string if not found.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxkey.KeyRequestID).(string)
	return id
}

// # Structured Logging

// WithLogger returns a new context with the provided logger attached.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxkey.KeyLogger, logger)
}

// GetLogger retrieves the logger from the context.
// If no logger is found, it returns the global default logger.
func GetLogger(ctx context.Context) *slog.Logger {
	logger, ok := ctx.Value(ctxkey.KeyLogger).(*slog.Logger)
	if !ok {
		return slog.Default()
	}
	return logger
}

// # Client Identity

// WithClient returns a new context with the rate-limit client identity attached.
//
// The identity is an opaque key supplied by the transport layer: an IP
// address, an API-key hash, or [AnonymousClient].
func WithClient(ctx context.Context, client string) context.Context {
	return context.WithValue(ctx, ctxkey.KeyClient, client)
}

// GetClient retrieves the client identity from the [context.Context].
// Returns [AnonymousClient] if the transport did not attach one.
func GetClient(ctx context.Context) string {
	client, ok := ctx.Value(ctxkey.KeyClient).(string)
	if !ok || client == "" {
		return AnonymousClient
	}
	return client
}
