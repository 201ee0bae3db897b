// Copyright (c) 2026 QueryGate. All rights reserved.

// Package ctxkey defines typed context keys used by middleware and the
// query orchestrator.
//
// # Safety
//
// It is used to store and retrieve per-request values (client identity,
// request ID, logger). Using a private, unexported type for keys prevents
// collisions with third-party packages that might also use context for
// storage.
package ctxkey

// key is an unexported type used for context keys to ensure type safety.
//
// # Collision Prevention
//
// Even if another package uses "request_id" as a string key, it will not
// collide with this key type because Go's [context.Context] uses both the
// value AND the type for lookups.
type key string

const (
	// KeyRequestID is the context key for the X-Request-ID correlation value.
	KeyRequestID key = "request_id"

	// KeyClient is the context key for the rate-limit client identity.
	KeyClient key = "client"

	// KeyLogger is the context key for the per-request [*log/slog.Logger].
	KeyLogger key = "logger"
)
