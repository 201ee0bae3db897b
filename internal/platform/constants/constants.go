// Copyright (c) 2026 QueryGate. All rights reserved.

/*
Package constants provides centralized, immutable values for the entire platform.

It defines default timeouts, pipeline limits, and cross-cutting keys that are
shared between different layers of the system.

Categories:

  - Server Timing: Read/Write/Idle timeouts for the HTTP server.
  - Pipeline Limits: Result caps, retry bounds, and statement timeouts.
  - Rate Limiting: Window sizes and idle-entry TTLs.

Using this package ensures Magic Strings and Magic Numbers are eliminated
from the business logic.
*/
package constants

import "time"

// # Metadata

const (
	AppName    = "querygate"
	AppVersion = "0.1.0-dev"
)

// # Server Timing

const (
	// DefaultReadTimeout is the maximum duration for reading the entire request.
	DefaultReadTimeout = 30 * time.Second

	// DefaultWriteTimeout is the maximum duration before timing out writes of the response.
	DefaultWriteTimeout = 30 * time.Second

	// DefaultIdleTimeout is the maximum amount of time to wait for the next request.
	DefaultIdleTimeout = 120 * time.Second

	// DefaultReadHeaderTimeout is the amount of time allowed to read request headers.
	DefaultReadHeaderTimeout = 2 * time.Second

	// ShutdownTimeout is how long we wait for in-flight requests to complete during shutdown.
	ShutdownTimeout = 30 * time.Second

	// StartupTimeout bounds the whole wiring sequence so misconfiguration
	// fails fast instead of hanging.
	StartupTimeout = 30 * time.Second
)

// # Pipeline Limits

const (
	// CommandTimeout is the wire-level deadline applied to every acquired
	// database connection. The per-query statement timeout is set separately
	// inside the read-only transaction and is always shorter.
	CommandTimeout = 60 * time.Second

	// PoolAcquireTimeout bounds how long a request may wait for a pooled
	// connection before failing with a connection error.
	PoolAcquireTimeout = 10 * time.Second

	// MaxAuditSQLBytes caps the generated SQL stored in an audit event.
	MaxAuditSQLBytes = 500

	// MaxQuestionLength caps the natural-language question accepted from
	// the transport.
	MaxQuestionLength = 10000

	// DatabaseMaxRetries bounds the transient-connection retry loop around
	// schema introspection and query execution.
	DatabaseMaxRetries = 2
)

// # Rate Limiting

const (
	// RateLimitCleanupInterval is how often idle client entries are removed from memory.
	RateLimitCleanupInterval = 1 * time.Minute

	// DefaultRateLimitIdleTimeout is how long a client must be idle before
	// its buckets are deleted.
	DefaultRateLimitIdleTimeout = 5 * time.Minute

	// MinuteWindow and HourWindow are the spans of the two sliding windows.
	MinuteWindow = time.Minute
	HourWindow   = time.Hour
)

// # HTTP Headers

const (
	HeaderXRequestID    = "X-Request-ID"
	HeaderXRealIP       = "X-Real-IP"
	HeaderXForwardedFor = "X-Forwarded-For"
	HeaderAuthorization = "Authorization"
)

// # JSON Field Identifiers

const (
	FieldCode    = "code"
	FieldError   = "error"
	FieldDetails = "details"
)
