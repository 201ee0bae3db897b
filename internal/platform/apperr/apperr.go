// Copyright (c) 2026 QueryGate. All rights reserved.

/*
Package apperr defines the centralized error handling framework for QueryGate.

It provides a rich error type that bridges the gap between low-level component
errors (parser, policy, planner, database driver, model vendor) and the wire
error shape returned to clients.

Architecture:

  - AppError: A struct carrying a machine-readable Code, a failure Kind, a
    client-safe message, and structured Details.
  - Kinds: The error taxonomy. Every kind maps to exactly one wire code, and
    the kind alone decides whether the retry executor may re-attempt.
  - Propagation: Lower layers raise typed errors; only the orchestrator maps
    them to the wire response.

Every error that leaves a component should be an [AppError] so the audit
trail and the client response stay consistent.
*/
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for retry and audit purposes.
type Kind string

// The error taxonomy. Each kind maps to one wire code and one retry policy.
const (
	KindConfiguration    Kind = "configuration"     // fatal at startup
	KindConnTransient    Kind = "conn_transient"    // retryable with fixed backoff
	KindConnFatal        Kind = "conn_fatal"        // terminal
	KindPolicyDenial     Kind = "policy_denial"     // terminal, audited
	KindCostDenial       Kind = "cost_denial"       // terminal, audited
	KindLLMTransient     Kind = "llm_transient"     // retryable with exponential backoff
	KindLLMFatal         Kind = "llm_fatal"         // terminal
	KindRateLimit        Kind = "rate_limit"        // terminal per request
	KindSyntax           Kind = "syntax"            // bounded model retry
	KindExecutionTimeout Kind = "execution_timeout" // terminal
	KindInternal         Kind = "internal"          // terminal, logged, generic message
)

// Wire error codes. The orchestrator is the only layer that writes these
// into responses; components pick them when constructing an [AppError].
const (
	CodeUnknownDatabase    = "UNKNOWN_DATABASE"
	CodeAmbiguousQuery     = "AMBIGUOUS_QUERY"
	CodeUnsafeSQL          = "UNSAFE_SQL"
	CodeSyntaxError        = "SYNTAX_ERROR"
	CodeExecutionTimeout   = "EXECUTION_TIMEOUT"
	CodeConnectionError    = "CONNECTION_ERROR"
	CodeOpenAIError        = "OPENAI_ERROR"
	CodeResultTooLarge     = "RESULT_TOO_LARGE"
	CodeValidationError    = "VALIDATION_ERROR"
	CodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	CodeAccessDenied       = "ACCESS_DENIED"
	CodeTableAccessDenied  = "TABLE_ACCESS_DENIED"
	CodeColumnAccessDenied = "COLUMN_ACCESS_DENIED"
	CodeSchemaAccessDenied = "SCHEMA_ACCESS_DENIED"
	CodeQueryTooExpensive  = "QUERY_TOO_EXPENSIVE"
	CodeSeqScanDenied      = "SEQ_SCAN_DENIED"
	CodeConfigurationError = "CONFIGURATION_ERROR"
	CodeInternalError      = "INTERNAL_ERROR"
	CodeCancelled          = "CANCELLED"
)

// AppError is the canonical error type for the QueryGate pipeline.
//
// # Security
//
// The Cause field is for server-side logging only and is never sent to
// clients. Message must never dump catalog details beyond what the policy
// already exposes: it may name the offending schema/table/column but never
// enumerates alternatives.
type AppError struct {
	// Code is the machine-readable wire identifier (e.g. "SEQ_SCAN_DENIED").
	Code string `json:"error_code"`
	// Kind classifies the failure for retry and audit decisions.
	Kind Kind `json:"-"`
	// Message is a human-readable description safe to return to the client.
	Message string `json:"error_message"`
	// Details holds structured, client-safe context (window, limits, row
	// estimates). May be nil.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error, used for server-side logging only.
	Cause error `json:"-"`
}

// Error implements the error interface. It returns the client-safe message.
func (e *AppError) Error() string { return e.Message }

// Unwrap allows [errors.Is] and [errors.As] to traverse the cause chain.
func (e *AppError) Unwrap() error { return e.Cause }

// Retryable reports whether the retry executor may re-attempt the failed
// operation. Only transient kinds qualify; syntax errors use the separate
// bounded model-retry loop instead.
func (e *AppError) Retryable() bool {
	return e.Kind == KindConnTransient || e.Kind == KindLLMTransient
}

// WithDetail returns e with one structured detail added, allocating the
// details map on first use.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any, 2)
	}
	e.Details[key] = value
	return e
}

// # Constructors

// New builds an [AppError] from its parts. Prefer the named constructors
// below; New exists for call sites that compute the code dynamically.
func New(code string, kind Kind, message string) *AppError {
	return &AppError{Code: code, Kind: kind, Message: message}
}

// UnknownDatabase reports a request naming an unconfigured database.
func UnknownDatabase(name string) *AppError {
	return &AppError{
		Code:    CodeUnknownDatabase,
		Kind:    KindConfiguration,
		Message: fmt.Sprintf("Unknown database %q", name),
	}
}

// UnsafeSQL reports a generated statement that is not a read query.
func UnsafeSQL(kind string) *AppError {
	return &AppError{
		Code:    CodeUnsafeSQL,
		Kind:    KindPolicyDenial,
		Message: fmt.Sprintf("Only read queries are allowed; got a %s statement", kind),
	}
}

// InvalidSQL reports unparseable SQL together with the byte position where
// parsing stopped. This kind participates in the bounded model-retry loop.
func InvalidSQL(msg string, position int) *AppError {
	e := &AppError{
		Code:    CodeSyntaxError,
		Kind:    KindSyntax,
		Message: msg,
	}
	return e.WithDetail("position", position)
}

// SchemaAccessDenied reports a reference to a schema outside the allow list.
func SchemaAccessDenied(schema string) *AppError {
	return &AppError{
		Code:    CodeSchemaAccessDenied,
		Kind:    KindPolicyDenial,
		Message: fmt.Sprintf("Access to schema %q is not allowed", schema),
	}
}

// TableAccessDenied reports a reference to a disallowed table.
func TableAccessDenied(table string) *AppError {
	return &AppError{
		Code:    CodeTableAccessDenied,
		Kind:    KindPolicyDenial,
		Message: fmt.Sprintf("Access to table %q is not allowed", table),
	}
}

// ColumnAccessDenied reports a reference to a denied column.
func ColumnAccessDenied(column string) *AppError {
	return &AppError{
		Code:    CodeColumnAccessDenied,
		Kind:    KindPolicyDenial,
		Message: fmt.Sprintf("Access to column %q is not allowed", column),
	}
}

// QueryTooExpensive reports a plan whose estimated row count exceeds the
// configured budget.
func QueryTooExpensive(estimatedRows, maxRows int64) *AppError {
	e := &AppError{
		Code:    CodeQueryTooExpensive,
		Kind:    KindCostDenial,
		Message: "Query rejected: estimated result size exceeds the configured budget",
	}
	return e.WithDetail("estimated_rows", estimatedRows).WithDetail("max_estimated_rows", maxRows)
}

// SeqScanDenied reports a sequential scan over a large table.
func SeqScanDenied(table string, planRows int64) *AppError {
	e := &AppError{
		Code:    CodeSeqScanDenied,
		Kind:    KindCostDenial,
		Message: fmt.Sprintf("Query rejected: sequential scan over large table %q", table),
	}
	return e.WithDetail("table", table).WithDetail("plan_rows", planRows)
}

// RateLimitExceeded reports an exhausted sliding window or token bucket.
// window is "minute" or "hour"; limitType is "requests" or "tokens".
func RateLimitExceeded(window, limitType string, limit int, remaining int, resetAt int64) *AppError {
	e := &AppError{
		Code:    CodeRateLimitExceeded,
		Kind:    KindRateLimit,
		Message: fmt.Sprintf("Rate limit exceeded for the current %s window", window),
	}
	e.WithDetail("window", window).WithDetail("limit_type", limitType)
	e.WithDetail("limit", limit).WithDetail("remaining", remaining)
	return e.WithDetail("reset_at", resetAt)
}

// ExecutionTimeout reports a statement cancelled by statement_timeout or a
// context deadline. The partial plan is deliberately not carried.
func ExecutionTimeout(cause error) *AppError {
	return &AppError{
		Code:    CodeExecutionTimeout,
		Kind:    KindExecutionTimeout,
		Message: "Query execution exceeded the configured timeout",
		Cause:   cause,
	}
}

// ConnectionLost reports a transient connection failure eligible for the
// fixed-backoff database retry.
func ConnectionLost(cause error) *AppError {
	return &AppError{
		Code:    CodeConnectionError,
		Kind:    KindConnTransient,
		Message: "Database connection failed",
		Cause:   cause,
	}
}

// ConnectionFatal reports a non-recoverable connection failure, such as an
// acquire on a closed pool.
func ConnectionFatal(cause error) *AppError {
	return &AppError{
		Code:    CodeConnectionError,
		Kind:    KindConnFatal,
		Message: "Database connection unavailable",
		Cause:   cause,
	}
}

// OpenAI reports a model vendor failure. transient selects between the
// retryable (rate-limit, timeout, server-error) and terminal (auth,
// invalid-request) kinds.
func OpenAI(cause error, transient bool) *AppError {
	kind := KindLLMFatal
	if transient {
		kind = KindLLMTransient
	}
	return &AppError{
		Code:    CodeOpenAIError,
		Kind:    kind,
		Message: "Language model request failed",
		Cause:   cause,
	}
}

// Ambiguous reports a question the model could not turn into SQL.
func Ambiguous(reason string) *AppError {
	if reason == "" {
		reason = "The question could not be translated into a SQL query"
	}
	return &AppError{
		Code:    CodeAmbiguousQuery,
		Kind:    KindLLMFatal,
		Message: reason,
	}
}

// Validation reports semantically invalid client input.
func Validation(msg string) *AppError {
	return &AppError{
		Code:    CodeValidationError,
		Kind:    KindConfiguration,
		Message: msg,
	}
}

// Configuration reports an invalid configuration value. Fatal at startup.
func Configuration(msg string) *AppError {
	return &AppError{
		Code:    CodeConfigurationError,
		Kind:    KindConfiguration,
		Message: msg,
	}
}

// Cancelled reports a request whose context was cancelled by the caller.
func Cancelled(cause error) *AppError {
	return &AppError{
		Code:    CodeCancelled,
		Kind:    KindExecutionTimeout,
		Message: "Request cancelled",
		Cause:   cause,
	}
}

// Internal creates a generic [AppError] wrapping an unexpected server-side
// error. The cause is stored for logging but is never sent to the client.
func Internal(cause error) *AppError {
	return &AppError{
		Code:    CodeInternalError,
		Kind:    KindInternal,
		Message: "An unexpected error occurred",
		Cause:   cause,
	}
}

// # Helpers

// IsAppError reports whether err (or any error in its chain) is an [*AppError].
func IsAppError(err error) bool {
	var ae *AppError
	return errors.As(err, &ae)
}

// As extracts the [*AppError] from err's chain. It returns nil if not found.
func As(err error) *AppError {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae
	}
	return nil
}

// Wrap coerces any error into an [*AppError], preserving typed errors and
// hiding everything else behind a generic internal error.
func Wrap(err error) *AppError {
	if ae := As(err); ae != nil {
		return ae
	}
	return Internal(err)
}
