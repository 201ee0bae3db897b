// Copyright (c) 2026 QueryGate. All rights reserved.

/*
Package orchestrator sequences the query pipeline: admission, schema,
generation, parsing, policy, cost gate, execution, audit.

# Error Mapping

This is the only layer that turns typed errors into wire codes. Components
below it raise [apperr.AppError] values carrying a kind and details; the
orchestrator decides what is terminal, what retries, and what the audit
event type is. Within one request the pipeline is strictly sequential; the
components are safe for any number of concurrent requests.
*/
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/querygate/querygate/internal/audit"
	"github.com/querygate/querygate/internal/llm"
	"github.com/querygate/querygate/internal/platform/apperr"
	"github.com/querygate/querygate/internal/platform/constants"
	"github.com/querygate/querygate/internal/platform/ctxutil"
	"github.com/querygate/querygate/internal/platform/metrics"
	"github.com/querygate/querygate/internal/platform/retry"
	"github.com/querygate/querygate/internal/policy"
	"github.com/querygate/querygate/internal/schema"
	"github.com/querygate/querygate/internal/sqlparse"
)

// # Component Contracts
//
// Narrow capability interfaces so tests can replace each stage 1:1.

// SchemaProvider supplies snapshots.
type SchemaProvider interface {
	Get(ctx context.Context, database string) (*schema.Snapshot, error)
	Refresh(ctx context.Context, database string) (*schema.Snapshot, error)
}

// Generator produces SQL from a question.
type Generator interface {
	GenerateSQL(ctx context.Context, question string, snap *schema.Snapshot, errorContext string) (*llm.Result, error)
}

// PolicyChecker validates parsed SQL for one database.
type PolicyChecker interface {
	Validate(info *sqlparse.Info, snap *schema.Snapshot, sql string) *policy.Result
}

// Executor runs the canonical SQL, including the explain gate.
type Executor interface {
	Execute(ctx context.Context, database, sql string, snap *schema.Snapshot) (*QueryResult, error)
}

// Limiter is the admission control surface.
type Limiter interface {
	CheckRequest(client string) error
	CheckTokens(client string, estimatedTokens int) error
	RecordTokens(client string, actualTokens int)
}

// Auditor records terminal events.
type Auditor interface {
	Record(event *audit.Event)
}

// ReturnType selects what the caller gets back.
const (
	ReturnSQL    = "sql"
	ReturnResult = "result"
	ReturnBoth   = "both"
)

// Request is one natural-language query.
type Request struct {
	Question   string
	Database   string
	ReturnType string
	// Limit optionally lowers the row cap for this request; it can never
	// raise it above the configured maximum.
	Limit int
}

// QueryResult is the materialized result set.
type QueryResult struct {
	Columns   []string      `json:"columns"`
	Rows      [][]any       `json:"rows"`
	RowCount  int           `json:"row_count"`
	Truncated bool          `json:"truncated"`
	Duration  time.Duration `json:"-"`
}

// Response is the deterministic wire shape.
type Response struct {
	Success      bool           `json:"success"`
	SQL          string         `json:"sql,omitempty"`
	Explanation  string         `json:"explanation,omitempty"`
	Result       *QueryResult   `json:"result,omitempty"`
	ErrorCode    string         `json:"error_code,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
}

// Options carries the per-process tuning knobs.
type Options struct {
	MaxResultRows      int
	MaxSQLRetry        int
	LLMMaxRetries      int
	DatabaseMaxRetries int
}

// Orchestrator composes the pipeline once per process.
type Orchestrator struct {
	schemas  SchemaProvider
	generate Generator
	policies map[string]PolicyChecker
	execute  Executor
	limiter  Limiter
	auditor  Auditor

	options Options

	llmRetry *retry.Executor
	dbRetry  *retry.Executor

	log     *slog.Logger
	metrics *metrics.Set
}

// New wires the orchestrator. policies is keyed by database name.
func New(schemas SchemaProvider, generate Generator, policies map[string]PolicyChecker,
	execute Executor, limiter Limiter, auditor Auditor,
	options Options, log *slog.Logger, set *metrics.Set) *Orchestrator {
	return &Orchestrator{
		schemas:  schemas,
		generate: generate,
		policies: policies,
		execute:  execute,
		limiter:  limiter,
		auditor:  auditor,
		options:  options,
		llmRetry: retry.ForLLM(options.LLMMaxRetries),
		dbRetry:  retry.ForDatabase(options.DatabaseMaxRetries),
		log:      log,
		metrics:  set,
	}
}

// Query runs the full pipeline for one request. It never returns a Go
// error; every failure becomes a typed wire response, and every terminal
// path emits exactly one audit event.
func (o *Orchestrator) Query(ctx context.Context, request Request) *Response {
	started := time.Now()
	client := ctxutil.GetClient(ctx)
	log := ctxutil.GetLogger(ctx)

	run := &requestRun{
		orchestrator: o,
		request:      request,
		client:       client,
		requestID:    ctxutil.GetRequestID(ctx),
		log:          log,
	}

	response := run.execute(ctx)

	outcome := "executed"
	if !response.Success {
		outcome = outcomeLabel(response.ErrorCode)
	}
	o.metrics.Requests.WithLabelValues(request.Database, outcome).Inc()
	o.metrics.RequestDuration.WithLabelValues(request.Database).Observe(time.Since(started).Seconds())
	return response
}

// RefreshSchema forces a new introspection for the named databases.
func (o *Orchestrator) RefreshSchema(ctx context.Context, databases []string) ([]string, error) {
	refreshed := make([]string, 0, len(databases))
	for _, database := range databases {
		if _, err := o.schemas.Refresh(ctx, database); err != nil {
			return refreshed, err
		}
		refreshed = append(refreshed, database)
	}
	return refreshed, nil
}

// requestRun is the per-request state threaded through the stages.
type requestRun struct {
	orchestrator *Orchestrator
	request      Request
	client       string
	requestID    string
	log          *slog.Logger

	snapshot   *schema.Snapshot
	sql        string
	llmCalls   int
	tokensUsed int64
}

func (r *requestRun) execute(ctx context.Context) *Response {
	o := r.orchestrator

	if err := r.validateRequest(); err != nil {
		return r.fail(err, audit.EventQueryFailed, nil)
	}

	// 1. Admission: both checks up front, token charge on the estimate.
	if err := o.limiter.CheckRequest(r.client); err != nil {
		return r.fail(err, audit.EventQueryDenied, nil)
	}
	if err := o.limiter.CheckTokens(r.client, llm.EstimateTokens(r.request.Question, nil)); err != nil {
		return r.fail(err, audit.EventQueryDenied, nil)
	}

	// 2. Schema, retrying transient connection failures.
	err := o.dbRetry.Do(ctx, func() error {
		snap, err := o.schemas.Get(ctx, r.request.Database)
		if err != nil {
			return err
		}
		r.snapshot = snap
		return nil
	})
	if err != nil {
		return r.fail(err, audit.EventQueryFailed, nil)
	}

	// 3..7. Generation loop: syntax failures from the parser or the
	// database feed the error back to the model, bounded by max_sql_retry.
	errorContext := ""
	for attempt := 0; ; attempt++ {
		response, retrySyntax, err := r.attempt(ctx, errorContext)
		if err == nil {
			return response
		}
		if !retrySyntax || attempt >= o.options.MaxSQLRetry {
			return r.terminalError(err)
		}
		o.metrics.LLMRetries.Inc()
		errorContext = apperr.Wrap(err).Message
		r.log.Info("syntax_retry",
			slog.Int("attempt", attempt+1),
			slog.String("error", errorContext),
		)
	}
}

// attempt runs one generate→parse→policy→execute pass. The boolean reports
// whether the returned error is a syntax error eligible for a model re-ask.
func (r *requestRun) attempt(ctx context.Context, errorContext string) (*Response, bool, error) {
	o := r.orchestrator

	// Generation, with transient-vendor retry inside.
	var generated *llm.Result
	err := o.llmRetry.Do(ctx, func() error {
		result, err := o.generate.GenerateSQL(ctx, r.request.Question, r.snapshot, errorContext)
		if err != nil {
			return err
		}
		generated = result
		return nil
	})
	r.llmCalls++
	if err != nil {
		return nil, false, err
	}
	r.tokensUsed += generated.TokensUsed
	o.limiter.RecordTokens(r.client, int(generated.TokensUsed))
	o.metrics.LLMTokens.WithLabelValues(r.request.Database).Add(float64(generated.TokensUsed))

	// Parse; unparseable SQL is the retryable syntax case.
	info, err := sqlparse.Parse(generated.SQL)
	if err != nil {
		return nil, true, err
	}
	if info.Kind == sqlparse.KindOther {
		// Unclassifiable output is a generation problem, not a policy one;
		// feed it back to the model like any other syntax error.
		return nil, true, apperr.InvalidSQL("unrecognized statement", 0)
	}
	if !info.Kind.ReadOnly() {
		return nil, false, apperr.UnsafeSQL(string(info.Kind))
	}
	if info.Statements > 1 {
		return nil, false, apperr.UnsafeSQL("multi-statement")
	}

	// Policy. Denials are terminal: the model saw the schema and chose
	// wrong; asking again does not help.
	sql := generated.SQL
	if checker, ok := o.policies[r.request.Database]; ok {
		result := checker.Validate(info, r.snapshot, sql)
		if !result.Allowed {
			return nil, false, result.Deny()
		}
		if result.RewrittenSQL != "" {
			sql = result.RewrittenSQL
			if info, err = sqlparse.Parse(sql); err != nil {
				return nil, false, apperr.Internal(err)
			}
		}
	}

	r.sql = sqlparse.Canonicalize(sql, info, r.effectiveLimit())

	if r.request.ReturnType == ReturnSQL {
		r.audit(audit.EventQueryExecuted, nil, nil)
		return &Response{Success: true, SQL: r.sql, Explanation: generated.Explanation}, false, nil
	}

	// Execute, retrying lost connections. A database-reported syntax
	// error (rare post-parse) re-enters the model loop.
	var queryResult *QueryResult
	err = o.dbRetry.Do(ctx, func() error {
		result, err := o.execute.Execute(ctx, r.request.Database, r.sql, r.snapshot)
		if err != nil {
			return err
		}
		queryResult = result
		return nil
	})
	if err != nil {
		if apperr.Wrap(err).Kind == apperr.KindSyntax {
			return nil, true, err
		}
		return nil, false, err
	}

	r.capResult(queryResult)
	r.audit(audit.EventQueryExecuted, queryResult, nil)

	response := &Response{Success: true, Result: queryResult}
	if r.request.ReturnType != ReturnResult {
		response.SQL = r.sql
		response.Explanation = generated.Explanation
	}
	return response, false, nil
}

func (r *requestRun) validateRequest() error {
	if r.request.Database == "" {
		return apperr.Validation("database is required")
	}
	question := r.request.Question
	if question == "" {
		return apperr.Validation("question is required")
	}
	if len(question) > constants.MaxQuestionLength {
		return apperr.Validation("question exceeds the maximum length")
	}
	switch r.request.ReturnType {
	case "", ReturnSQL, ReturnResult, ReturnBoth:
		return nil
	default:
		return apperr.Validation("return_type must be sql, result, or both")
	}
}

// effectiveLimit is the injected LIMIT: the configured cap, lowered by the
// request's own limit when given.
func (r *requestRun) effectiveLimit() int {
	max := r.orchestrator.options.MaxResultRows
	if r.request.Limit > 0 && r.request.Limit < max {
		return r.request.Limit
	}
	return max
}

// capResult enforces the row cap on the materialized result; an explicit
// model-written LIMIT above the cap is cut here.
func (r *requestRun) capResult(result *QueryResult) {
	limit := r.effectiveLimit()
	if limit > 0 && len(result.Rows) > limit {
		result.Rows = result.Rows[:limit]
		result.Truncated = true
	}
	result.RowCount = len(result.Rows)
}

// terminalError maps the pipeline error to its audit event type and wire
// response.
func (r *requestRun) terminalError(err error) *Response {
	appError := apperr.Wrap(err)
	switch appError.Kind {
	case apperr.KindPolicyDenial:
		return r.fail(appError, audit.EventPolicyViolation, &audit.PolicyInfo{
			Violation: appError.Code,
		})
	case apperr.KindCostDenial, apperr.KindRateLimit:
		return r.fail(appError, audit.EventQueryDenied, nil)
	default:
		return r.fail(appError, audit.EventQueryFailed, nil)
	}
}

// fail emits the audit event and builds the error response. Internal
// causes are logged, never sent to the caller.
func (r *requestRun) fail(err error, eventType audit.EventType, policyInfo *audit.PolicyInfo) *Response {
	appError := apperr.Wrap(err)

	if appError.Kind == apperr.KindInternal && appError.Cause != nil {
		r.log.Error("request_failed",
			slog.String("database", r.request.Database),
			slog.Any("error", appError.Cause),
		)
	}

	event := &audit.Event{
		EventType: eventType,
		Policy:    policyInfo,
		Error:     &audit.ErrorInfo{Code: appError.Code, Message: appError.Message},
	}
	r.recordEvent(event)

	return &Response{
		Success:      false,
		ErrorCode:    appError.Code,
		ErrorMessage: appError.Message,
		Details:      appError.Details,
	}
}

// audit emits the success-path event.
func (r *requestRun) audit(eventType audit.EventType, result *QueryResult, policyInfo *audit.PolicyInfo) {
	event := &audit.Event{EventType: eventType, Policy: policyInfo}
	if result != nil {
		event.Result = &audit.ResultInfo{
			RowCount:   result.RowCount,
			Duration:   result.Duration,
			Truncated:  result.Truncated,
			LLMRetries: r.llmCalls - 1,
		}
	}
	r.recordEvent(event)
}

func (r *requestRun) recordEvent(event *audit.Event) {
	event.Client = audit.ClientInfo{Identity: r.client, RequestID: r.requestID}
	event.Query = audit.QueryInfo{
		Question:     r.request.Question,
		GeneratedSQL: r.sql,
		Database:     r.request.Database,
	}
	r.orchestrator.auditor.Record(event)
}

// outcomeLabel folds wire codes into the metric's outcome dimension.
func outcomeLabel(code string) string {
	switch code {
	case apperr.CodeRateLimitExceeded:
		return "rate_limited"
	case apperr.CodeAccessDenied, apperr.CodeTableAccessDenied, apperr.CodeColumnAccessDenied,
		apperr.CodeSchemaAccessDenied, apperr.CodeQueryTooExpensive, apperr.CodeSeqScanDenied,
		apperr.CodeUnsafeSQL:
		return "denied"
	default:
		return "failed"
	}
}
