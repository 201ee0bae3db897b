// Copyright (c) 2026 QueryGate. All rights reserved.

/*
Package audit records one event per finished request.

# Delivery Model

The orchestrator produces events synchronously; a single consumer goroutine
drains a bounded queue and fans out to the configured sinks, so audit I/O
never blocks the request path. Overflow drops the oldest queued event and
increments a counter. Events are append-only and never mutated after
Record.
*/
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/querygate/querygate/internal/platform/constants"
	"github.com/querygate/querygate/internal/platform/metrics"
	"github.com/querygate/querygate/internal/platform/secret"
)

// EventType classifies the terminal outcome of a request.
type EventType string

const (
	EventQueryExecuted   EventType = "query_executed"
	EventQueryDenied     EventType = "query_denied"
	EventQueryFailed     EventType = "query_failed"
	EventPolicyViolation EventType = "policy_violation"
)

// ClientInfo identifies the caller as the transport saw it.
type ClientInfo struct {
	Identity  string `json:"identity"`
	RequestID string `json:"request_id,omitempty"`
}

// QueryInfo carries the question and the SQL that was (or would have been)
// executed. GeneratedSQL is truncated and redacted at Record time.
type QueryInfo struct {
	Question     string `json:"question"`
	GeneratedSQL string `json:"generated_sql,omitempty"`
	Database     string `json:"database"`
}

// PolicyInfo describes a failed policy check.
type PolicyInfo struct {
	Violation string `json:"violation"`
	Object    string `json:"object,omitempty"`
}

// ResultInfo summarizes a successful execution.
type ResultInfo struct {
	RowCount   int           `json:"row_count"`
	Duration   time.Duration `json:"duration"`
	Truncated  bool          `json:"truncated"`
	LLMRetries int           `json:"llm_retries,omitempty"`
}

// ErrorInfo carries the terminal error for failed and denied requests.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Event is one audit record.
type Event struct {
	EventID   string      `json:"event_id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Client    ClientInfo  `json:"client"`
	Query     QueryInfo   `json:"query"`
	Policy    *PolicyInfo `json:"policy,omitempty"`
	Result    *ResultInfo `json:"result,omitempty"`
	Error     *ErrorInfo  `json:"error,omitempty"`
}

// Sink receives finished events. Writes for one sink are serialized by the
// recorder's consumer goroutine.
type Sink interface {
	Write(ctx context.Context, event *Event) error
	Close() error
}

// Recorder owns the queue and the sinks.
type Recorder struct {
	log     *slog.Logger
	metrics *metrics.Set
	sinks   []Sink

	queue chan *Event
	done  chan struct{}
}

// NewRecorder builds a recorder with the given sinks and queue capacity.
func NewRecorder(queueSize int, sinks []Sink, log *slog.Logger, set *metrics.Set) *Recorder {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Recorder{
		log:     log,
		metrics: set,
		sinks:   sinks,
		queue:   make(chan *Event, queueSize),
		done:    make(chan struct{}),
	}
}

// Record finalizes and enqueues one event: id and timestamp are assigned,
// the SQL is truncated to the audit cap, and free-text fields pass through
// secret redaction. When the queue is full the oldest event is dropped.
func (r *Recorder) Record(event *Event) {
	if event.EventID == "" {
		if id, err := uuid.NewV7(); err == nil {
			event.EventID = id.String()
		} else {
			event.EventID = uuid.NewString()
		}
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	event.Query.Question = secret.Redact(event.Query.Question)
	event.Query.GeneratedSQL = secret.Redact(truncateSQL(event.Query.GeneratedSQL))
	if event.Error != nil {
		event.Error.Message = secret.Redact(event.Error.Message)
	}

	for {
		select {
		case r.queue <- event:
			return
		default:
		}
		// Full: drop the oldest queued event and retry.
		select {
		case <-r.queue:
			r.metrics.AuditDropped.Inc()
		default:
		}
	}
}

// Start launches the consumer goroutine.
func (r *Recorder) Start() {
	go func() {
		defer close(r.done)
		for event := range r.queue {
			r.deliver(event)
		}
	}()
}

// Stop drains the queue, waits for the consumer, and closes the sinks.
func (r *Recorder) Stop() {
	close(r.queue)
	<-r.done
	for _, sink := range r.sinks {
		if err := sink.Close(); err != nil {
			r.log.Warn("audit_sink_close_failed", slog.Any("error", err))
		}
	}
}

func (r *Recorder) deliver(event *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, sink := range r.sinks {
		if err := sink.Write(ctx, event); err != nil {
			r.log.Warn("audit_write_failed",
				slog.String("event_id", event.EventID),
				slog.String("event_type", string(event.EventType)),
				slog.Any("error", err),
			)
		}
	}
}

func truncateSQL(sql string) string {
	if len(sql) <= constants.MaxAuditSQLBytes {
		return sql
	}
	return sql[:constants.MaxAuditSQLBytes]
}
