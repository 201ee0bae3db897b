// Copyright (c) 2026 QueryGate. All rights reserved.

package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	redisstore "github.com/querygate/querygate/internal/platform/redis"
)

// LogSink writes events to the structured log. Always configured; the
// audit trail is at minimum greppable from the process output.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink builds the log sink.
func NewLogSink(log *slog.Logger) *LogSink {
	return &LogSink{log: log}
}

// Write emits one event as a structured record.
func (s *LogSink) Write(_ context.Context, event *Event) error {
	attrs := []any{
		slog.String("event_id", event.EventID),
		slog.String("event_type", string(event.EventType)),
		slog.String("client", event.Client.Identity),
		slog.String("request_id", event.Client.RequestID),
		slog.String("database", event.Query.Database),
		slog.String("question", event.Query.Question),
		slog.String("sql", event.Query.GeneratedSQL),
	}
	if event.Result != nil {
		attrs = append(attrs,
			slog.Int("row_count", event.Result.RowCount),
			slog.Duration("duration", event.Result.Duration),
			slog.Bool("truncated", event.Result.Truncated),
		)
	}
	if event.Error != nil {
		attrs = append(attrs,
			slog.String("error_code", event.Error.Code),
			slog.String("error_message", event.Error.Message),
		)
	}
	s.log.Info("audit_event", attrs...)
	return nil
}

// Close is a no-op; the logger outlives the sink.
func (s *LogSink) Close() error { return nil }

// RedisSink appends events to a Redis stream, one XADD per event with the
// JSON document in the "event" field. Stream consumers get the durable
// trail; delivery failures are logged by the recorder and do not fail the
// request.
type RedisSink struct {
	client *redis.Client
	stream string
}

// NewRedisSink connects to Redis and verifies the connection.
func NewRedisSink(ctx context.Context, url, stream string, log *slog.Logger) (*RedisSink, error) {
	client, err := redisstore.NewClient(ctx, url, log)
	if err != nil {
		return nil, fmt.Errorf("audit sink: %w", err)
	}
	return &RedisSink{client: client, stream: stream}, nil
}

// Write appends one event to the stream.
func (s *RedisSink) Write(ctx context.Context, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{"event": payload},
	}).Err()
}

// Close releases the Redis connection.
func (s *RedisSink) Close() error { return s.client.Close() }
