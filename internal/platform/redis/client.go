// Copyright (c) 2026 QueryGate. All rights reserved.

/*
Package redis provides a managed client for the audit stream backend.

The gateway itself keeps no hot state in Redis; the only consumer is the
audit recorder, which appends query events to a stream for out-of-process
retention. The client is tuned for that write-mostly workload.

Core Responsibilities:

  - Connectivity: URL parsing, pooling, and a startup ping.
  - Back-pressure: short write timeouts so a slow Redis degrades the audit
    trail, never the request path.
*/
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Opinionated default timeouts for Redis operations.
const (
	dialTimeout  = 3 * time.Second
	readTimeout  = 2 * time.Second
	writeTimeout = 2 * time.Second
	pingTimeout  = 2 * time.Second
)

// NewClient parses a Redis URL and returns a ready-to-use client.
//
// # Parameters
//   - ctx: Context for the initial ping.
//   - redisURL: Redis connection URL.
//   - logger: Structured logger for connection events.
func NewClient(ctx context.Context, redisURL string, logger *slog.Logger) (*redis.Client, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: invalid URL: %w", err)
	}

	// Small pool; the audit recorder is the single writer.
	options.PoolSize = 4
	options.MinIdleConns = 1

	options.DialTimeout = dialTimeout
	options.ReadTimeout = readTimeout
	options.WriteTimeout = writeTimeout

	client := redis.NewClient(options)

	// Validate connectivity immediately at startup.
	if err := Ping(ctx, client); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("redis_client_connected", slog.String("addr", options.Addr))
	return client, nil
}

// Ping verifies that the Redis client is healthy.
func Ping(ctx context.Context, client *redis.Client) error {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis: ping failed: %w", err)
	}
	return nil
}
