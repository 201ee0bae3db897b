// Copyright (c) 2026 QueryGate. All rights reserved.

/*
Package ratelimit enforces per-client admission control: two sliding-window
request counters (minute, hour) and a token bucket for language-model
tokens.

# Concurrency

One coordinator lock protects the per-client map; each admission completes
in O(1) plus trimming expired timestamps. Windows are per client, so
contention stays low. A background task reclaims entries idle longer than
the configured timeout.
*/
package ratelimit

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/querygate/querygate/internal/platform/apperr"
	"github.com/querygate/querygate/internal/platform/config"
	"github.com/querygate/querygate/internal/platform/constants"
	"github.com/querygate/querygate/internal/platform/metrics"
)

// window is a bounded deque of event timestamps trimmed to the last span on
// every check.
type window struct {
	span   time.Duration
	events []time.Time
}

func (w *window) trim(now time.Time) {
	cutoff := now.Add(-w.span)
	i := 0
	for i < len(w.events) && !w.events[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.events = append(w.events[:0], w.events[i:]...)
	}
}

func (w *window) count() int { return len(w.events) }

func (w *window) add(now time.Time) { w.events = append(w.events, now) }

func (w *window) removeLast() {
	if len(w.events) > 0 {
		w.events = w.events[:len(w.events)-1]
	}
}

// resetAt is when the oldest event ages out, the hint clients get on
// rejection.
func (w *window) resetAt(now time.Time) time.Time {
	if len(w.events) == 0 {
		return now
	}
	return w.events[0].Add(w.span)
}

// entry is one client's admission state.
type entry struct {
	minute   window
	hour     window
	tokens   *rate.Limiter
	lastSeen time.Time
}

// Coordinator is the process-wide rate limiter.
type Coordinator struct {
	enabled       bool
	perMinute     int
	perHour       int
	tokenCapacity int
	idleTimeout   time.Duration

	log     *slog.Logger
	metrics *metrics.Set

	mu      sync.Mutex
	clients map[string]*entry

	stop chan struct{}
	done chan struct{}
}

// NewCoordinator builds the limiter from configuration. Call Start to run
// the idle-entry cleanup and Stop on shutdown.
func NewCoordinator(limitConfig config.RateLimitConfig, log *slog.Logger, set *metrics.Set) *Coordinator {
	return &Coordinator{
		enabled:       limitConfig.Enabled,
		perMinute:     limitConfig.RequestsPerMinute,
		perHour:       limitConfig.RequestsPerHour,
		tokenCapacity: limitConfig.OpenAITokensPerMinute,
		idleTimeout:   time.Duration(limitConfig.IdleTimeout) * time.Second,
		log:           log,
		metrics:       set,
		clients:       make(map[string]*entry),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// CheckRequest admits or rejects one request for the client. Both windows
// are incremented atomically: when one window rejects, the other's
// increment is rolled back so the counters stay consistent.
func (c *Coordinator) CheckRequest(client string) error {
	if !c.enabled {
		return nil
	}
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entryLocked(client, now)
	e.minute.trim(now)
	e.hour.trim(now)

	if c.perMinute > 0 && e.minute.count() >= c.perMinute {
		c.metrics.RateLimitRejections.WithLabelValues("minute").Inc()
		return apperr.RateLimitExceeded("minute", "requests", c.perMinute, 0, e.minute.resetAt(now).Unix())
	}
	e.minute.add(now)

	if c.perHour > 0 && e.hour.count() >= c.perHour {
		e.minute.removeLast()
		c.metrics.RateLimitRejections.WithLabelValues("hour").Inc()
		return apperr.RateLimitExceeded("hour", "requests", c.perHour, 0, e.hour.resetAt(now).Unix())
	}
	e.hour.add(now)
	return nil
}

// CheckTokens consumes the estimated model tokens from the client's bucket.
func (c *Coordinator) CheckTokens(client string, estimatedTokens int) error {
	if !c.enabled || c.tokenCapacity <= 0 {
		return nil
	}
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entryLocked(client, now)
	// An estimate above the bucket's whole capacity can never be admitted;
	// AllowN rejects n > burst even from a full bucket.
	if !e.tokens.AllowN(now, estimatedTokens) {
		c.metrics.RateLimitRejections.WithLabelValues("tokens").Inc()
		err := apperr.RateLimitExceeded("minute", "tokens", c.tokenCapacity,
			int(e.tokens.TokensAt(now)), now.Add(time.Minute).Unix())
		return err
	}
	return nil
}

// RecordTokens logs the actual token spend after a response, for
// monitoring only; admission already charged the estimate.
func (c *Coordinator) RecordTokens(client string, actualTokens int) {
	if !c.enabled {
		return
	}
	c.log.Debug("tokens_recorded",
		slog.String("client", client),
		slog.Int("tokens", actualTokens),
	)
}

// Start launches the idle-entry cleanup loop.
func (c *Coordinator) Start() {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(constants.RateLimitCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.cleanup(time.Now())
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop terminates the cleanup loop and waits for it to exit.
func (c *Coordinator) Stop() {
	close(c.stop)
	<-c.done
}

func (c *Coordinator) entryLocked(client string, now time.Time) *entry {
	e, ok := c.clients[client]
	if !ok {
		// Token bucket: capacity = tokens per minute, refilling at
		// capacity/60 per second.
		e = &entry{
			minute: window{span: constants.MinuteWindow},
			hour:   window{span: constants.HourWindow},
			tokens: rate.NewLimiter(rate.Limit(float64(c.tokenCapacity)/60.0), c.tokenCapacity),
		}
		c.clients[client] = e
	}
	e.lastSeen = now
	return e
}

// cleanup drops entries with no activity for idleTimeout.
func (c *Coordinator) cleanup(now time.Time) {
	if c.idleTimeout <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for client, e := range c.clients {
		if now.Sub(e.lastSeen) > c.idleTimeout {
			delete(c.clients, client)
		}
	}
}

// ClientCount reports the tracked client entries, for tests and debugging.
func (c *Coordinator) ClientCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients)
}
