// Copyright (c) 2026 QueryGate. All rights reserved.

package ratelimit

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querygate/querygate/internal/platform/apperr"
	"github.com/querygate/querygate/internal/platform/config"
	"github.com/querygate/querygate/internal/platform/metrics"
)

func newTestCoordinator(limitConfig config.RateLimitConfig) *Coordinator {
	limitConfig.Enabled = true
	return NewCoordinator(limitConfig, slog.Default(), metrics.NewForTest())
}

/*
TestCheckRequest_MinuteWindow verifies the admission boundary: exactly
requests_per_minute requests pass, the next one fails with the window and
limit in the details, and a different client is unaffected.
*/
func TestCheckRequest_MinuteWindow(t *testing.T) {
	coordinator := newTestCoordinator(config.RateLimitConfig{
		RequestsPerMinute: 3,
		RequestsPerHour:   1000,
	})

	for i := 0; i < 3; i++ {
		require.NoError(t, coordinator.CheckRequest("ip:10.0.0.1"))
	}

	err := coordinator.CheckRequest("ip:10.0.0.1")
	require.Error(t, err)
	appError := apperr.As(err)
	assert.Equal(t, apperr.CodeRateLimitExceeded, appError.Code)
	assert.Equal(t, "minute", appError.Details["window"])
	assert.Equal(t, 3, appError.Details["limit"])
	assert.Contains(t, appError.Details, "reset_at")

	// Client isolation: a different identity has its own windows.
	assert.NoError(t, coordinator.CheckRequest("ip:10.0.0.2"))
}

/*
TestCheckRequest_HourRollback verifies counter consistency: when the hour
window rejects, the minute increment is rolled back, so an aged-out hour
window admits again without minute debt.
*/
func TestCheckRequest_HourRollback(t *testing.T) {
	coordinator := newTestCoordinator(config.RateLimitConfig{
		RequestsPerMinute: 100,
		RequestsPerHour:   2,
	})

	require.NoError(t, coordinator.CheckRequest("key:abc"))
	require.NoError(t, coordinator.CheckRequest("key:abc"))

	err := coordinator.CheckRequest("key:abc")
	require.Error(t, err)
	assert.Equal(t, "hour", apperr.As(err).Details["window"])

	// The rejected attempt must not have consumed a minute slot.
	coordinator.mu.Lock()
	minuteCount := coordinator.clients["key:abc"].minute.count()
	coordinator.mu.Unlock()
	assert.Equal(t, 2, minuteCount)
}

/*
TestCheckTokens verifies the token bucket: the full capacity admits one
large request and the drained bucket rejects with limit_type=tokens.
*/
func TestCheckTokens(t *testing.T) {
	coordinator := newTestCoordinator(config.RateLimitConfig{
		RequestsPerMinute:     100,
		RequestsPerHour:       1000,
		OpenAITokensPerMinute: 6000,
	})

	require.NoError(t, coordinator.CheckTokens("key:abc", 6000))

	err := coordinator.CheckTokens("key:abc", 6000)
	require.Error(t, err)
	appError := apperr.As(err)
	assert.Equal(t, apperr.CodeRateLimitExceeded, appError.Code)
	assert.Equal(t, "tokens", appError.Details["limit_type"])
	assert.Equal(t, "minute", appError.Details["window"])
}

/*
TestCheckTokens_EstimateOverCapacity verifies an estimate larger than the
whole per-minute budget is rejected even from a full, untouched bucket.
*/
func TestCheckTokens_EstimateOverCapacity(t *testing.T) {
	coordinator := newTestCoordinator(config.RateLimitConfig{
		RequestsPerMinute:     100,
		RequestsPerHour:       1000,
		OpenAITokensPerMinute: 1000,
	})

	err := coordinator.CheckTokens("key:fresh", 5000)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeRateLimitExceeded, apperr.As(err).Code)

	// The failed attempt must not have drained the bucket.
	assert.NoError(t, coordinator.CheckTokens("key:fresh", 1000))
}

/*
TestDisabled verifies a disabled coordinator admits everything and tracks
nothing.
*/
func TestDisabled(t *testing.T) {
	coordinator := NewCoordinator(config.RateLimitConfig{Enabled: false}, slog.Default(), metrics.NewForTest())

	for i := 0; i < 100; i++ {
		assert.NoError(t, coordinator.CheckRequest("ip:10.0.0.1"))
		assert.NoError(t, coordinator.CheckTokens("ip:10.0.0.1", 1000000))
	}
	assert.Zero(t, coordinator.ClientCount())
}

/*
TestCleanup verifies idle entries are reclaimed and active ones kept.
*/
func TestCleanup(t *testing.T) {
	coordinator := newTestCoordinator(config.RateLimitConfig{
		RequestsPerMinute: 10,
		RequestsPerHour:   100,
		IdleTimeout:       300,
	})

	require.NoError(t, coordinator.CheckRequest("ip:old"))
	require.NoError(t, coordinator.CheckRequest("ip:new"))

	coordinator.mu.Lock()
	coordinator.clients["ip:old"].lastSeen = time.Now().Add(-time.Hour)
	coordinator.mu.Unlock()

	coordinator.cleanup(time.Now())
	assert.Equal(t, 1, coordinator.ClientCount())

	coordinator.mu.Lock()
	_, oldExists := coordinator.clients["ip:old"]
	_, newExists := coordinator.clients["ip:new"]
	coordinator.mu.Unlock()
	assert.False(t, oldExists)
	assert.True(t, newExists)
}

/*
TestWindow_Trim verifies the sliding window drops only aged timestamps.
*/
func TestWindow_Trim(t *testing.T) {
	w := window{span: time.Minute}
	now := time.Now()

	w.add(now.Add(-2 * time.Minute))
	w.add(now.Add(-30 * time.Second))
	w.add(now)

	w.trim(now)
	assert.Equal(t, 2, w.count())
	assert.Equal(t, now.Add(-30*time.Second).Add(time.Minute), w.resetAt(now))
}
