// internal/trust/ratelimit/limiter_test.go
package ratelimit

import (
	"context"
	"testing"
	"time"

	"session-trust/internal/common/logger"
	"session-trust/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

func createTestLimiter(t *testing.T, threshold int, window time.Duration) (*Limiter, *miniredis.Miniredis, *time.Time) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	limiter := NewLimiter(client, threshold, window, logger.NewTestLogger(t))

	// Deterministic clock the tests advance by hand.
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	return limiter, mr, &now
}

// ==========================
// Core Functionality Tests
// ==========================

func TestLimiter_AllowsUpToThreshold(t *testing.T) {
	limiter, _, _ := createTestLimiter(t, 10, 15*time.Minute)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		verdict, finding, err := limiter.Observe(ctx, "user-123")
		require.NoError(t, err)
		assert.True(t, verdict.Allowed, "event %d should be allowed", i)
		assert.Equal(t, 10-i, verdict.Remaining)
		assert.Nil(t, finding)
	}
}

func TestLimiter_DeniesOverThreshold(t *testing.T) {
	limiter, _, _ := createTestLimiter(t, 10, 15*time.Minute)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, _, err := limiter.Observe(ctx, "user-123")
		require.NoError(t, err)
	}

	verdict, finding, err := limiter.Observe(ctx, "user-123")
	require.NoError(t, err)
	assert.False(t, verdict.Allowed)
	assert.Equal(t, 0, verdict.Remaining)

	require.NotNil(t, finding)
	assert.Equal(t, models.FindingRateLimitExceeded, finding.Kind)
	assert.Equal(t, models.SeverityMedium, finding.Severity)
	assert.Equal(t, int64(11), finding.Details["count"])
}

func TestLimiter_WindowElapseResets(t *testing.T) {
	limiter, mr, now := createTestLimiter(t, 3, 15*time.Minute)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _, err := limiter.Observe(ctx, "user-123")
		require.NoError(t, err)
	}
	verdict, _, err := limiter.Observe(ctx, "user-123")
	require.NoError(t, err)
	assert.False(t, verdict.Allowed)

	*now = now.Add(16 * time.Minute)
	mr.FastForward(16 * time.Minute)

	verdict, finding, err := limiter.Observe(ctx, "user-123")
	require.NoError(t, err)
	assert.True(t, verdict.Allowed)
	assert.Equal(t, 2, verdict.Remaining)
	assert.Nil(t, finding)
}

func TestLimiter_KeysAreIsolated(t *testing.T) {
	limiter, _, _ := createTestLimiter(t, 2, 15*time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := limiter.Observe(ctx, "user-1")
		require.NoError(t, err)
	}

	verdict, _, err := limiter.Observe(ctx, "user-2")
	require.NoError(t, err)
	assert.True(t, verdict.Allowed)
}

// ==========================
// Read-Only Check Tests
// ==========================

func TestLimiter_CheckDoesNotCount(t *testing.T) {
	limiter, _, _ := createTestLimiter(t, 10, 15*time.Minute)
	ctx := context.Background()

	_, _, err := limiter.Observe(ctx, "user-123")
	require.NoError(t, err)

	// Repeated reads must not consume the event budget.
	for i := 0; i < 30; i++ {
		verdict, finding, err := limiter.Check(ctx, "user-123")
		require.NoError(t, err)
		assert.True(t, verdict.Allowed)
		assert.Equal(t, 9, verdict.Remaining)
		assert.Nil(t, finding)
	}

	verdict, _, err := limiter.Observe(ctx, "user-123")
	require.NoError(t, err)
	assert.Equal(t, 8, verdict.Remaining, "only observed events count")
}

func TestLimiter_CheckReportsExceededWindow(t *testing.T) {
	limiter, _, _ := createTestLimiter(t, 3, 15*time.Minute)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _, err := limiter.Observe(ctx, "user-123")
		require.NoError(t, err)
	}

	verdict, finding, err := limiter.Check(ctx, "user-123")
	require.NoError(t, err)
	assert.False(t, verdict.Allowed)
	require.NotNil(t, finding)
	assert.Equal(t, models.FindingRateLimitExceeded, finding.Kind)
	assert.Equal(t, int64(4), finding.Details["count"])
}

func TestLimiter_CheckTreatsElapsedWindowAsEmpty(t *testing.T) {
	limiter, mr, now := createTestLimiter(t, 3, 15*time.Minute)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _, err := limiter.Observe(ctx, "user-123")
		require.NoError(t, err)
	}

	*now = now.Add(16 * time.Minute)
	mr.FastForward(16 * time.Minute)

	verdict, finding, err := limiter.Check(ctx, "user-123")
	require.NoError(t, err)
	assert.True(t, verdict.Allowed)
	assert.Equal(t, 3, verdict.Remaining)
	assert.Nil(t, finding)
}

// ==========================
// Error Handling Tests
// ==========================

func TestLimiter_FailsOpenOnStoreError(t *testing.T) {
	limiter, mr, _ := createTestLimiter(t, 10, 15*time.Minute)
	mr.Close()

	verdict, finding, err := limiter.Observe(context.Background(), "user-123")
	assert.Error(t, err)
	assert.True(t, verdict.Allowed)
	assert.Nil(t, finding)

	verdict, finding, err = limiter.Check(context.Background(), "user-123")
	assert.Error(t, err)
	assert.True(t, verdict.Allowed)
	assert.Nil(t, finding)
}
