// internal/trust/concurrent/detector_test.go
package concurrent

import (
	"context"
	"encoding/json"
	"testing"

	"session-trust/internal/common/logger"
	"session-trust/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestDetector(t *testing.T) (*Detector, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewDetector(client, logger.NewTestLogger(t)), mr
}

func storedMarker(t *testing.T, mr *miniredis.Miniredis, userID string) models.SessionMarker {
	raw, err := mr.Get(models.ActiveSessionKey(userID))
	require.NoError(t, err)
	var marker models.SessionMarker
	require.NoError(t, json.Unmarshal([]byte(raw), &marker))
	return marker
}

func TestDetector_FirstSessionClaimsMarker(t *testing.T) {
	detector, mr := createTestDetector(t)
	ctx := context.Background()

	finding, err := detector.Check(ctx, "user-123", "session-a")
	require.NoError(t, err)
	assert.Nil(t, finding)

	marker := storedMarker(t, mr, "user-123")
	assert.Equal(t, "session-a", marker.SessionID)
	assert.Equal(t, "user-123", marker.UserID)
}

func TestDetector_DifferentSessionYieldsFindingAndTakesOver(t *testing.T) {
	detector, mr := createTestDetector(t)
	ctx := context.Background()

	_, err := detector.Check(ctx, "user-123", "session-a")
	require.NoError(t, err)

	finding, err := detector.Check(ctx, "user-123", "session-b")
	require.NoError(t, err)
	require.NotNil(t, finding)

	assert.Equal(t, models.FindingConcurrentSession, finding.Kind)
	assert.Equal(t, models.SeverityMedium, finding.Severity)
	assert.Equal(t, "session-a", finding.Details["stored_session"])
	assert.Equal(t, "session-b", finding.Details["current_session"])

	// The marker is handed to the most recently checked session, so the
	// next pass from session-b sees no conflict.
	assert.Equal(t, "session-b", storedMarker(t, mr, "user-123").SessionID)

	finding, err = detector.Check(ctx, "user-123", "session-b")
	require.NoError(t, err)
	assert.Nil(t, finding)
}

func TestDetector_SameSessionIsIdempotent(t *testing.T) {
	detector, _ := createTestDetector(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		finding, err := detector.Check(ctx, "user-123", "session-a")
		require.NoError(t, err)
		assert.Nil(t, finding)
	}
}

func TestDetector_LegacyBareMarkerStillCompared(t *testing.T) {
	detector, mr := createTestDetector(t)
	ctx := context.Background()

	require.NoError(t, mr.Set(models.ActiveSessionKey("user-123"), "session-a"))

	finding, err := detector.Check(ctx, "user-123", "session-b")
	require.NoError(t, err)
	require.NotNil(t, finding)
	assert.Equal(t, "session-a", finding.Details["stored_session"])
}

func TestDetector_UsersAreIsolated(t *testing.T) {
	detector, _ := createTestDetector(t)
	ctx := context.Background()

	_, err := detector.Check(ctx, "user-1", "session-a")
	require.NoError(t, err)

	finding, err := detector.Check(ctx, "user-2", "session-b")
	require.NoError(t, err)
	assert.Nil(t, finding)
}

func TestDetector_StoreErrorPropagates(t *testing.T) {
	detector, mr := createTestDetector(t)
	mr.Close()

	finding, err := detector.Check(context.Background(), "user-123", "session-a")
	assert.Error(t, err)
	assert.Nil(t, finding)
}
