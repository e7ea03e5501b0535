// Package concurrent detects a second active session for the same user by
// comparing the local session identifier against a per-user marker in the
// remote store.
//
// No distributed lock is taken: the marker is last-writer-wins, and two
// near-simultaneous sign-ins may each observe "no conflict" once. That
// false-negative window is accepted; the signal is advisory only and never
// forces sign-out on its own.
package concurrent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"session-trust/internal/common/logger"
	"session-trust/internal/models"

	"github.com/redis/go-redis/v9"
)

type Detector struct {
	redis *redis.Client
	log   logger.Logger
}

func NewDetector(rdb *redis.Client, log logger.Logger) *Detector {
	return &Detector{
		redis: rdb,
		log:   log.WithFields(map[string]interface{}{"check": "concurrent_session"}),
	}
}

// Check reads the stored marker for userID and claims it with shortID.
// Absent or equal markers yield no finding; a different marker yields a
// concurrent-session finding. The claim happens in both cases, so the most
// recently checked session always ends up holding the marker.
func (d *Detector) Check(ctx context.Context, userID, shortID string) (*models.SecurityFinding, error) {
	key := models.ActiveSessionKey(userID)

	stored, err := d.redis.Get(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read session marker: %w", err)
	}

	var previous string
	if err == nil {
		var marker models.SessionMarker
		if jsonErr := json.Unmarshal([]byte(stored), &marker); jsonErr == nil {
			previous = marker.SessionID
		} else {
			// Older deployments stored the bare identifier.
			previous = stored
		}
	}

	if err := d.claim(ctx, key, userID, shortID); err != nil {
		return nil, err
	}

	if previous == "" || previous == shortID {
		return nil, nil
	}

	finding := models.NewFinding(
		models.FindingConcurrentSession,
		models.SeverityMedium,
		userID,
		shortID,
		map[string]interface{}{
			"stored_session":  previous,
			"current_session": shortID,
		},
	)
	return &finding, nil
}

// claim overwrites the marker with the local identifier. Idempotent when the
// marker already holds shortID.
func (d *Detector) claim(ctx context.Context, key, userID, shortID string) error {
	marker := models.SessionMarker{
		SessionID: shortID,
		UserID:    userID,
		UpdatedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(marker)
	if err != nil {
		return fmt.Errorf("marshal session marker: %w", err)
	}
	if err := d.redis.Set(ctx, key, payload, 0).Err(); err != nil {
		return fmt.Errorf("write session marker: %w", err)
	}
	return nil
}
