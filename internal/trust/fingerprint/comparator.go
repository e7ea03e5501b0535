package fingerprint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"session-trust/internal/common/logger"
	"session-trust/internal/models"

	"github.com/redis/go-redis/v9"
)

// Comparator checks the current fingerprint against the stored canonical one.
//
// The canonical record is created on first observation and never overwritten
// automatically after a mismatch: silently reconciling would let an
// attacker's fingerprint become the trusted one.
type Comparator struct {
	redis *redis.Client
	log   logger.Logger
}

func NewComparator(rdb *redis.Client, log logger.Logger) *Comparator {
	return &Comparator{
		redis: rdb,
		log:   log.WithFields(map[string]interface{}{"check": "fingerprint"}),
	}
}

// Check compares current against the canonical fingerprint for userID.
// First observation bootstraps the canonical record and yields no finding.
// A mismatch on any high-signal field yields a drift finding listing the
// differing fields.
func (c *Comparator) Check(ctx context.Context, userID, sessionID string, current models.Fingerprint) (*models.SecurityFinding, error) {
	key := models.FingerprintKey(userID)

	stored, err := c.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, c.bootstrap(ctx, key, userID, current)
	}
	if err != nil {
		return nil, fmt.Errorf("read canonical fingerprint: %w", err)
	}

	var canonical models.Fingerprint
	if err := json.Unmarshal([]byte(stored), &canonical); err != nil {
		// A corrupt record cannot be compared; re-bootstrap rather than
		// reporting drift against garbage.
		c.log.Warn("stored fingerprint unreadable, re-bootstrapping", map[string]interface{}{
			"userId": userID,
			"error":  err.Error(),
		})
		return nil, c.bootstrap(ctx, key, userID, current)
	}

	changed := canonical.HighSignalDiff(current)
	if len(changed) == 0 {
		return nil, nil
	}

	finding := models.NewFinding(
		models.FindingFingerprintDrift,
		models.SeverityHigh,
		userID,
		sessionID,
		map[string]interface{}{
			"changed_fields": changed,
		},
	)
	return &finding, nil
}

func (c *Comparator) bootstrap(ctx context.Context, key, userID string, current models.Fingerprint) error {
	payload, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("marshal fingerprint: %w", err)
	}
	if err := c.redis.Set(ctx, key, payload, 0).Err(); err != nil {
		return fmt.Errorf("store canonical fingerprint: %w", err)
	}
	c.log.Info("canonical fingerprint recorded", map[string]interface{}{
		"userId": userID,
	})
	return nil
}
