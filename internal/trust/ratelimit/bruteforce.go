package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"session-trust/internal/common/errors"
	"session-trust/internal/common/logger"
	"session-trust/internal/models"

	"github.com/redis/go-redis/v9"
)

// BruteForceGuard is the authentication-attempt variant of the limiter:
// keyed by (user id, source IP), longer window, lower threshold, and a
// blocked flag that stays set until the window naturally elapses. While the
// flag is set the hosting application suppresses all authenticated activity.
//
// Only RecordAttempt feeds the window: a failed login is the qualifying
// event. Check is a pure read so the periodic trust pass can consult the
// verdict as often as it likes without ever tripping the block itself.
type BruteForceGuard struct {
	redis     *redis.Client
	db        *sql.DB
	threshold int
	window    time.Duration
	log       logger.Logger
	now       func() time.Time
}

// NewBruteForceGuard creates the guard. db may be nil when the attempt
// ledger is disabled.
func NewBruteForceGuard(rdb *redis.Client, db *sql.DB, threshold int, window time.Duration, log logger.Logger) *BruteForceGuard {
	return &BruteForceGuard{
		redis:     rdb,
		db:        db,
		threshold: threshold,
		window:    window,
		log:       log.WithFields(map[string]interface{}{"check": "brute_force"}),
		now:       time.Now,
	}
}

func bruteForceKey(userID, sourceIP string) string {
	return fmt.Sprintf("bf:%s:%s", userID, sourceIP)
}

func blockKey(userID, sourceIP string) string {
	return fmt.Sprintf("bf:block:%s:%s", userID, sourceIP)
}

// RecordAttempt ingests one authentication attempt for (userID, sourceIP).
// Every attempt is written to the compliance ledger; a failed attempt also
// counts toward the sliding window. Crossing the threshold sets the sticky
// block flag and yields a brute-force finding; further failures while
// blocked return no new finding so the block cannot be double-recorded.
func (g *BruteForceGuard) RecordAttempt(ctx context.Context, userID, sourceIP string, success bool) (*models.SecurityFinding, error) {
	g.writeLedger(ctx, userID, sourceIP, success)

	if success {
		return nil, nil
	}

	blocked, err := g.IsBlocked(ctx, userID, sourceIP)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, nil
	}

	key := bruteForceKey(userID, sourceIP)
	now := g.now()
	count, err := slideWindow(ctx, g.redis, key, g.window, now)
	if err != nil {
		return nil, err
	}

	if count <= int64(g.threshold) {
		return nil, nil
	}

	if err := g.block(ctx, userID, sourceIP, now); err != nil {
		return nil, err
	}
	finding := models.NewFinding(
		models.FindingBruteForceBlocked,
		models.SeverityCritical,
		userID,
		"",
		map[string]interface{}{
			"source_ip":      sourceIP,
			"count":          count,
			"threshold":      g.threshold,
			"window_minutes": g.window.Minutes(),
		},
	)
	return &finding, nil
}

// Check reads the current verdict for (userID, sourceIP) without counting
// anything: denied while the sticky block flag is set, otherwise allowed
// with the remaining failure budget of the active window.
func (g *BruteForceGuard) Check(ctx context.Context, userID, sourceIP string) (Verdict, error) {
	blocked, err := g.IsBlocked(ctx, userID, sourceIP)
	if err != nil {
		return Verdict{Allowed: true, Remaining: g.threshold}, err
	}
	if blocked {
		return Verdict{Allowed: false, Remaining: 0}, nil
	}

	count, err := peekWindow(ctx, g.redis, bruteForceKey(userID, sourceIP), g.window, g.now())
	if err != nil {
		return Verdict{Allowed: true, Remaining: g.threshold}, err
	}

	remaining := g.threshold - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Verdict{Allowed: true, Remaining: remaining}, nil
}

// IsBlocked reports whether the sticky block flag is currently set.
func (g *BruteForceGuard) IsBlocked(ctx context.Context, userID, sourceIP string) (bool, error) {
	exists, err := g.redis.Exists(ctx, blockKey(userID, sourceIP)).Result()
	if err != nil {
		return false, fmt.Errorf("read block flag: %w", err)
	}
	return exists > 0, nil
}

// block sets the flag with a TTL covering the remainder of the current
// window, so the block expires exactly when the window does.
func (g *BruteForceGuard) block(ctx context.Context, userID, sourceIP string, now time.Time) error {
	remaining := g.window
	fields, err := g.redis.HGetAll(ctx, bruteForceKey(userID, sourceIP)).Result()
	if err == nil {
		if start := parseWindowStart(fields); !start.IsZero() {
			if until := start.Add(g.window).Sub(now); until > 0 {
				remaining = until
			}
		}
	}

	if err := g.redis.Set(ctx, blockKey(userID, sourceIP), now.Unix(), remaining).Err(); err != nil {
		return fmt.Errorf("set block flag: %w", err)
	}
	return nil
}

// writeLedger inserts one authentication attempt into the compliance ledger.
// Best-effort: a ledger failure never blocks the security decision.
func (g *BruteForceGuard) writeLedger(ctx context.Context, userID, sourceIP string, success bool) {
	if g.db == nil {
		return
	}
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO login_attempts (user_id, ip_address, success, created_at)
		VALUES ($1, $2, $3, $4)`,
		userID, sourceIP, success, g.now().UTC())
	if err != nil {
		g.log.WithError(errors.NewAttemptLedgerFailedError(err)).Warn(
			"login attempt ledger write failed", map[string]interface{}{
				"userId": userID,
			})
	}
}
