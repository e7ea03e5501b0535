// Package ratelimit implements sliding-window rate limiting and the
// stickier brute-force lockout guarding authentication attempts.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"session-trust/internal/common/logger"
	"session-trust/internal/models"

	"github.com/redis/go-redis/v9"
)

// Verdict is the outcome of one rate-limit check.
type Verdict struct {
	Allowed   bool
	Remaining int
}

// Limiter counts qualifying authentication events per identity key (user id
// or IP) within a sliding window persisted in the remote store. Events enter
// through Observe; Check only reads the window, so the periodic trust pass
// can consult the verdict without counting itself as an event. The window
// state is shared and last-writer-wins; the count is monotonically
// non-decreasing within a window, and a new window starts only once the
// previous one has elapsed.
type Limiter struct {
	redis     *redis.Client
	threshold int
	window    time.Duration
	log       logger.Logger
	now       func() time.Time
}

func NewLimiter(rdb *redis.Client, threshold int, window time.Duration, log logger.Logger) *Limiter {
	return &Limiter{
		redis:     rdb,
		threshold: threshold,
		window:    window,
		log:       log.WithFields(map[string]interface{}{"check": "rate_limit"}),
		now:       time.Now,
	}
}

// Observe counts one qualifying event for identityKey and reports whether
// the event is still within limits. Exceeding the threshold yields a
// rate-exceeded finding alongside the denied verdict.
func (l *Limiter) Observe(ctx context.Context, identityKey string) (Verdict, *models.SecurityFinding, error) {
	count, err := slideWindow(ctx, l.redis, "rate:"+identityKey, l.window, l.now())
	if err != nil {
		// Fail open: the limiter must not make the application unusable
		// when the store is unreachable.
		return Verdict{Allowed: true, Remaining: l.threshold}, nil, err
	}

	if count > int64(l.threshold) {
		finding := models.NewFinding(
			models.FindingRateLimitExceeded,
			models.SeverityMedium,
			identityKey,
			"",
			map[string]interface{}{
				"count":          count,
				"threshold":      l.threshold,
				"window_minutes": l.window.Minutes(),
			},
		)
		return Verdict{Allowed: false, Remaining: 0}, &finding, nil
	}

	return Verdict{Allowed: true, Remaining: l.threshold - int(count)}, nil, nil
}

// Check reads the current window for identityKey without counting an event.
// When the active window is over the threshold the returned finding describes
// it so the caller can surface the violation; the audit record for the excess
// was already written when the event itself was observed.
func (l *Limiter) Check(ctx context.Context, identityKey string) (Verdict, *models.SecurityFinding, error) {
	count, err := peekWindow(ctx, l.redis, "rate:"+identityKey, l.window, l.now())
	if err != nil {
		return Verdict{Allowed: true, Remaining: l.threshold}, nil, err
	}

	if count > int64(l.threshold) {
		finding := models.NewFinding(
			models.FindingRateLimitExceeded,
			models.SeverityMedium,
			identityKey,
			"",
			map[string]interface{}{
				"count":          count,
				"threshold":      l.threshold,
				"window_minutes": l.window.Minutes(),
			},
		)
		return Verdict{Allowed: false, Remaining: 0}, &finding, nil
	}

	remaining := l.threshold - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Verdict{Allowed: true, Remaining: remaining}, nil, nil
}

// slideWindow advances the shared window state for key and returns the new
// event count. The state is a hash of count and window start; it resets when
// the stored window has fully elapsed, and carries a TTL so abandoned keys
// expire with their window.
func slideWindow(ctx context.Context, rdb *redis.Client, key string, window time.Duration, now time.Time) (int64, error) {
	fields, err := rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("read rate window: %w", err)
	}

	windowStart := parseWindowStart(fields)
	if windowStart.IsZero() || now.Sub(windowStart) > window {
		if err := rdb.HSet(ctx, key, "count", 0, "window_start", now.Unix()).Err(); err != nil {
			return 0, fmt.Errorf("reset rate window: %w", err)
		}
		if err := rdb.Expire(ctx, key, window).Err(); err != nil {
			return 0, fmt.Errorf("expire rate window: %w", err)
		}
	}

	count, err := rdb.HIncrBy(ctx, key, "count", 1).Result()
	if err != nil {
		return 0, fmt.Errorf("increment rate window: %w", err)
	}
	return count, nil
}

// peekWindow reads the window state for key without mutating it. A missing
// or fully elapsed window reads as zero events.
func peekWindow(ctx context.Context, rdb *redis.Client, key string, window time.Duration, now time.Time) (int64, error) {
	fields, err := rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("read rate window: %w", err)
	}

	windowStart := parseWindowStart(fields)
	if windowStart.IsZero() || now.Sub(windowStart) > window {
		return 0, nil
	}

	count, err := strconv.ParseInt(fields["count"], 10, 64)
	if err != nil {
		return 0, nil
	}
	return count, nil
}

func parseWindowStart(fields map[string]string) time.Time {
	raw, ok := fields["window_start"]
	if !ok {
		return time.Time{}
	}
	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}
