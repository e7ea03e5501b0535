// Package lifecycle enforces absolute-age and idle-timeout limits on one
// authenticated session.
//
// Two timers exist per monitor: the hosting orchestrator's periodic pass
// drives CheckAge/CheckIdle, and an independent resettable idle timer fires
// between passes when no interaction arrives. Both funnel into a single
// guarded terminate so a session is torn down at most once.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"session-trust/internal/common/logger"
	"session-trust/internal/common/metrics"
	"session-trust/internal/models"
)

// SessionController is the slice of the authentication provider the monitor
// needs: prove continued validity, or revoke.
type SessionController interface {
	Refresh(ctx context.Context) error
	SignOut(ctx context.Context) error
}

// EmitFunc receives every finding the monitor produces.
type EmitFunc func(ctx context.Context, f models.SecurityFinding)

type Config struct {
	MaxSessionAge time.Duration
	IdleTimeout   time.Duration
}

type Monitor struct {
	cfg     Config
	session *models.Session
	control SessionController
	emit    EmitFunc
	log     logger.Logger
	now     func() time.Time

	mu           sync.Mutex
	lastActivity time.Time
	idleTimer    *time.Timer
	stopped      bool
	terminated   bool
	reason       models.FindingKind
	onTerminated func(models.FindingKind)
}

func NewMonitor(cfg Config, session *models.Session, control SessionController, emit EmitFunc, log logger.Logger) *Monitor {
	m := &Monitor{
		cfg:     cfg,
		session: session,
		control: control,
		emit:    emit,
		log:     log.WithFields(map[string]interface{}{"check": "lifecycle", "userId": session.UserID}),
		now:     time.Now,
	}
	m.lastActivity = m.now()
	return m
}

// OnTerminated registers a hook invoked exactly once when the session is
// terminated, from whichever timer got there first.
func (m *Monitor) OnTerminated(fn func(models.FindingKind)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTerminated = fn
}

// Start arms the idle timer. Without interaction signals the timer fires
// after the configured idle timeout and terminates the session.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped || m.terminated || m.idleTimer != nil {
		return
	}
	m.idleTimer = time.AfterFunc(m.cfg.IdleTimeout, m.idleExpired)
}

// Stop cancels all timers. Required on session end and host teardown so no
// check keeps running for a signed-out user.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	if m.idleTimer != nil {
		m.idleTimer.Stop()
		m.idleTimer = nil
	}
}

// Touch records a user interaction signal (pointer, key, scroll, touch,
// click) and resets the idle timer.
func (m *Monitor) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped || m.terminated {
		return
	}
	m.lastActivity = m.now()
	if m.idleTimer != nil {
		m.idleTimer.Reset(m.cfg.IdleTimeout)
	}
}

// CheckAge enforces the absolute session-age limit. On an exceeded age the
// monitor first asks the provider for a refresh; only a failed refresh is
// fatal. A successful refresh renews the session in place.
func (m *Monitor) CheckAge(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped || m.terminated {
		m.mu.Unlock()
		return nil
	}
	age := m.session.Age(m.now())
	m.mu.Unlock()

	if age <= m.cfg.MaxSessionAge {
		return nil
	}

	m.emit(ctx, models.NewFinding(
		models.FindingSessionAgeExceeded,
		models.SeverityHigh,
		m.session.UserID,
		m.session.ShortID(),
		map[string]interface{}{
			"age_minutes": int(age.Minutes()),
			"max_minutes": int(m.cfg.MaxSessionAge.Minutes()),
		},
	))

	if err := m.control.Refresh(ctx); err != nil {
		m.log.Warn("session refresh failed, terminating", map[string]interface{}{
			"error": err.Error(),
		})
		m.terminate(ctx, models.FindingSessionAgeExceeded)
		return nil
	}

	m.mu.Lock()
	m.session.CreatedAt = m.now()
	m.mu.Unlock()
	m.log.Info("session renewed after age limit", map[string]interface{}{
		"age_minutes": int(age.Minutes()),
	})
	return nil
}

// CheckIdle is the polled companion of the idle timer, used by the
// orchestrator pass so idleness is also caught when the process was
// suspended past the timer.
func (m *Monitor) CheckIdle(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped || m.terminated {
		m.mu.Unlock()
		return nil
	}
	idle := m.now().Sub(m.lastActivity)
	m.mu.Unlock()

	if idle <= m.cfg.IdleTimeout {
		return nil
	}
	m.idleTimeoutReached(ctx, idle)
	return nil
}

func (m *Monitor) idleExpired() {
	ctx := context.Background()
	m.mu.Lock()
	if m.stopped || m.terminated {
		m.mu.Unlock()
		return
	}
	idle := m.now().Sub(m.lastActivity)
	m.mu.Unlock()
	m.idleTimeoutReached(ctx, idle)
}

func (m *Monitor) idleTimeoutReached(ctx context.Context, idle time.Duration) {
	m.emit(ctx, models.NewFinding(
		models.FindingIdleTimeout,
		models.SeverityHigh,
		m.session.UserID,
		m.session.ShortID(),
		map[string]interface{}{
			"idle_minutes":    int(idle.Minutes()),
			"timeout_minutes": int(m.cfg.IdleTimeout.Minutes()),
		},
	))
	m.terminate(ctx, models.FindingIdleTimeout)
}

// terminate signs the session out exactly once. Sign-out and logging
// failures are non-fatal: the session is considered terminated regardless.
func (m *Monitor) terminate(ctx context.Context, reason models.FindingKind) {
	m.mu.Lock()
	if m.terminated {
		m.mu.Unlock()
		return
	}
	m.terminated = true
	m.reason = reason
	if m.idleTimer != nil {
		m.idleTimer.Stop()
		m.idleTimer = nil
	}
	hook := m.onTerminated
	m.mu.Unlock()

	if err := m.control.SignOut(ctx); err != nil {
		m.log.Warn("sign-out request failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	metrics.SessionsTerminatedTotal.WithLabelValues(string(reason)).Inc()
	m.log.Info("session terminated", map[string]interface{}{
		"reason": string(reason),
	})

	if hook != nil {
		hook(reason)
	}
}

// Terminated reports whether the session has been torn down.
func (m *Monitor) Terminated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terminated
}

// TerminationReason returns the finding kind that caused termination.
func (m *Monitor) TerminationReason() models.FindingKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

// IdleFor reports the time since the last observed interaction.
func (m *Monitor) IdleFor() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now().Sub(m.lastActivity)
}
