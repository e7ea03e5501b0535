// Package orchestrator coordinates every trust check for one monitored
// session: an initial pass on start, a periodic pass on a fixed interval,
// and aggregation of the findings into a single TrustState.
//
// Checks run sequentially in a fixed order so their effects on the shared
// store are deterministic within a pass. The brute-force verdict is taken
// first and short-circuits the rest of the pass when blocked. A check error
// is never fatal to the pass: it collapses to a warning log and no finding.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"session-trust/internal/common/config"
	"session-trust/internal/common/logger"
	"session-trust/internal/common/metrics"
	"session-trust/internal/common/observability"
	"session-trust/internal/models"
	"session-trust/internal/trust/ratelimit"
)

type FingerprintChecker interface {
	Check(ctx context.Context, userID, sessionID string, current models.Fingerprint) (*models.SecurityFinding, error)
}

type ConcurrentChecker interface {
	Check(ctx context.Context, userID, shortID string) (*models.SecurityFinding, error)
}

// RateChecker counts qualifying events through Observe and answers the
// periodic pass through Check without counting the pass itself.
type RateChecker interface {
	Observe(ctx context.Context, identityKey string) (ratelimit.Verdict, *models.SecurityFinding, error)
	Check(ctx context.Context, identityKey string) (ratelimit.Verdict, *models.SecurityFinding, error)
}

// BruteForceChecker ingests authentication attempts through RecordAttempt
// and answers the periodic pass through a read-only Check.
type BruteForceChecker interface {
	RecordAttempt(ctx context.Context, userID, sourceIP string, success bool) (*models.SecurityFinding, error)
	Check(ctx context.Context, userID, sourceIP string) (ratelimit.Verdict, error)
}

type LifecycleMonitor interface {
	Start()
	Stop()
	Touch()
	CheckAge(ctx context.Context) error
	CheckIdle(ctx context.Context) error
	Terminated() bool
	TerminationReason() models.FindingKind
	OnTerminated(fn func(models.FindingKind))
}

type GeoChecker interface {
	CheckLoginAnomaly(ctx context.Context, userID, sessionID string) (*models.SecurityFinding, error)
}

// SnapshotFunc supplies the current device fingerprint for a pass.
type SnapshotFunc func() models.Fingerprint

// Deps bundles the checkers and sinks one orchestrator drives. Optional
// checkers may be nil; they are skipped.
type Deps struct {
	Fingerprint FingerprintChecker
	Concurrent  ConcurrentChecker
	Rate        RateChecker
	BruteForce  BruteForceChecker
	Lifecycle   LifecycleMonitor
	Geo         GeoChecker
	Sink        *FindingSink
}

type Orchestrator struct {
	cfg      config.TrustConfig
	session  *models.Session
	deps     Deps
	snapshot SnapshotFunc
	obs      *observability.Observability
	log      logger.Logger

	mu    sync.Mutex
	state TrustState

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg config.TrustConfig, session *models.Session, deps Deps, snapshot SnapshotFunc, obs *observability.Observability, log logger.Logger) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		session:  session,
		deps:     deps,
		snapshot: snapshot,
		obs:      obs,
		log: log.WithFields(map[string]interface{}{
			"component": "orchestrator",
			"userId":    session.UserID,
		}),
		state: TrustState{Status: StatusTrusted},
	}
	if deps.Lifecycle != nil {
		deps.Lifecycle.OnTerminated(o.sessionTerminated)
	}
	return o
}

// Start runs the initial pass and then re-evaluates on the configured
// interval until ctx is cancelled or Stop is called.
func (o *Orchestrator) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()

	if o.deps.Lifecycle != nil {
		o.deps.Lifecycle.Start()
	}
	metrics.ActiveMonitors.Inc()

	o.RunPass(runCtx)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(o.cfg.RecheckInterval())
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				o.RunPass(runCtx)
			}
		}
	}()
}

// Stop cancels the periodic pass and the lifecycle timers.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	cancel := o.cancel
	o.cancel = nil
	o.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	o.wg.Wait()
	if o.deps.Lifecycle != nil {
		o.deps.Lifecycle.Stop()
	}
	metrics.ActiveMonitors.Dec()
}

// Touch forwards a user interaction signal to the lifecycle monitor.
func (o *Orchestrator) Touch() {
	if o.deps.Lifecycle != nil {
		o.deps.Lifecycle.Touch()
	}
}

// RecordAuthAttempt feeds one authentication event into the rate windows
// and the compliance ledger. This is the only path that counts events; the
// periodic pass reads the resulting verdicts without counting itself. A
// failed attempt that crosses the brute-force threshold blocks the session
// immediately rather than waiting for the next pass.
func (o *Orchestrator) RecordAuthAttempt(ctx context.Context, sourceIP string, success bool) {
	if o.deps.Rate != nil {
		_, finding, err := o.deps.Rate.Observe(ctx, o.session.UserID)
		if err != nil {
			o.warnCheck("rate_limit", err)
		}
		if finding != nil {
			o.deps.Sink.Emit(ctx, *finding)
		}
	}

	if o.deps.BruteForce == nil {
		return
	}
	finding, err := o.deps.BruteForce.RecordAttempt(ctx, o.session.UserID, sourceIP, success)
	if err != nil {
		o.warnCheck("brute_force", err)
	}
	if finding != nil {
		o.deps.Sink.Emit(ctx, *finding)
		metrics.SessionsBlockedTotal.Inc()

		o.mu.Lock()
		o.state = TrustState{
			Status:     StatusBlocked,
			Violations: []models.SecurityFinding{*finding},
			LastPass:   o.state.LastPass,
		}
		o.mu.Unlock()
	}
}

// State returns the outcome of the most recent pass.
func (o *Orchestrator) State() TrustState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// RunPass executes every enabled check once, in order, and returns the
// aggregated state. Safe to call repeatedly: terminated and blocked are
// checked as guards before acting, so an immediate second pass with
// unchanged inputs reproduces the same state without new side effects.
func (o *Orchestrator) RunPass(ctx context.Context) TrustState {
	start := time.Now()
	state := o.runChecks(ctx)
	state.LastPass = time.Now().UTC()

	o.mu.Lock()
	o.state = state
	o.mu.Unlock()

	if o.obs != nil {
		o.obs.RecordPass(ctx, string(state.Status))
		o.obs.RecordPassDuration(ctx, time.Since(start), string(state.Status))
	}
	return state
}

func (o *Orchestrator) runChecks(ctx context.Context) TrustState {
	if o.deps.Lifecycle != nil && o.deps.Lifecycle.Terminated() {
		return TrustState{Status: StatusTerminated}
	}

	var violations []models.SecurityFinding

	if o.cfg.EnableEnhancedRateLimit && o.deps.BruteForce != nil {
		if verdict := o.runBruteForce(ctx); !verdict.Allowed {
			return o.blockedState()
		}

		if o.deps.Rate != nil {
			if f := o.runRateLimit(ctx); f != nil {
				violations = append(violations, *f)
			}
		}
	}

	if o.deps.Lifecycle != nil {
		o.runCheck(ctx, "session_age", o.deps.Lifecycle.CheckAge)
		if o.deps.Lifecycle.Terminated() {
			return TrustState{Status: StatusTerminated, Violations: violations}
		}
		o.runCheck(ctx, "idle_timeout", o.deps.Lifecycle.CheckIdle)
		if o.deps.Lifecycle.Terminated() {
			return TrustState{Status: StatusTerminated, Violations: violations}
		}
	}

	if o.cfg.EnableFingerprinting && o.deps.Fingerprint != nil {
		if f := o.runFingerprint(ctx); f != nil {
			violations = append(violations, *f)
		}
	}

	if o.deps.Concurrent != nil {
		if f := o.runConcurrent(ctx); f != nil {
			violations = append(violations, *f)
		}
	}

	if o.cfg.EnableLocationChecks && o.deps.Geo != nil {
		if f := o.runGeo(ctx); f != nil {
			violations = append(violations, *f)
		}
	}

	if len(violations) == 0 {
		return TrustState{Status: StatusTrusted}
	}
	return TrustState{
		Status:     StatusAdvisory,
		Violations: violations,
		Recovery:   recoveryFor(violations),
	}
}

// blockedState carries forward the violation recorded when the block was
// set, so the blocking screen keeps its context across passes without the
// finding being recorded again.
func (o *Orchestrator) blockedState() TrustState {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Status == StatusBlocked {
		return TrustState{Status: StatusBlocked, Violations: o.state.Violations}
	}
	return TrustState{Status: StatusBlocked}
}

func (o *Orchestrator) runBruteForce(ctx context.Context) ratelimit.Verdict {
	defer o.observe("brute_force", time.Now())

	verdict, err := o.deps.BruteForce.Check(ctx, o.session.UserID, o.session.IPAddress)
	if err != nil {
		o.warnCheck("brute_force", err)
		return ratelimit.Verdict{Allowed: true}
	}
	return verdict
}

func (o *Orchestrator) runRateLimit(ctx context.Context) *models.SecurityFinding {
	defer o.observe("rate_limit", time.Now())

	_, finding, err := o.deps.Rate.Check(ctx, o.session.UserID)
	if err != nil {
		o.warnCheck("rate_limit", err)
		return nil
	}
	// The audit record was written when the excess event itself was
	// observed; the pass only surfaces the still-active violation.
	return finding
}

func (o *Orchestrator) runFingerprint(ctx context.Context) *models.SecurityFinding {
	defer o.observe("fingerprint", time.Now())

	finding, err := o.deps.Fingerprint.Check(ctx, o.session.UserID, o.session.ShortID(), o.snapshot())
	if err != nil {
		o.warnCheck("fingerprint", err)
		return nil
	}
	if finding != nil {
		o.deps.Sink.Emit(ctx, *finding)
	}
	return finding
}

func (o *Orchestrator) runConcurrent(ctx context.Context) *models.SecurityFinding {
	defer o.observe("concurrent_session", time.Now())

	finding, err := o.deps.Concurrent.Check(ctx, o.session.UserID, o.session.ShortID())
	if err != nil {
		o.warnCheck("concurrent_session", err)
		return nil
	}
	if finding != nil {
		o.deps.Sink.Emit(ctx, *finding)
	}
	return finding
}

func (o *Orchestrator) runGeo(ctx context.Context) *models.SecurityFinding {
	defer o.observe("geo", time.Now())

	finding, err := o.deps.Geo.CheckLoginAnomaly(ctx, o.session.UserID, o.session.ShortID())
	if err != nil {
		o.warnCheck("geo", err)
		return nil
	}
	if finding != nil {
		o.deps.Sink.Emit(ctx, *finding)
	}
	return finding
}

func (o *Orchestrator) runCheck(ctx context.Context, name string, fn func(context.Context) error) {
	defer o.observe(name, time.Now())
	if err := fn(ctx); err != nil {
		o.warnCheck(name, err)
	}
}

func (o *Orchestrator) observe(name string, start time.Time) {
	metrics.TrustChecksTotal.WithLabelValues(name).Inc()
	metrics.TrustCheckDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
}

func (o *Orchestrator) warnCheck(name string, err error) {
	o.log.Warn("trust check failed, treating as no finding", map[string]interface{}{
		"check": name,
		"error": err.Error(),
	})
}

// sessionTerminated flips the state when the idle timer terminates the
// session between passes, so State() is never stale on the terminal path.
func (o *Orchestrator) sessionTerminated(reason models.FindingKind) {
	o.mu.Lock()
	o.state = TrustState{Status: StatusTerminated, LastPass: o.state.LastPass}
	o.mu.Unlock()
	o.log.Info("session terminated, monitoring stops", map[string]interface{}{
		"reason": string(reason),
	})
}
