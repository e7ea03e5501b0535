// internal/trust/orchestrator/orchestrator_test.go
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"session-trust/internal/common/config"
	"session-trust/internal/common/logger"
	"session-trust/internal/models"
	"session-trust/internal/trust/ratelimit"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

type callRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *callRecorder) add(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
}

func (r *callRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type auditSpy struct {
	mu       sync.Mutex
	findings []models.SecurityFinding
}

func (a *auditSpy) LogFinding(ctx context.Context, f models.SecurityFinding) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.findings = append(a.findings, f)
}

func (a *auditSpy) all() []models.SecurityFinding {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.SecurityFinding(nil), a.findings...)
}

// fakeBrute blocks after `threshold` recorded failures; a zero threshold
// means RecordAttempt never blocks.
type fakeBrute struct {
	rec       *callRecorder
	denied    bool
	err       error
	threshold int
	failures  int
}

func (f *fakeBrute) Check(ctx context.Context, userID, sourceIP string) (ratelimit.Verdict, error) {
	f.rec.add("brute_force")
	if f.err != nil {
		return ratelimit.Verdict{Allowed: true}, f.err
	}
	if f.denied {
		return ratelimit.Verdict{Allowed: false}, nil
	}
	return ratelimit.Verdict{Allowed: true, Remaining: 5}, nil
}

func (f *fakeBrute) RecordAttempt(ctx context.Context, userID, sourceIP string, success bool) (*models.SecurityFinding, error) {
	if f.err != nil {
		return nil, f.err
	}
	if success || f.threshold == 0 || f.denied {
		return nil, nil
	}
	f.failures++
	if f.failures > f.threshold {
		f.denied = true
		fd := models.NewFinding(models.FindingBruteForceBlocked, models.SeverityCritical, userID, "", nil)
		return &fd, nil
	}
	return nil, nil
}

type fakeRate struct {
	rec     *callRecorder
	finding *models.SecurityFinding
	err     error
}

func (f *fakeRate) Observe(ctx context.Context, identityKey string) (ratelimit.Verdict, *models.SecurityFinding, error) {
	if f.err != nil {
		return ratelimit.Verdict{Allowed: true}, nil, f.err
	}
	return ratelimit.Verdict{Allowed: f.finding == nil}, f.finding, nil
}

func (f *fakeRate) Check(ctx context.Context, identityKey string) (ratelimit.Verdict, *models.SecurityFinding, error) {
	f.rec.add("rate_limit")
	if f.err != nil {
		return ratelimit.Verdict{Allowed: true}, nil, f.err
	}
	return ratelimit.Verdict{Allowed: f.finding == nil}, f.finding, nil
}

type fakeFingerprint struct {
	rec     *callRecorder
	finding *models.SecurityFinding
	err     error
}

func (f *fakeFingerprint) Check(ctx context.Context, userID, sessionID string, current models.Fingerprint) (*models.SecurityFinding, error) {
	f.rec.add("fingerprint")
	return f.finding, f.err
}

type fakeConcurrent struct {
	rec     *callRecorder
	finding *models.SecurityFinding
	err     error
}

func (f *fakeConcurrent) Check(ctx context.Context, userID, shortID string) (*models.SecurityFinding, error) {
	f.rec.add("concurrent")
	return f.finding, f.err
}

type fakeGeo struct {
	rec     *callRecorder
	finding *models.SecurityFinding
	err     error
}

func (f *fakeGeo) CheckLoginAnomaly(ctx context.Context, userID, sessionID string) (*models.SecurityFinding, error) {
	f.rec.add("geo")
	return f.finding, f.err
}

type fakeLifecycle struct {
	rec            *callRecorder
	terminated     bool
	terminateOnAge bool
	hook           func(models.FindingKind)
}

func (f *fakeLifecycle) Start() {}
func (f *fakeLifecycle) Stop()  {}
func (f *fakeLifecycle) Touch() {}

func (f *fakeLifecycle) CheckAge(ctx context.Context) error {
	f.rec.add("session_age")
	if f.terminateOnAge && !f.terminated {
		f.terminated = true
		if f.hook != nil {
			f.hook(models.FindingSessionAgeExceeded)
		}
	}
	return nil
}

func (f *fakeLifecycle) CheckIdle(ctx context.Context) error {
	f.rec.add("idle_timeout")
	return nil
}

func (f *fakeLifecycle) Terminated() bool                         { return f.terminated }
func (f *fakeLifecycle) TerminationReason() models.FindingKind    { return models.FindingSessionAgeExceeded }
func (f *fakeLifecycle) OnTerminated(fn func(models.FindingKind)) { f.hook = fn }

type testHarness struct {
	orch        *Orchestrator
	rec         *callRecorder
	audit       *auditSpy
	brute       *fakeBrute
	rate        *fakeRate
	fingerprint *fakeFingerprint
	concurrent  *fakeConcurrent
	geo         *fakeGeo
	lifecycle   *fakeLifecycle
}

func createTestConfig() config.TrustConfig {
	return config.TrustConfig{
		MaxSessionAgeMinutes:    1440,
		IdleTimeoutMinutes:      120,
		RecheckIntervalMinutes:  5,
		EnableFingerprinting:    true,
		EnableLocationChecks:    true,
		EnableEnhancedRateLimit: true,
		RateLimit:               config.RateWindowConfig{Threshold: 10, WindowMinutes: 15},
		BruteForce:              config.RateWindowConfig{Threshold: 5, WindowMinutes: 60},
	}
}

func testSession() *models.Session {
	return &models.Session{
		ID:        "sess-1",
		UserID:    "user-123",
		Token:     "tok-abcdef0123456789-rest",
		IPAddress: "1.2.3.4",
	}
}

func createTestHarness(t *testing.T, cfg config.TrustConfig) *testHarness {
	rec := &callRecorder{}
	h := &testHarness{
		rec:         rec,
		audit:       &auditSpy{},
		brute:       &fakeBrute{rec: rec},
		rate:        &fakeRate{rec: rec},
		fingerprint: &fakeFingerprint{rec: rec},
		concurrent:  &fakeConcurrent{rec: rec},
		geo:         &fakeGeo{rec: rec},
		lifecycle:   &fakeLifecycle{rec: rec},
	}

	log := logger.NewTestLogger(t)

	h.orch = New(cfg, testSession(), Deps{
		Fingerprint: h.fingerprint,
		Concurrent:  h.concurrent,
		Rate:        h.rate,
		BruteForce:  h.brute,
		Lifecycle:   h.lifecycle,
		Geo:         h.geo,
		Sink:        NewFindingSink(h.audit, nil, log),
	}, func() models.Fingerprint { return models.Fingerprint{} }, nil, log)

	return h
}

func advisoryFinding(kind models.FindingKind) *models.SecurityFinding {
	f := models.NewFinding(kind, models.SeverityMedium, "user-123", "sess-1", nil)
	return &f
}

// ==========================
// Pass Ordering Tests
// ==========================

func TestOrchestrator_ChecksRunInFixedOrder(t *testing.T) {
	h := createTestHarness(t, createTestConfig())

	state := h.orch.RunPass(context.Background())

	assert.Equal(t, StatusTrusted, state.Status)
	assert.Empty(t, state.Violations)
	assert.Equal(t, []string{
		"brute_force",
		"rate_limit",
		"session_age",
		"idle_timeout",
		"fingerprint",
		"concurrent",
		"geo",
	}, h.rec.all())
}

func TestOrchestrator_BruteForceBlockShortCircuits(t *testing.T) {
	h := createTestHarness(t, createTestConfig())
	h.brute.denied = true

	state := h.orch.RunPass(context.Background())

	assert.Equal(t, StatusBlocked, state.Status)

	// No other check may run once the session is blocked.
	assert.Equal(t, []string{"brute_force"}, h.rec.all())
}

func TestOrchestrator_TerminationStopsPass(t *testing.T) {
	h := createTestHarness(t, createTestConfig())
	h.lifecycle.terminateOnAge = true

	state := h.orch.RunPass(context.Background())

	assert.Equal(t, StatusTerminated, state.Status)
	assert.Equal(t, []string{"brute_force", "rate_limit", "session_age"}, h.rec.all())
}

func TestOrchestrator_DisabledChecksAreSkipped(t *testing.T) {
	cfg := createTestConfig()
	cfg.EnableFingerprinting = false
	cfg.EnableLocationChecks = false
	cfg.EnableEnhancedRateLimit = false
	h := createTestHarness(t, cfg)

	state := h.orch.RunPass(context.Background())

	assert.Equal(t, StatusTrusted, state.Status)
	assert.Equal(t, []string{"session_age", "idle_timeout", "concurrent"}, h.rec.all())
}

// ==========================
// Authentication Event Tests
// ==========================

// Routine monitoring must never count as authentication activity: a session
// with zero auth events stays trusted no matter how many passes run.
func TestOrchestrator_PeriodicPassesAloneNeverBlock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	log := logger.NewTestLogger(t)

	audit := &auditSpy{}
	guard := ratelimit.NewBruteForceGuard(client, nil, 5, 60*time.Minute, log)
	limiter := ratelimit.NewLimiter(client, 10, 15*time.Minute, log)

	orch := New(createTestConfig(), testSession(), Deps{
		Rate:       limiter,
		BruteForce: guard,
		Sink:       NewFindingSink(audit, nil, log),
	}, func() models.Fingerprint { return models.Fingerprint{} }, nil, log)

	ctx := context.Background()
	for i := 1; i <= 20; i++ {
		state := orch.RunPass(ctx)
		assert.Equal(t, StatusTrusted, state.Status, "pass %d", i)
	}
	assert.Empty(t, audit.all())
}

// Six failed logins within ten minutes block the session on the sixth event
// and keep it blocked across subsequent passes without a second finding.
func TestOrchestrator_FailedLoginsBlockEndToEnd(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	log := logger.NewTestLogger(t)

	audit := &auditSpy{}
	guard := ratelimit.NewBruteForceGuard(client, nil, 5, 60*time.Minute, log)

	orch := New(createTestConfig(), testSession(), Deps{
		BruteForce: guard,
		Sink:       NewFindingSink(audit, nil, log),
	}, func() models.Fingerprint { return models.Fingerprint{} }, nil, log)

	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		orch.RecordAuthAttempt(ctx, "1.2.3.4", false)
		assert.Equal(t, StatusTrusted, orch.RunPass(ctx).Status, "failure %d is under the threshold", i)
	}

	orch.RecordAuthAttempt(ctx, "1.2.3.4", false)
	assert.Equal(t, StatusBlocked, orch.State().Status, "the sixth failure blocks immediately")

	state := orch.RunPass(ctx)
	assert.Equal(t, StatusBlocked, state.Status)
	require.Len(t, audit.all(), 1)
	assert.Equal(t, models.FindingBruteForceBlocked, audit.all()[0].Kind)
}

func TestOrchestrator_RateFindingEmittedOnEvent(t *testing.T) {
	h := createTestHarness(t, createTestConfig())
	h.rate.finding = advisoryFinding(models.FindingRateLimitExceeded)

	h.orch.RecordAuthAttempt(context.Background(), "1.2.3.4", true)

	require.Len(t, h.audit.all(), 1)
	assert.Equal(t, models.FindingRateLimitExceeded, h.audit.all()[0].Kind)

	// The pass surfaces the still-active violation without recording it again.
	state := h.orch.RunPass(context.Background())
	assert.Equal(t, StatusAdvisory, state.Status)
	require.Len(t, state.Violations, 1)
	assert.Len(t, h.audit.all(), 1)
}

// ==========================
// Aggregation Tests
// ==========================

func TestOrchestrator_AdvisoryFindingsAggregate(t *testing.T) {
	h := createTestHarness(t, createTestConfig())
	h.fingerprint.finding = advisoryFinding(models.FindingFingerprintDrift)
	h.concurrent.finding = advisoryFinding(models.FindingConcurrentSession)

	state := h.orch.RunPass(context.Background())

	assert.Equal(t, StatusAdvisory, state.Status)
	require.Len(t, state.Violations, 2)
	assert.Equal(t, RecoverySignOutForSafety, state.Recovery)
	assert.Len(t, h.audit.all(), 2)
}

func TestOrchestrator_RecoveryActionByViolationType(t *testing.T) {
	tests := []struct {
		name     string
		kinds    []models.FindingKind
		expected RecoveryAction
	}{
		{
			name:     "fingerprint drift suggests account setup",
			kinds:    []models.FindingKind{models.FindingFingerprintDrift},
			expected: RecoveryGoToAccountSetup,
		},
		{
			name:     "concurrent session suggests sign-out",
			kinds:    []models.FindingKind{models.FindingConcurrentSession},
			expected: RecoverySignOutForSafety,
		},
		{
			name:     "anomalous login suggests sign-out",
			kinds:    []models.FindingKind{models.FindingAnomalousLogin},
			expected: RecoverySignOutForSafety,
		},
		{
			name:     "sign-out wins when both are present",
			kinds:    []models.FindingKind{models.FindingFingerprintDrift, models.FindingConcurrentSession},
			expected: RecoverySignOutForSafety,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var violations []models.SecurityFinding
			for _, kind := range tt.kinds {
				violations = append(violations, *advisoryFinding(kind))
			}
			assert.Equal(t, tt.expected, recoveryFor(violations))
		})
	}
}

// ==========================
// Error Propagation Tests
// ==========================

func TestOrchestrator_CheckerErrorsCollapseToNoFinding(t *testing.T) {
	h := createTestHarness(t, createTestConfig())
	h.brute.err = errors.New("store unavailable")
	h.rate.err = errors.New("store unavailable")
	h.fingerprint.err = errors.New("store unavailable")
	h.concurrent.err = errors.New("store unavailable")
	h.geo.err = errors.New("upstream down")

	state := h.orch.RunPass(context.Background())

	assert.Equal(t, StatusTrusted, state.Status)
	assert.Empty(t, state.Violations)
	assert.Empty(t, h.audit.all())
}

// ==========================
// Idempotence Tests
// ==========================

func TestOrchestrator_DoublePassDoesNotDoubleBlock(t *testing.T) {
	h := createTestHarness(t, createTestConfig())
	h.brute.threshold = 1
	ctx := context.Background()

	h.orch.RecordAuthAttempt(ctx, "1.2.3.4", false)
	h.orch.RecordAuthAttempt(ctx, "1.2.3.4", false)

	first := h.orch.RunPass(ctx)
	second := h.orch.RunPass(ctx)

	assert.Equal(t, StatusBlocked, first.Status)
	assert.Equal(t, StatusBlocked, second.Status)
	require.Len(t, first.Violations, 1, "the pass carries the block's violation forward")
	assert.Len(t, h.audit.all(), 1, "the block finding is recorded once")
}

func TestOrchestrator_DoublePassAfterTerminationIsStable(t *testing.T) {
	h := createTestHarness(t, createTestConfig())
	h.lifecycle.terminateOnAge = true
	ctx := context.Background()

	first := h.orch.RunPass(ctx)
	callsAfterFirst := len(h.rec.all())
	second := h.orch.RunPass(ctx)

	assert.Equal(t, StatusTerminated, first.Status)
	assert.Equal(t, StatusTerminated, second.Status)
	assert.Equal(t, callsAfterFirst, len(h.rec.all()), "no checks run once terminated")
}

// ==========================
// State Surface Tests
// ==========================

func TestOrchestrator_StateReflectsLatestPass(t *testing.T) {
	h := createTestHarness(t, createTestConfig())
	ctx := context.Background()

	h.orch.RunPass(ctx)
	assert.Equal(t, StatusTrusted, h.orch.State().Status)

	h.fingerprint.finding = advisoryFinding(models.FindingFingerprintDrift)
	h.orch.RunPass(ctx)
	assert.Equal(t, StatusAdvisory, h.orch.State().Status)
	assert.False(t, h.orch.State().LastPass.IsZero())
}

func TestOrchestrator_AsyncTerminationFlipsState(t *testing.T) {
	h := createTestHarness(t, createTestConfig())
	h.orch.RunPass(context.Background())

	// The idle timer terminates between passes; the registered hook must
	// flip the visible state without waiting for the next pass.
	h.lifecycle.terminated = true
	require.NotNil(t, h.lifecycle.hook)
	h.lifecycle.hook(models.FindingIdleTimeout)

	assert.Equal(t, StatusTerminated, h.orch.State().Status)
}
