package orchestrator

import (
	"context"

	"session-trust/internal/common/logger"
	"session-trust/internal/common/metrics"
	"session-trust/internal/models"
)

// Auditor appends findings to the durable audit trail.
type Auditor interface {
	LogFinding(ctx context.Context, f models.SecurityFinding)
}

// Alerter pushes high-severity findings to operators.
type Alerter interface {
	AlertFinding(ctx context.Context, f models.SecurityFinding)
}

// FindingSink fans one finding out to the audit trail, metrics and operator
// alerts. Every emitting component shares one sink so a finding is recorded
// the same way no matter which timer produced it.
type FindingSink struct {
	audit Auditor
	alert Alerter
	log   logger.Logger
}

// NewFindingSink creates the sink. alert may be nil when alerting is
// disabled.
func NewFindingSink(audit Auditor, alert Alerter, log logger.Logger) *FindingSink {
	return &FindingSink{
		audit: audit,
		alert: alert,
		log:   log.WithFields(map[string]interface{}{"component": "finding_sink"}),
	}
}

// Emit records the finding everywhere it needs to go. Never fails: the
// audit logger and the alerter both swallow their own errors.
func (s *FindingSink) Emit(ctx context.Context, f models.SecurityFinding) {
	s.log.Info("security finding", map[string]interface{}{
		"kind":     string(f.Kind),
		"severity": string(f.Severity),
		"userId":   f.UserID,
	})

	metrics.TrustFindingsTotal.WithLabelValues(string(f.Kind), string(f.Severity)).Inc()

	if s.audit != nil {
		s.audit.LogFinding(ctx, f)
	}
	if s.alert != nil {
		s.alert.AlertFinding(ctx, f)
	}
}
