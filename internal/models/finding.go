package models

import (
	"time"

	"github.com/google/uuid"
)

// FindingKind identifies one detected trust-relevant condition.
type FindingKind string

const (
	FindingSessionAgeExceeded FindingKind = "SESSION_AGE_EXCEEDED"
	FindingIdleTimeout        FindingKind = "IDLE_TIMEOUT"
	FindingFingerprintDrift   FindingKind = "FINGERPRINT_DRIFT"
	FindingConcurrentSession  FindingKind = "CONCURRENT_SESSION"
	FindingRateLimitExceeded  FindingKind = "RATE_LIMIT_EXCEEDED"
	FindingBruteForceBlocked  FindingKind = "BRUTE_FORCE_BLOCKED"
	FindingAnomalousLogin     FindingKind = "ANOMALOUS_LOGIN"
)

// Severity ranks findings for the audit trail and alerting.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SecurityFinding is an immutable, timestamped record emitted by a checker.
// Findings are write-only from the engine's perspective: appended to the
// audit log, never read back.
type SecurityFinding struct {
	ID        string                 `json:"id"`
	Kind      FindingKind            `json:"kind"`
	Severity  Severity               `json:"severity"`
	UserID    string                 `json:"userId"`
	SessionID string                 `json:"sessionId,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewFinding creates a finding stamped with a fresh id and UTC time.
func NewFinding(kind FindingKind, severity Severity, userID, sessionID string, details map[string]interface{}) SecurityFinding {
	return SecurityFinding{
		ID:        uuid.NewString(),
		Kind:      kind,
		Severity:  severity,
		UserID:    userID,
		SessionID: sessionID,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
}

// AuditEvent is the wire shape appended to the remote audit-log service.
type AuditEvent struct {
	UserID       string                 `json:"userId"`
	Action       string                 `json:"action"`
	ResourceType string                 `json:"resourceType"`
	Details      map[string]interface{} `json:"details,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}
