// Package errors provides standardized error handling for the session-trust engine.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Trust violation codes. These double as the finding kinds written to the
// audit log, so their spelling is part of the external contract.
const (
	ErrCodeSessionAgeExceeded ErrorCode = "SESSION_AGE_EXCEEDED"
	ErrCodeIdleTimeout        ErrorCode = "IDLE_TIMEOUT"
	ErrCodeFingerprintDrift   ErrorCode = "FINGERPRINT_DRIFT"
	ErrCodeConcurrentSession  ErrorCode = "CONCURRENT_SESSION"
	ErrCodeRateLimitExceeded  ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeBruteForceBlocked  ErrorCode = "BRUTE_FORCE_BLOCKED"
	ErrCodeAnomalousLogin     ErrorCode = "ANOMALOUS_LOGIN"
)

// Session / collaborator failure codes.
const (
	ErrCodeSessionRefreshFailed ErrorCode = "SESSION_REFRESH_FAILED"
	ErrCodeSessionNotFound      ErrorCode = "SESSION_NOT_FOUND"

	ErrCodeStoreUnavailable    ErrorCode = "STORE_UNAVAILABLE"
	ErrCodeAuditWriteFailed    ErrorCode = "AUDIT_WRITE_FAILED"
	ErrCodeAuthProviderError   ErrorCode = "AUTH_PROVIDER_ERROR"
	ErrCodeGeoLookupFailed     ErrorCode = "GEO_LOOKUP_FAILED"
	ErrCodeAttemptLedgerFailed ErrorCode = "ATTEMPT_LEDGER_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. Error Constructors
// ==========================

// NewSessionRefreshFailedError creates the one error class that is fatal to
// the monitored session: a session that cannot prove continued validity must
// not be trusted further.
func NewSessionRefreshFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSessionRefreshFailed,
		Message:   "Session token refresh failed",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSessionNotFoundError creates a non-retryable error for an absent session.
func NewSessionNotFoundError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSessionNotFound,
		Message:   "No authenticated session available",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewStoreUnavailableError creates a retryable remote key/value store error.
func NewStoreUnavailableError(op string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeStoreUnavailable,
		Message:   "Remote store operation failed",
		Details:   fmt.Sprintf("op: %s, error: %s", op, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewAuditWriteFailedError creates a retryable audit log error. Audit writes
// are fire-and-forget; this error is logged and swallowed by the caller.
func NewAuditWriteFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeAuditWriteFailed,
		Message:   "Audit log append failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewAuthProviderError creates a retryable authentication provider error.
func NewAuthProviderError(op string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeAuthProviderError,
		Message:   "Authentication provider request failed",
		Details:   fmt.Sprintf("op: %s, error: %s", op, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewGeoLookupFailedError creates a retryable geolocation adapter error.
func NewGeoLookupFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeGeoLookupFailed,
		Message:   "Login anomaly lookup failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewAttemptLedgerFailedError creates a retryable login-attempt ledger error.
func NewAttemptLedgerFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeAttemptLedgerFailed,
		Message:   "Login attempt ledger write failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Classification
// ==========================

// IsFatalToSession reports whether an error code must terminate the monitored
// session. Collaborator failures never are; only a failed refresh is.
func IsFatalToSession(code ErrorCode) bool {
	return code == ErrCodeSessionRefreshFailed
}

// IsTrustViolation reports whether a code describes a detected trust
// condition rather than an infrastructure failure.
func IsTrustViolation(code ErrorCode) bool {
	switch code {
	case ErrCodeSessionAgeExceeded,
		ErrCodeIdleTimeout,
		ErrCodeFingerprintDrift,
		ErrCodeConcurrentSession,
		ErrCodeRateLimitExceeded,
		ErrCodeBruteForceBlocked,
		ErrCodeAnomalousLogin:
		return true
	}
	return false
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "SESSION"):
		return "SESSION"
	case strings.Contains(codeStr, "FINGERPRINT"):
		return "FINGERPRINT"
	case strings.Contains(codeStr, "RATE") || strings.Contains(codeStr, "BRUTE"):
		return "RATE_LIMIT"
	case strings.Contains(codeStr, "GEO") || strings.Contains(codeStr, "ANOMALOUS"):
		return "GEO"
	case strings.Contains(codeStr, "STORE") || strings.Contains(codeStr, "AUDIT") || strings.Contains(codeStr, "LEDGER"):
		return "COLLABORATOR"
	default:
		return "OTHER"
	}
}
