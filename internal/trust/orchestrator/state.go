package orchestrator

import (
	"time"

	"session-trust/internal/models"
)

// Status is the user-visible trust level of the monitored session.
type Status string

const (
	// StatusTrusted means no active violations; normal operation.
	StatusTrusted Status = "trusted"
	// StatusAdvisory means advisory findings exist; a dismissible banner is
	// shown, nothing is enforced.
	StatusAdvisory Status = "advisory"
	// StatusBlocked means the brute-force guard tripped; all authenticated
	// activity is suppressed behind a blocking screen.
	StatusBlocked Status = "blocked"
	// StatusTerminated means the session was signed out; the host navigates
	// to the sign-in entry point.
	StatusTerminated Status = "terminated"
)

// RecoveryAction is the single suggested step shown with the advisory banner.
type RecoveryAction string

const (
	RecoveryNone             RecoveryAction = ""
	RecoveryGoToAccountSetup RecoveryAction = "go_to_account_setup"
	RecoverySignOutForSafety RecoveryAction = "sign_out_for_safety"
)

// TrustState is the aggregated outcome of the latest orchestrator pass. It
// is the only surface the hosting application reads.
type TrustState struct {
	Status     Status
	Violations []models.SecurityFinding
	Recovery   RecoveryAction
	LastPass   time.Time
}

// recoveryFor picks the advisory banner's recovery action from the active
// violations. Signals that suggest another party holds credentials point to
// sign-out; everything else points to reviewing account settings.
func recoveryFor(violations []models.SecurityFinding) RecoveryAction {
	if len(violations) == 0 {
		return RecoveryNone
	}
	for _, v := range violations {
		switch v.Kind {
		case models.FindingConcurrentSession, models.FindingAnomalousLogin:
			return RecoverySignOutForSafety
		}
	}
	return RecoveryGoToAccountSetup
}
