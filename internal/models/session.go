package models

import (
	"fmt"
	"time"
)

// ShortIDLength is the number of leading token characters used as the
// stable session identifier persisted in the session marker.
const ShortIDLength = 16

// Session represents the authenticated context observed by the trust engine.
// The session is owned by the authentication provider; the engine only reads
// it and may request its termination.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Token        string    `json:"token"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	IPAddress    string    `json:"ipAddress,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// ShortID returns the stable token fragment used as the session identifier
// for concurrent-session detection.
func (s *Session) ShortID() string {
	if s.Token == "" {
		return s.ID
	}
	if len(s.Token) <= ShortIDLength {
		return s.Token
	}
	return s.Token[:ShortIDLength]
}

// Age returns how long the session has existed as of now.
func (s *Session) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// SessionMarker is the single per-user "most recently seen session" value
// persisted in the remote store. A write always fully replaces the prior
// value; there is at most one marker per user.
type SessionMarker struct {
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Remote store key layout. These names are shared with the dashboard that
// reads the same store, so they must not change.
func FingerprintKey(userID string) string {
	return fmt.Sprintf("fingerprint_%s", userID)
}

func ActiveSessionKey(userID string) string {
	return fmt.Sprintf("active_session_%s", userID)
}
