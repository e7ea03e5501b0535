package models

import "time"

// Fingerprint is a derived signature of client/environment attributes used to
// detect a likely device change. Two instances exist per user: the current
// one, recomputed on every check, and the stored canonical one, created on
// first observation and never auto-overwritten once a mismatch is seen.
type Fingerprint struct {
	UserAgent        string    `json:"userAgent"`
	Platform         string    `json:"platform"`
	ScreenResolution string    `json:"screenResolution"`
	Timezone         string    `json:"timezone"`
	Language         string    `json:"language"`
	CanvasHash       string    `json:"canvasHash,omitempty"` // optional; absent in restricted environments
	CookiesEnabled   bool      `json:"cookiesEnabled"`
	CollectedAt      time.Time `json:"collectedAt"`
}

// HighSignalDiff compares the fixed subset of high-signal fields against
// another fingerprint and returns the names of the fields that differ.
// Time-varying and optional fields are intentionally excluded.
func (f Fingerprint) HighSignalDiff(other Fingerprint) []string {
	var changed []string
	if f.UserAgent != other.UserAgent {
		changed = append(changed, "user_agent")
	}
	if f.Platform != other.Platform {
		changed = append(changed, "platform")
	}
	if f.ScreenResolution != other.ScreenResolution {
		changed = append(changed, "screen_resolution")
	}
	return changed
}
