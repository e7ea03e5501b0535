// Package fingerprint derives and compares device fingerprints.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"session-trust/internal/models"
)

// Snapshot carries the raw environment attributes a fingerprint is derived
// from. It is collected by the hosting application; the generator itself
// performs no I/O.
type Snapshot struct {
	UserAgent        string
	Platform         string
	ScreenResolution string
	Timezone         string
	Language         string
	CookiesEnabled   bool

	// CanvasData is the rendered canvas sample. Collection may fail in
	// restricted environments; a nil slice leaves CanvasHash empty and the
	// comparison never depends on it.
	CanvasData []byte
}

// Generate derives a fingerprint from the snapshot. It is a pure function:
// identical snapshots always produce identical signatures (CollectedAt
// excepted, which is informational only).
func Generate(snap Snapshot) models.Fingerprint {
	fp := models.Fingerprint{
		UserAgent:        snap.UserAgent,
		Platform:         snap.Platform,
		ScreenResolution: snap.ScreenResolution,
		Timezone:         snap.Timezone,
		Language:         snap.Language,
		CookiesEnabled:   snap.CookiesEnabled,
		CollectedAt:      time.Now().UTC(),
	}

	if len(snap.CanvasData) > 0 {
		sum := sha256.Sum256(snap.CanvasData)
		fp.CanvasHash = hex.EncodeToString(sum[:])
	}

	return fp
}
