// Package geo consumes login-anomaly verdicts from the geographic analysis
// service. The analysis itself (distance, velocity, country rules) lives
// behind the API; this adapter only fetches and interprets the verdict.
package geo

import (
	"context"
	"fmt"
	"net/url"

	"session-trust/internal/common/errors"
	commonhttp "session-trust/internal/common/http"
	"session-trust/internal/common/logger"
	"session-trust/internal/models"
)

// Verdict is the anomaly decision for the most recent login of a user.
type Verdict struct {
	IsAnomalous bool   `json:"is_anomalous"`
	RiskLevel   string `json:"risk_level"`
	Reason      string `json:"reason"`
}

type Adapter struct {
	client  *commonhttp.Client
	baseURL string
	apiKey  string
	log     logger.Logger
}

func NewAdapter(client *commonhttp.Client, baseURL, apiKey string, log logger.Logger) *Adapter {
	return &Adapter{
		client:  client,
		baseURL: baseURL,
		apiKey:  apiKey,
		log:     log.WithFields(map[string]interface{}{"check": "geo"}),
	}
}

// CheckLoginAnomaly fetches the verdict for userID's latest login. A
// non-anomalous verdict yields no finding. Transport or decode errors are
// returned to the caller, which treats them as an unavailable signal rather
// than an anomaly.
func (a *Adapter) CheckLoginAnomaly(ctx context.Context, userID, sessionID string) (*models.SecurityFinding, error) {
	endpoint := fmt.Sprintf("%s/v1/logins/%s/anomaly", a.baseURL, url.PathEscape(userID))

	var verdict Verdict
	err := a.client.GetJSON(ctx, endpoint, map[string]string{"X-API-Key": a.apiKey}, &verdict)
	if err != nil {
		return nil, errors.NewGeoLookupFailedError(err)
	}

	if !verdict.IsAnomalous {
		return nil, nil
	}

	finding := models.NewFinding(
		models.FindingAnomalousLogin,
		severityFor(verdict.RiskLevel),
		userID,
		sessionID,
		map[string]interface{}{
			"risk_level": verdict.RiskLevel,
			"reason":     verdict.Reason,
		},
	)
	return &finding, nil
}

func severityFor(riskLevel string) models.Severity {
	switch riskLevel {
	case "critical":
		return models.SeverityCritical
	case "high":
		return models.SeverityHigh
	case "low":
		return models.SeverityLow
	default:
		return models.SeverityMedium
	}
}
