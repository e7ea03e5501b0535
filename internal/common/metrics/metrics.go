// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TrustChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trust_checks_total",
			Help: "Total number of trust checks executed",
		},
		[]string{"check"},
	)

	TrustFindingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trust_findings_total",
			Help: "Total number of security findings emitted",
		},
		[]string{"kind", "severity"},
	)

	TrustCheckDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "trust_check_duration_seconds",
			Help: "Duration of individual trust checks in seconds",
		},
		[]string{"check"},
	)

	SessionsTerminatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trust_sessions_terminated_total",
			Help: "Total number of sessions terminated by the engine",
		},
		[]string{"reason"},
	)

	SessionsBlockedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trust_sessions_blocked_total",
			Help: "Total number of brute-force blocks applied",
		},
	)

	ActiveMonitors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trust_active_monitors",
			Help: "Number of sessions currently under monitoring",
		},
	)
)
