package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication attempts by flow (login|signup) and result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "patternscout_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"flow", "result"},
	)

	// ActiveSessions tracks sessions that are neither expired nor revoked.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "patternscout_active_sessions",
			Help: "Number of active sessions",
		},
	)

	// VerificationEmails counts verification code dispatches by result (sent|failed).
	VerificationEmails = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "patternscout_verification_emails_total",
			Help: "Total number of verification code emails dispatched",
		},
		[]string{"result"},
	)

	// PasswordResets counts password reset requests and completions by stage (requested|completed).
	PasswordResets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "patternscout_password_resets_total",
			Help: "Total number of password reset operations",
		},
		[]string{"stage"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "patternscout_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
