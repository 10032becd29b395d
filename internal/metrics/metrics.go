package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referral_verification_analyses_total",
			Help: "Verification analyses by resulting status",
		},
		[]string{"status"},
	)

	DegradedAnalysesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "referral_verification_degraded_analyses_total",
			Help: "Analyses that fell back because the reasoning service failed",
		},
	)

	ReasoningDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "referral_reasoning_duration_seconds",
			Help:    "Latency of reasoning service calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	ReasoningCircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "referral_reasoning_circuit_state",
			Help: "Reasoning provider circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"provider"},
	)

	SettlementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referral_escrow_settlements_total",
			Help: "Settlement attempts by outcome",
		},
		[]string{"outcome"},
	)

	PayoutDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "referral_escrow_payout_duration_seconds",
			Help:    "Latency of payout rail calls",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReleasedCents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "referral_escrow_released_cents_total",
			Help: "Amount paid out to referrers, in cents",
		},
	)
)
