package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StageDuration tracks how long each pipeline stage takes
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "personalization_stage_duration_seconds",
		Help:    "Duration of pipeline stages",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	// FallbackTotal counts components that degraded to their non-model strategy
	FallbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "personalization_fallback_total",
		Help: "Component fallbacks to rule or pattern strategies",
	}, []string{"component", "reason"})

	// FindingsTotal counts hallucination findings
	FindingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "personalization_hallucination_findings_total",
		Help: "Hallucination findings by category and severity",
	}, []string{"category", "severity"})

	// DecisionsTotal counts send gate outcomes per channel
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "personalization_send_decisions_total",
		Help: "Send gate decisions",
	}, []string{"channel", "state"})

	// CoveragePercentage observes post-refinement coverage
	CoveragePercentage = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "personalization_coverage_percentage",
		Help:    "Key point coverage after refinement",
		Buckets: []float64{10, 25, 50, 75, 90, 95, 100},
	})
)

// Fallback records one degradation
func Fallback(component, reason string) {
	FallbackTotal.WithLabelValues(component, reason).Inc()
}

// ObserveStage records a stage duration measured from start
func ObserveStage(stage string, start time.Time) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
