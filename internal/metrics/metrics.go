// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Counter for started sessions
	SessionsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assessment_sessions_started_total",
			Help: "Total number of sessions created or resumed",
		},
		[]string{"account_kind", "outcome"}, // outcome: created/resumed
	)

	// Counter for eligibility rejections
	EligibilityRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assessment_eligibility_rejections_total",
			Help: "Total number of start attempts rejected by eligibility rules",
		},
		[]string{"reason"},
	)

	SectionsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assessment_sections_submitted_total",
			Help: "Total number of section submissions",
		},
		[]string{"source"}, // source: client/timeout
	)

	SessionsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assessment_sessions_completed_total",
			Help: "Total number of sessions that reached completed",
		},
		[]string{"source"},
	)

	SubmitConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assessment_submit_conflicts_total",
			Help: "Total number of submits rejected because the section was already submitted",
		},
	)

	SaveVerificationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assessment_save_verification_failures_total",
			Help: "Total number of completions rolled back because the session did not read back as written",
		},
	)

	NotifyFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assessment_completion_notify_failures_total",
			Help: "Total number of completion notifications that failed",
		},
	)

	CatalogCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assessment_catalog_cache_hits_total",
			Help: "Total number of test catalog reads served from Redis",
		},
	)

	CatalogCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assessment_catalog_cache_misses_total",
			Help: "Total number of test catalog reads that fell back to PostgreSQL",
		},
	)

	// Gauge for armed deadline timers
	ArmedTimers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "assessment_timers_armed_current",
			Help: "Current number of armed session deadline timers",
		},
	)

	TimerFires = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assessment_timer_fires_total",
			Help: "Total number of deadline timer fires",
		},
		[]string{"kind", "result"}, // kind: section/session, result: ok/retry/gave_up
	)

	// Histogram for HTTP request duration
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assessment_http_request_duration_seconds",
			Help:    "Time spent serving HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)
