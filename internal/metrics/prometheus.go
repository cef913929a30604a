package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Job lifecycle metrics
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricedock_jobs_total",
			Help: "Total ingestion jobs by terminal outcome",
		},
		[]string{"supplier", "outcome"},
	)

	PhaseTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricedock_phase_transitions_total",
			Help: "Total job phase transitions",
		},
		[]string{"from", "to"},
	)

	JobRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricedock_job_retries_total",
			Help: "Total retry attempts during downloading and trigger phases",
		},
		[]string{"supplier"},
	)

	// Extraction metrics
	RowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricedock_rows_total",
			Help: "Total rows by per-row outcome",
		},
		[]string{"supplier", "result"}, // parsed | skipped | error
	)

	MatchOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricedock_match_outcomes_total",
			Help: "Total matching-phase outcomes per row",
		},
		[]string{"supplier", "outcome"}, // matched | review | new
	)

	// Inference metrics
	InferenceTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricedock_inference_tokens_total",
			Help: "Total tokens spent per parsing stage",
		},
		[]string{"stage"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pricedock_stage_duration_seconds",
			Help:    "Duration of pipeline stages",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60, 300, 600, 1800},
		},
		[]string{"stage"},
	)

	FallbackParsesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pricedock_fallback_parses_total",
			Help: "Total parses that used the full-document fallback",
		},
	)

	// Fetch metrics
	FetchBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricedock_fetch_bytes_total",
			Help: "Total bytes landed in the file store",
		},
		[]string{"source_kind"},
	)

	SecurityEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pricedock_security_events_total",
			Help: "Total rejected file references (traversal, size violations)",
		},
	)
)

// ObserveStage records a stage duration in the Prometheus histogram. The
// in-memory collector is fed separately by callers that also track tokens.
func ObserveStage(stage string, d time.Duration) {
	StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}
