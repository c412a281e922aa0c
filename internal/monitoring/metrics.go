// Package monitoring exposes Prometheus metrics, a small health/status HTTP
// server, and webhook alerts for repeated pipeline failures.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "extract_runner"

var (
	// Pipeline cycles
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Pipeline cycles by outcome",
		},
		[]string{"outcome"},
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a full pipeline cycle",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)

	ConsecutiveFailures = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consecutive_failed_cycles",
			Help:      "Failed cycles since the last success",
		},
	)

	// Uploads
	UploadAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_attempts_total",
			Help:      "Upload HTTP attempts by result kind",
		},
		[]string{"mode", "result"},
	)

	UploadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_duration_seconds",
			Help:      "Duration of a single upload attempt",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	UploadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Bytes of file content sent to the upload endpoint",
		},
	)

	CircuitState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upload_circuit_state",
			Help:      "Upload circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
	)

	// Lookup enrichment
	LookupRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookup_requests_total",
			Help:      "Lookup service requests by operation and status",
		},
		[]string{"operation", "status"},
	)

	LookupMatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookup_matches_total",
			Help:      "Part numbers that the lookup service returned data for",
		},
	)

	RowsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_processed_total",
			Help:      "Data rows emitted by each stage",
		},
		[]string{"stage"},
	)
)
