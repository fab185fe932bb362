// Package obs carries the engine's operational metrics — counters and a
// histogram registered against the default Prometheus registry, separate
// from the anomaly-detection domain the rest of the engine scores.
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detectkit_pipeline_runs_total",
			Help: "Total number of pipeline runs per metric and terminal status.",
		},
		[]string{"metric", "status"},
	)

	PipelineStepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "detectkit_pipeline_step_duration_seconds",
			Help:    "Wall-clock duration of one pipeline step.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"metric", "step"},
	)

	DatapointsLoadedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detectkit_datapoints_loaded_total",
			Help: "Total number of datapoint rows written by the loader.",
		},
		[]string{"metric"},
	)

	AnomaliesDetectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detectkit_anomalies_detected_total",
			Help: "Total number of is_anomaly=true rows written by the detection runner.",
		},
		[]string{"metric"},
	)

	AlertsFiredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detectkit_alerts_fired_total",
			Help: "Total number of alert events the evaluator decided to fire.",
		},
		[]string{"metric"},
	)

	AlertDispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detectkit_alert_dispatch_total",
			Help: "Total number of per-channel alert delivery attempts and their outcome.",
		},
		[]string{"metric", "channel", "status"},
	)

	LockContentionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detectkit_lock_contention_total",
			Help: "Total number of runs that aborted because another run held the metric's lock.",
		},
		[]string{"metric"},
	)
)
