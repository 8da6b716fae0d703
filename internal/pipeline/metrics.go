package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// runsTotal counts finished pipeline invocations by kind and outcome.
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snap2serve_pipeline_runs_total",
		Help: "Pipeline invocations by kind (run, generate) and outcome (done, failed, superseded)",
	}, []string{"kind", "outcome"})

	// callDuration tracks how long each collaborator call took.
	callDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "snap2serve_pipeline_call_duration_seconds",
		Help:    "Duration of detection and recommendation calls in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
	}, []string{"stage"})

	// staleResults counts completions discarded because a newer run started.
	staleResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snap2serve_pipeline_stale_results_total",
		Help: "Collaborator results discarded because a newer run superseded them",
	}, []string{"stage"})
)
