package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus collectors for run and step lifecycle. Registered on the
// default registry; exposing them over HTTP is the embedder's concern.
var (
	runsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beemflow_runs_started_total",
		Help: "Runs started.",
	})
	runsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beemflow_runs_completed_total",
		Help: "Runs reaching a terminal status.",
	}, []string{"status"})
	stepsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beemflow_steps_total",
		Help: "Step instances by final status.",
	}, []string{"status"})
	adapterInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beemflow_adapter_invocations_total",
		Help: "Adapter invocations, retries included.",
	}, []string{"adapter"})
	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beemflow_retries_total",
		Help: "Retried adapter invocations.",
	})
	pausedRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "beemflow_paused_runs",
		Help: "Runs currently suspended on an event or timer.",
	})
	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "beemflow_run_duration_seconds",
		Help:    "Wall time from run start to terminal status.",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
	})
)
