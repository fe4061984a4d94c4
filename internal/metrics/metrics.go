package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mirador_audit"

// Stage call outcomes.
const (
	StageOK       = "ok"
	StageError    = "error"
	StageDegraded = "degraded"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Extraction runs handled, partitioned by terminal outcome.",
		},
		[]string{"outcome"},
	)

	runDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_seconds",
			Help:      "End-to-end extraction run latency in seconds.",
			Buckets:   []float64{1, 5, 10, 20, 30, 60, 120, 240, 480},
		},
	)

	stageCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_calls_total",
			Help:      "Stage executions partitioned by stage and outcome.",
		},
		[]string{"stage", "outcome"},
	)

	stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_seconds",
			Help:      "Stage latency in seconds, retries included.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		},
		[]string{"stage"},
	)

	stageRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_retries_total",
			Help:      "Agent call retries partitioned by stage and error kind.",
		},
		[]string{"stage", "kind"},
	)

	findingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "findings_total",
			Help:      "Findings emitted partitioned by item status.",
		},
		[]string{"status"},
	)
)

// Register attaches mirador-audit collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		runsTotal,
		runDurationSeconds,
		stageCallsTotal,
		stageDurationSeconds,
		stageRetriesTotal,
		findingsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveRun records a run duration under its terminal outcome.
func ObserveRun(duration time.Duration, outcome string) {
	runsTotal.WithLabelValues(outcome).Inc()
	runDurationSeconds.Observe(clamp(duration).Seconds())
}

// ObserveStage records one stage execution.
func ObserveStage(stage, outcome string, duration time.Duration) {
	stageCallsTotal.WithLabelValues(stage, outcome).Inc()
	stageDurationSeconds.WithLabelValues(stage).Observe(clamp(duration).Seconds())
}

// IncRetry counts a retried agent call.
func IncRetry(stage, kind string) {
	stageRetriesTotal.WithLabelValues(stage, kind).Inc()
}

// AddFindings counts emitted findings for a status.
func AddFindings(status string, n int) {
	if n <= 0 {
		return
	}
	findingsTotal.WithLabelValues(status).Add(float64(n))
}

func clamp(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
