// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AttemptsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "exam_attempts_started_total",
			Help: "Attempts moved to in_progress",
		},
	)

	// mode: manual/auto
	AttemptsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_attempts_submitted_total",
			Help: "Attempts scored and persisted",
		},
		[]string{"mode"},
	)

	SubmitFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "exam_submit_failures_total",
			Help: "Auto-submits that failed after all retries",
		},
	)

	ScoreRatio = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "exam_score_ratio",
			Help:    "Score divided by question count per result",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	GradeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "exam_grade_duration_seconds",
			Help:    "Time spent scoring and persisting a submission",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func Mode(auto bool) string {
	if auto {
		return "auto"
	}
	return "manual"
}

// ObserveResult records a persisted result.
func ObserveResult(score, total int, auto bool) {
	AttemptsSubmitted.WithLabelValues(Mode(auto)).Inc()
	if total > 0 {
		ScoreRatio.Observe(float64(score) / float64(total))
	}
}

func Handler() http.Handler { return promhttp.Handler() }
