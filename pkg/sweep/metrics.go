package sweep

import (
	"github.com/LeeDigitalWorks/zaptus/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	sweepRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zaptus",
			Subsystem: "sweep",
			Name:      "runs_total",
			Help:      "Sweep runs by result",
		},
		[]string{"result"},
	)

	sweepUploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zaptus",
			Subsystem: "sweep",
			Name:      "uploads_total",
			Help:      "Stale uploads handled by outcome",
		},
		[]string{"outcome"},
	)

	sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "zaptus",
			Subsystem: "sweep",
			Name:      "run_duration_seconds",
			Help:      "Sweep run latency",
			Buckets:   prometheus.DefBuckets,
		},
	)

	lastRun = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "zaptus",
			Subsystem: "sweep",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last sweep finished",
		},
	)
)

func init() {
	debug.Registry().MustRegister(sweepRuns, sweepUploads, sweepDuration, lastRun)
}

func observeRun(r *Report) {
	result := "ok"
	if r.Err != nil {
		result = "error"
	}
	sweepRuns.WithLabelValues(result).Inc()
	sweepUploads.WithLabelValues("expired").Add(float64(r.Expired))
	sweepUploads.WithLabelValues("skipped").Add(float64(r.Skipped))
	sweepUploads.WithLabelValues("failed").Add(float64(r.Failed))
	sweepDuration.Observe(r.Duration.Seconds())
	lastRun.SetToCurrentTime()
}
