package tus

import (
	"time"

	"github.com/LeeDigitalWorks/zaptus/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zaptus",
			Subsystem: "tus",
			Name:      "operations_total",
			Help:      "Protocol operations by outcome",
		},
		[]string{"operation", "code"},
	)

	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "zaptus",
			Subsystem: "tus",
			Name:      "operation_duration_seconds",
			Help:      "Protocol operation latency",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		},
		[]string{"operation"},
	)

	bytesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "zaptus",
			Subsystem: "tus",
			Name:      "bytes_received_total",
			Help:      "Upload bytes committed to storage",
		},
	)

	uploadsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "zaptus",
			Subsystem: "tus",
			Name:      "uploads_completed_total",
			Help:      "Uploads that received every declared byte",
		},
	)

	checksumFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zaptus",
			Subsystem: "tus",
			Name:      "checksum_failures_total",
			Help:      "Checksum mismatches by scope (chunk or file)",
		},
		[]string{"scope"},
	)
)

func init() {
	debug.Registry().MustRegister(
		operationsTotal,
		operationDuration,
		bytesReceived,
		uploadsCompleted,
		checksumFailures,
	)
}

// observe records the outcome of one operation
func observe(op Operation, start time.Time, err error) {
	code := "ok"
	if err != nil {
		code = CodeOf(err).String()
	}
	operationsTotal.WithLabelValues(string(op), code).Inc()
	operationDuration.WithLabelValues(string(op)).Observe(time.Since(start).Seconds())
}
