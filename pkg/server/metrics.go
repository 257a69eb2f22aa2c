package server

import (
	"github.com/LeeDigitalWorks/zaptus/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zaptus",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method and status",
		},
		[]string{"method", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "zaptus",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency, body transfer included",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		},
		[]string{"method"},
	)

	filterDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "zaptus",
			Subsystem: "http",
			Name:      "filter_duration_seconds",
			Help:      "Time spent in each request filter",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"filter"},
	)

	filterErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zaptus",
			Subsystem: "http",
			Name:      "filter_errors_total",
			Help:      "Requests rejected by a filter",
		},
		[]string{"filter"},
	)

	rateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zaptus",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests refused by a rate limiter",
		},
		[]string{"limiter"},
	)
)

func init() {
	debug.Registry().MustRegister(
		httpRequests,
		httpDuration,
		filterDuration,
		filterErrors,
		rateLimited,
	)
}
