// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"github.com/LeeDigitalWorks/zaptus/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// eventsEmittedTotal tracks events emitted by kind
	eventsEmittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zaptus",
		Subsystem: "events",
		Name:      "emitted_total",
		Help:      "Total number of upload events emitted",
	}, []string{"kind"})

	// eventErrorsTotal tracks listener failures
	eventErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zaptus",
		Subsystem: "events",
		Name:      "listener_errors_total",
		Help:      "Total number of event listener failures",
	}, []string{"kind", "listener"})

	// eventDuration tracks time spent in each listener
	eventDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "zaptus",
		Subsystem: "events",
		Name:      "listener_duration_seconds",
		Help:      "Time spent delivering an event to a listener",
		Buckets:   []float64{0.0001, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"kind", "listener"})

	// deliveryDuration tracks publish latency by publisher
	deliveryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "zaptus",
		Subsystem: "events",
		Name:      "delivery_duration_seconds",
		Help:      "Time spent publishing events to external systems",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"publisher"})
)

func init() {
	debug.Registry().MustRegister(
		eventsEmittedTotal,
		eventErrorsTotal,
		eventDuration,
		deliveryDuration,
	)
}
