// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package compression

import (
	"github.com/LeeDigitalWorks/zaptus/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	bytesIn = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zaptus",
			Subsystem: "compression",
			Name:      "bytes_in_total",
			Help:      "Bytes before compression",
		},
		[]string{"algorithm"},
	)

	bytesOut = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zaptus",
			Subsystem: "compression",
			Name:      "bytes_out_total",
			Help:      "Bytes after compression",
		},
		[]string{"algorithm"},
	)

	ratio = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "zaptus",
			Subsystem: "compression",
			Name:      "ratio",
			Help:      "Compression ratio (original_size / compressed_size)",
			Buckets:   []float64{1.0, 1.25, 1.5, 2.0, 3.0, 4.0, 5.0, 10.0},
		},
		[]string{"algorithm"},
	)
)

func init() {
	debug.Registry().MustRegister(bytesIn, bytesOut, ratio)
}

func observe(algo Algorithm, in, out int64) {
	bytesIn.WithLabelValues(algo.String()).Add(float64(in))
	bytesOut.WithLabelValues(algo.String()).Add(float64(out))
	if in > 0 && out > 0 {
		ratio.WithLabelValues(algo.String()).Observe(float64(in) / float64(out))
	}
}
