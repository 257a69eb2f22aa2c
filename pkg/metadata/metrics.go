// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package metadata

import (
	"context"
	"errors"
	"time"

	"github.com/LeeDigitalWorks/zaptus/pkg/debug"
	"github.com/LeeDigitalWorks/zaptus/pkg/types"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics for store operations
var (
	storeOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zaptus_metadata_op_duration_seconds",
			Help:    "Duration of metadata store operations in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"store", "operation", "status"},
	)

	storeOpTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zaptus_metadata_ops_total",
			Help: "Total number of metadata store operations",
		},
		[]string{"store", "operation", "status"},
	)
)

func init() {
	debug.Registry().MustRegister(storeOpDuration, storeOpTotal)
}

// status labels expected sentinels apart from real failures
func status(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrExists), errors.Is(err, ErrOffsetConflict):
		return "conflict"
	default:
		return "error"
	}
}

// MetricsStore wraps a Store and adds metrics instrumentation
type MetricsStore struct {
	store Store
	name  string
}

// NewMetricsStore creates a metrics-instrumented Store wrapper
func NewMetricsStore(s Store, name string) *MetricsStore {
	return &MetricsStore{store: s, name: name}
}

// Unwrap returns the underlying Store
func (m *MetricsStore) Unwrap() Store {
	return m.store
}

func (m *MetricsStore) record(operation string, start time.Time, err error) {
	st := status(err)
	storeOpDuration.WithLabelValues(m.name, operation, st).Observe(time.Since(start).Seconds())
	storeOpTotal.WithLabelValues(m.name, operation, st).Inc()
}

func (m *MetricsStore) Create(ctx context.Context, upload *types.Upload) error {
	start := time.Now()
	err := m.store.Create(ctx, upload)
	m.record("create", start, err)
	return err
}

func (m *MetricsStore) Get(ctx context.Context, id string) (*types.Upload, error) {
	start := time.Now()
	u, err := m.store.Get(ctx, id)
	m.record("get", start, err)
	return u, err
}

func (m *MetricsStore) Put(ctx context.Context, upload *types.Upload) error {
	start := time.Now()
	err := m.store.Put(ctx, upload)
	m.record("put", start, err)
	return err
}

func (m *MetricsStore) Delete(ctx context.Context, id string) error {
	start := time.Now()
	err := m.store.Delete(ctx, id)
	m.record("delete", start, err)
	return err
}

func (m *MetricsStore) ListByIDs(ctx context.Context, ids []string) ([]*types.Upload, error) {
	start := time.Now()
	us, err := m.store.ListByIDs(ctx, ids)
	m.record("list_by_ids", start, err)
	return us, err
}

func (m *MetricsStore) CompareAndSwapOffset(ctx context.Context, id string, expected, next int64) (*types.Upload, error) {
	start := time.Now()
	u, err := m.store.CompareAndSwapOffset(ctx, id, expected, next)
	m.record("cas_offset", start, err)
	return u, err
}

func (m *MetricsStore) ListStale(ctx context.Context, createdBefore time.Time, limit int) ([]*types.Upload, error) {
	start := time.Now()
	us, err := m.store.ListStale(ctx, createdBefore, limit)
	m.record("list_stale", start, err)
	return us, err
}

func (m *MetricsStore) Close() error {
	return m.store.Close()
}
