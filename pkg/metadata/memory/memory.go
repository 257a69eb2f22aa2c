// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory provides an in-process metadata.Store. Records live in a map
// with a btree index on creation time for stale scans. Suitable for tests and
// single-process deployments that can afford to lose in-flight uploads.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/zaptus/pkg/metadata"
	"github.com/LeeDigitalWorks/zaptus/pkg/types"

	"github.com/google/btree"
)

func init() {
	metadata.Register(metadata.TypeMemory, func(cfg metadata.Config) (metadata.Store, error) {
		return New(), nil
	})
}

type createdKey struct {
	createdAt time.Time
	id        string
}

func lessCreated(a, b createdKey) bool {
	if a.createdAt.Equal(b.createdAt) {
		return a.id < b.id
	}
	return a.createdAt.Before(b.createdAt)
}

// Store is an in-memory metadata store
type Store struct {
	mu      sync.RWMutex
	uploads map[string]*types.Upload
	created *btree.BTreeG[createdKey]
}

var _ metadata.Store = (*Store)(nil)

// New creates an empty store
func New() *Store {
	return &Store{
		uploads: make(map[string]*types.Upload),
		created: btree.NewG(16, lessCreated),
	}
}

func (s *Store) Create(ctx context.Context, upload *types.Upload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.uploads[upload.ID]; ok {
		return metadata.ErrExists
	}
	s.uploads[upload.ID] = upload.Clone()
	s.created.ReplaceOrInsert(createdKey{createdAt: upload.CreatedAt, id: upload.ID})
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*types.Upload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.uploads[id]
	if !ok {
		return nil, metadata.ErrNotFound
	}
	return u.Clone(), nil
}

func (s *Store) Put(ctx context.Context, upload *types.Upload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.uploads[upload.ID]
	if !ok {
		return metadata.ErrNotFound
	}
	if !old.CreatedAt.Equal(upload.CreatedAt) {
		s.created.Delete(createdKey{createdAt: old.CreatedAt, id: old.ID})
		s.created.ReplaceOrInsert(createdKey{createdAt: upload.CreatedAt, id: upload.ID})
	}
	s.uploads[upload.ID] = upload.Clone()
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.uploads[id]; ok {
		s.created.Delete(createdKey{createdAt: u.CreatedAt, id: id})
		delete(s.uploads, id)
	}
	return nil
}

func (s *Store) ListByIDs(ctx context.Context, ids []string) ([]*types.Upload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.Upload, 0, len(ids))
	for _, id := range ids {
		u, ok := s.uploads[id]
		if !ok {
			return nil, &metadata.NotFoundError{ID: id}
		}
		out = append(out, u.Clone())
	}
	return out, nil
}

func (s *Store) CompareAndSwapOffset(ctx context.Context, id string, expected, next int64) (*types.Upload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.uploads[id]
	if !ok {
		return nil, metadata.ErrNotFound
	}
	if u.Offset != expected {
		return nil, metadata.ErrOffsetConflict
	}
	metadata.ApplyOffset(u, next)
	return u.Clone(), nil
}

func (s *Store) ListStale(ctx context.Context, createdBefore time.Time, limit int) ([]*types.Upload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Upload
	s.created.AscendLessThan(createdKey{createdAt: createdBefore}, func(k createdKey) bool {
		if limit > 0 && len(out) >= limit {
			return false
		}
		if u := s.uploads[k.id]; u != nil && metadata.IsStale(u, createdBefore) {
			out = append(out, u.Clone())
		}
		return true
	})
	return out, nil
}

// Len returns the number of stored uploads
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.uploads)
}

func (s *Store) Close() error {
	return nil
}
