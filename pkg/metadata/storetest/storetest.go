// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package storetest holds the conformance suite every metadata.Store
// implementation runs from its own tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/zaptus/pkg/metadata"
	"github.com/LeeDigitalWorks/zaptus/pkg/types"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) metadata.Store

// NewUpload returns a minimal upload record for tests.
func NewUpload(id string, length int64, createdAt time.Time) *types.Upload {
	return &types.Upload{
		ID:          id,
		Length:      length,
		StoragePath: id + ".bin",
		State:       types.StateCreated,
		Metadata: types.Metadata{
			{Key: "filename", Value: "a.txt"},
			{Key: "b", Value: ""},
			{Key: "a", Value: "2"},
		},
		CreatedAt: createdAt.UTC().Truncate(time.Microsecond),
	}
}

// Run executes the conformance suite.
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	t.Run("CreateGet", func(t *testing.T) {
		s := newStore(t)
		u := NewUpload("u1", 10, now)
		u.ChecksumAlgorithm = "sha1"
		u.ChecksumValue = []byte{1, 2, 3}
		require.NoError(t, s.Create(ctx, u))

		got, err := s.Get(ctx, "u1")
		require.NoError(t, err)
		if diff := cmp.Diff(u, got); diff != "" {
			t.Errorf("upload mismatch (-want +got):\n%s", diff)
		}

		// Returned record is a copy
		got.Offset = 5
		again, err := s.Get(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(0), again.Offset)
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, NewUpload("dup", 1, now)))
		assert.ErrorIs(t, s.Create(ctx, NewUpload("dup", 2, now)), metadata.ErrExists)
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "nope")
		assert.ErrorIs(t, err, metadata.ErrNotFound)
	})

	t.Run("Put", func(t *testing.T) {
		s := newStore(t)
		u := NewUpload("p1", 4, now)
		require.NoError(t, s.Create(ctx, u))

		u.Partial = true
		u.MergedInto = "final"
		require.NoError(t, s.Put(ctx, u))

		got, err := s.Get(ctx, "p1")
		require.NoError(t, err)
		assert.True(t, got.Partial)
		assert.Equal(t, "final", got.MergedInto)

		assert.ErrorIs(t, s.Put(ctx, NewUpload("missing", 1, now)), metadata.ErrNotFound)
	})

	t.Run("DeleteIdempotent", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, NewUpload("d1", 1, now)))
		require.NoError(t, s.Delete(ctx, "d1"))
		require.NoError(t, s.Delete(ctx, "d1"))
		_, err := s.Get(ctx, "d1")
		assert.ErrorIs(t, err, metadata.ErrNotFound)
	})

	t.Run("ListByIDs", func(t *testing.T) {
		s := newStore(t)
		for _, id := range []string{"a", "b", "c"} {
			require.NoError(t, s.Create(ctx, NewUpload(id, 1, now)))
		}

		got, err := s.ListByIDs(ctx, []string{"c", "a"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "c", got[0].ID)
		assert.Equal(t, "a", got[1].ID)

		_, err = s.ListByIDs(ctx, []string{"a", "zz", "b"})
		require.ErrorIs(t, err, metadata.ErrNotFound)
		var nf *metadata.NotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, "zz", nf.ID)
	})

	t.Run("CompareAndSwapOffset", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, NewUpload("cas", 10, now)))

		u, err := s.CompareAndSwapOffset(ctx, "cas", 0, 5)
		require.NoError(t, err)
		assert.Equal(t, int64(5), u.Offset)
		assert.Equal(t, types.StateInProgress, u.State)
		assert.Nil(t, u.CompletedAt)

		_, err = s.CompareAndSwapOffset(ctx, "cas", 3, 8)
		assert.ErrorIs(t, err, metadata.ErrOffsetConflict)

		u, err = s.CompareAndSwapOffset(ctx, "cas", 5, 10)
		require.NoError(t, err)
		assert.Equal(t, types.StateComplete, u.State)
		assert.NotNil(t, u.CompletedAt)

		got, err := s.Get(ctx, "cas")
		require.NoError(t, err)
		assert.Equal(t, int64(10), got.Offset)

		_, err = s.CompareAndSwapOffset(ctx, "missing", 0, 1)
		assert.ErrorIs(t, err, metadata.ErrNotFound)
	})

	t.Run("ConcurrentCASOneWins", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, NewUpload("race", 10, now)))

		const workers = 8
		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if _, err := s.CompareAndSwapOffset(ctx, "race", 0, int64(i+1)); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})

	t.Run("ListStale", func(t *testing.T) {
		s := newStore(t)
		for i := 0; i < 5; i++ {
			u := NewUpload(fmt.Sprintf("s%d", i), 10, now.Add(time.Duration(i)*time.Hour))
			require.NoError(t, s.Create(ctx, u))
		}
		done := NewUpload("done", 0, now)
		done.State = types.StateComplete
		require.NoError(t, s.Create(ctx, done))

		got, err := s.ListStale(ctx, now.Add(3*time.Hour), 0)
		require.NoError(t, err)
		ids := make([]string, len(got))
		for i, u := range got {
			ids[i] = u.ID
		}
		assert.Equal(t, []string{"s0", "s1", "s2"}, ids)

		got, err = s.ListStale(ctx, now.Add(10*time.Hour), 2)
		require.NoError(t, err)
		assert.Len(t, got, 2)
		assert.Equal(t, "s0", got[0].ID)
	})
}
