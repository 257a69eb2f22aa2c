// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package metadata defines the upload metadata store and its shared errors.
// Implementations live in the memory, leveldb, redis and sql subpackages and
// register themselves with Register.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/zaptus/pkg/types"
)

// Common errors
var (
	ErrNotFound       = errors.New("upload not found")
	ErrExists         = errors.New("upload already exists")
	ErrOffsetConflict = errors.New("upload offset changed")
)

// NotFoundError names the id a batch lookup could not find. It matches
// ErrNotFound with errors.Is.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("upload not found: %s", e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// Store persists upload records. Every method is safe for concurrent use and
// every returned *types.Upload is owned by the caller.
type Store interface {
	// Create inserts a new record. Returns ErrExists if the id is taken.
	Create(ctx context.Context, upload *types.Upload) error

	// Get returns the record for id, or ErrNotFound.
	Get(ctx context.Context, id string) (*types.Upload, error)

	// Put replaces an existing record. Returns ErrNotFound if absent.
	Put(ctx context.Context, upload *types.Upload) error

	// Delete removes the record. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error

	// ListByIDs returns records in the order of ids. The first missing id is
	// reported as *NotFoundError.
	ListByIDs(ctx context.Context, ids []string) ([]*types.Upload, error)

	// CompareAndSwapOffset sets the offset to next only if it is currently
	// expected, refreshing the state. Returns ErrOffsetConflict otherwise.
	CompareAndSwapOffset(ctx context.Context, id string, expected, next int64) (*types.Upload, error)

	// ListStale returns up to limit incomplete records created before the cutoff,
	// oldest first. Merged and complete records are never returned.
	ListStale(ctx context.Context, createdBefore time.Time, limit int) ([]*types.Upload, error)

	Close() error
}

// IsStale reports whether u should be returned by ListStale.
func IsStale(u *types.Upload, createdBefore time.Time) bool {
	if !u.CreatedAt.Before(createdBefore) {
		return false
	}
	switch u.State {
	case types.StateComplete, types.StateMerged:
		return false
	}
	return true
}

// ApplyOffset moves u to next and derives the new state. Shared by the
// implementations so they agree on CAS semantics.
func ApplyOffset(u *types.Upload, next int64) {
	u.Offset = next
	u.RefreshState()
	if u.IsComplete() && u.CompletedAt == nil {
		now := time.Now().UTC()
		u.CompletedAt = &now
	}
}
