// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"context"
	"errors"
	"io"
)

// StorageType identifies the chunk storage implementation
type StorageType string

const (
	StorageTypeLocal   StorageType = "local"   // Local filesystem
	StorageTypeMemory  StorageType = "memory"  // In-process, for tests
	StorageTypeS3      StorageType = "s3"      // Persister only
	StorageTypeLibrary StorageType = "library" // Persister only
)

var (
	// ErrBlobNotFound is returned when a storage path does not exist.
	ErrBlobNotFound = errors.New("blob not found")

	// ErrOffsetMismatch is returned by WriteAt when the asserted offset is
	// not the current blob size. It prevents gaps and overwrites.
	ErrOffsetMismatch = errors.New("write offset does not match blob size")
)

// ChunkStore is append-only byte storage, one blob per upload.
// Implementations: backend.Local, backend.Memory
type ChunkStore interface {
	// Type returns the storage type
	Type() StorageType

	// Create makes an empty blob at path
	Create(ctx context.Context, path string) error

	// WriteAt appends r to the blob. offset must equal the current size.
	// On any error the blob is left at its previous size. Returns the new size.
	WriteAt(ctx context.Context, path string, offset int64, r io.Reader) (int64, error)

	// Truncate shrinks the blob back to size. Used to undo a write whose
	// offset commit lost a race.
	Truncate(ctx context.Context, path string, size int64) error

	// ReadRange reads the half-open byte range [start, end)
	ReadRange(ctx context.Context, path string, start, end int64) (io.ReadCloser, error)

	// Size returns the current blob size
	Size(ctx context.Context, path string) (int64, error)

	// Concat writes a fresh blob at dst holding srcs in order. srcs are not modified.
	Concat(ctx context.Context, dst string, srcs []string) (int64, error)

	// Delete removes the blob. Missing blobs are not an error.
	Delete(ctx context.Context, path string) error

	// Finalize is called once an upload is complete
	Finalize(ctx context.Context, path string) error

	// Close releases any resources
	Close() error
}

// Persister moves a completed upload to permanent storage and returns its
// location (a path or URL). This is the default completion action when no
// listener claims the upload.
type Persister interface {
	Name() string
	Persist(ctx context.Context, upload *Upload, data io.Reader) (string, error)
}

// BackendConfig contains configuration for creating a chunk store or persister
type BackendConfig struct {
	Type      StorageType       `json:"type"`
	Path      string            `json:"path,omitempty"`
	Endpoint  string            `json:"endpoint,omitempty"`
	Bucket    string            `json:"bucket,omitempty"`
	Prefix    string            `json:"prefix,omitempty"`
	Region    string            `json:"region,omitempty"`
	AccessKey string            `json:"access_key,omitempty"`
	SecretKey string            `json:"secret_key,omitempty"`
	Options   map[string]string `json:"options,omitempty"`

	// Sync forces fdatasync after every append (local only)
	Sync bool `json:"sync,omitempty"`

	// Compression is applied by persisters: none, lz4, zstd or s2
	Compression string `json:"compression,omitempty"`
}
