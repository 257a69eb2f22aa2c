// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/LeeDigitalWorks/zaptus/pkg/types"
)

func init() {
	Register(types.StorageTypeMemory, func(cfg types.BackendConfig) (types.ChunkStore, error) {
		return NewMemoryStorage(), nil
	})
}

// MemoryStorage is an in-memory chunk store for testing
type MemoryStorage struct {
	mu   sync.RWMutex
	data map[string][]byte

	// FailAfter, when > 0, makes the next WriteAt fail after copying that
	// many bytes. Used to simulate interrupted requests.
	FailAfter int64
}

// NewMemoryStorage creates a new in-memory storage
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		data: make(map[string][]byte),
	}
}

func (m *MemoryStorage) Type() types.StorageType {
	return types.StorageTypeMemory
}

func (m *MemoryStorage) Create(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return fmt.Errorf("blob exists: %s", key)
	}
	m.data[key] = []byte{}
	return nil
}

func (m *MemoryStorage) WriteAt(ctx context.Context, key string, offset int64, r io.Reader) (int64, error) {
	m.mu.RLock()
	data, ok := m.data[key]
	failAfter := m.FailAfter
	m.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", types.ErrBlobNotFound, key)
	}
	if int64(len(data)) != offset {
		return int64(len(data)), fmt.Errorf("%w: size %d, offset %d", types.ErrOffsetMismatch, len(data), offset)
	}

	if failAfter > 0 {
		// Consume the prefix then fail without keeping it
		io.CopyN(io.Discard, r, failAfter)
		m.mu.Lock()
		m.FailAfter = 0
		m.mu.Unlock()
		return offset, fmt.Errorf("write data: %w", io.ErrUnexpectedEOF)
	}

	buf, err := io.ReadAll(&contextReader{ctx: ctx, r: r})
	if err != nil {
		return offset, fmt.Errorf("write data: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.data[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", types.ErrBlobNotFound, key)
	}
	if int64(len(cur)) != offset {
		return int64(len(cur)), fmt.Errorf("%w: size %d, offset %d", types.ErrOffsetMismatch, len(cur), offset)
	}
	m.data[key] = append(cur, buf...)
	return offset + int64(len(buf)), nil
}

func (m *MemoryStorage) Truncate(ctx context.Context, key string, size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[key]
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrBlobNotFound, key)
	}
	if size < int64(len(data)) {
		m.data[key] = data[:size:size]
	}
	return nil
}

func (m *MemoryStorage) ReadRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrBlobNotFound, key)
	}
	if start < 0 || end < start {
		return nil, fmt.Errorf("invalid range [%d, %d)", start, end)
	}

	size := int64(len(data))
	if start >= size {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	if end > size {
		end = size
	}
	return io.NopCloser(bytes.NewReader(data[start:end])), nil
}

func (m *MemoryStorage) Size(ctx context.Context, key string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.data[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", types.ErrBlobNotFound, key)
	}
	return int64(len(data)), nil
}

func (m *MemoryStorage) Concat(ctx context.Context, dst string, srcs []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []byte
	for _, src := range srcs {
		data, ok := m.data[src]
		if !ok {
			return 0, fmt.Errorf("%w: %s", types.ErrBlobNotFound, src)
		}
		out = append(out, data...)
	}
	if out == nil {
		out = []byte{}
	}
	m.data[dst] = out
	return int64(len(out)), nil
}

func (m *MemoryStorage) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryStorage) Finalize(ctx context.Context, key string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.data[key]; !ok {
		return fmt.Errorf("%w: %s", types.ErrBlobNotFound, key)
	}
	return nil
}

// Bytes returns a copy of a blob, for assertions in tests.
func (m *MemoryStorage) Bytes(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.data[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string][]byte)
	return nil
}
