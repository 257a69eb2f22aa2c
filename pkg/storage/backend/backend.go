// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package backend provides chunk storage and persister implementations.
// Chunk stores implement types.ChunkStore, persisters implement types.Persister.
package backend

import (
	"fmt"
	"sync"

	"github.com/LeeDigitalWorks/zaptus/pkg/types"
)

// Registry holds registered factories
var (
	registryMu sync.RWMutex
	registry   = make(map[types.StorageType]Factory)
	persisters = make(map[types.StorageType]PersisterFactory)
)

// Factory creates a ChunkStore from config
type Factory func(cfg types.BackendConfig) (types.ChunkStore, error)

// PersisterFactory creates a Persister from config
type PersisterFactory func(cfg types.BackendConfig) (types.Persister, error)

// Register adds a factory for a storage type
func Register(t types.StorageType, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[t] = f
}

// RegisterPersister adds a persister factory for a storage type
func RegisterPersister(t types.StorageType, f PersisterFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	persisters[t] = f
}

// New creates a ChunkStore from config
func New(cfg types.BackendConfig) (types.ChunkStore, error) {
	registryMu.RLock()
	f, ok := registry[cfg.Type]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
	return f(cfg)
}

// NewPersister creates a Persister from config. An empty type means no
// default persistence and returns nil.
func NewPersister(cfg types.BackendConfig) (types.Persister, error) {
	if cfg.Type == "" {
		return nil, nil
	}
	registryMu.RLock()
	f, ok := persisters[cfg.Type]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown persister type: %s", cfg.Type)
	}
	return f(cfg)
}
