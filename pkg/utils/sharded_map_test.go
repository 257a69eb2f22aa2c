// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShardedMap_BasicOperations(t *testing.T) {
	t.Parallel()

	sm := NewShardedMap[int]()
	sm.Store("key1", 100)
	sm.Store("key2", 200)

	v1, ok := sm.Load("key1")
	assert.True(t, ok)
	assert.Equal(t, 100, v1)

	_, ok = sm.Load("missing")
	assert.False(t, ok)
	assert.Equal(t, 2, sm.Len())

	sm.Delete("key1")
	_, ok = sm.Load("key1")
	assert.False(t, ok)
	assert.Equal(t, 1, sm.Len())
}

func TestShardedMap_Compute(t *testing.T) {
	t.Parallel()

	sm := NewShardedMap[int]()

	v := sm.Compute("k", func(old int, exists bool) (int, bool) {
		assert.False(t, exists)
		return old + 1, true
	})
	assert.Equal(t, 1, v)

	v = sm.Compute("k", func(old int, exists bool) (int, bool) {
		assert.True(t, exists)
		return old + 1, true
	})
	assert.Equal(t, 2, v)

	sm.Compute("k", func(old int, exists bool) (int, bool) {
		return 0, false
	})
	_, ok := sm.Load("k")
	assert.False(t, ok)
	assert.Equal(t, 0, sm.Len())
}

func TestShardedMap_ConcurrentCompute(t *testing.T) {
	t.Parallel()

	sm := NewShardedMap[int]()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("key-%d", i%5)
			for j := 0; j < 100; j++ {
				sm.Compute(key, func(old int, _ bool) (int, bool) {
					return old + 1, true
				})
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 5; i++ {
		v, ok := sm.Load(fmt.Sprintf("key-%d", i))
		assert.True(t, ok)
		assert.Equal(t, 1000, v)
	}
}

func TestShardedMap_DeleteIf(t *testing.T) {
	t.Parallel()

	sm := NewShardedMap[int]()
	for i := 0; i < 20; i++ {
		sm.Store(fmt.Sprintf("key-%d", i), i)
	}

	removed := sm.DeleteIf(func(_ string, v int) bool { return v%2 == 0 })
	assert.Equal(t, 10, removed)
	assert.Equal(t, 10, sm.Len())

	_, ok := sm.Load("key-4")
	assert.False(t, ok)
	_, ok = sm.Load("key-5")
	assert.True(t, ok)
}
