// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"math/bits"
	"sync"
)

// Copy buffers come in power of two size classes from 4KB to 1MB. Index 0
// is 4KB.
const (
	minPoolShift  = 12
	minPoolSize   = 1 << minPoolShift
	maxPoolSize   = 1 << 20
	numPoolLevels = 9
)

var bufferPools [numPoolLevels]sync.Pool

func init() {
	for i := range bufferPools {
		size := minPoolSize << i
		bufferPools[i] = sync.Pool{
			New: func() any {
				buf := make([]byte, size)
				return &buf
			},
		}
	}
}

// poolIndex returns the smallest size class holding size, or -1 if size is
// larger than maxPoolSize.
func poolIndex(size int) int {
	if size <= minPoolSize {
		return 0
	}
	if size > maxPoolSize {
		return -1
	}
	return bits.Len(uint(size-1)) - minPoolShift
}

// GetBuffer returns a byte slice of exactly size bytes, backed by a pooled
// array when size fits a class. Return it with PutBuffer.
func GetBuffer(size int) []byte {
	idx := poolIndex(size)
	if idx < 0 {
		return make([]byte, size)
	}
	bufPtr := bufferPools[idx].Get().(*[]byte)
	return (*bufPtr)[:size]
}

// PutBuffer returns a buffer obtained from GetBuffer. Buffers that did not
// come from the pool are dropped.
//
// Do not use the buffer after calling PutBuffer.
func PutBuffer(buf []byte) {
	c := cap(buf)
	idx := poolIndex(c)
	if idx < 0 || c != minPoolSize<<idx {
		return
	}
	buf = buf[:c]
	bufferPools[idx].Put(&buf)
}
