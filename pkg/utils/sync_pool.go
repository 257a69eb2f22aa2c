// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"bytes"
	"sync"
)

// maxPooledBuffer keeps oversized buffers from pinning memory in the pool
const maxPooledBuffer = 16 << 20

var syncPool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

func SyncPoolGetBuffer() *bytes.Buffer {
	return syncPool.Get().(*bytes.Buffer)
}

func SyncPoolPutBuffer(buffer *bytes.Buffer) {
	if buffer.Cap() > maxPooledBuffer {
		return
	}
	buffer.Reset()
	syncPool.Put(buffer)
}
