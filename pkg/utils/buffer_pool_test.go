package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoolIndex(t *testing.T) {
	t.Parallel()

	tests := []struct {
		size int
		want int
	}{
		{0, 0},
		{1, 0},
		{4096, 0},
		{4097, 1},
		{8192, 1},
		{256 << 10, 6},
		{1 << 20, 8},
		{1<<20 + 1, -1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, poolIndex(tt.size), "size %d", tt.size)
	}
}

func TestGetPutBuffer(t *testing.T) {
	t.Parallel()

	buf := GetBuffer(10000)
	assert.Len(t, buf, 10000)
	assert.Equal(t, 16384, cap(buf))
	PutBuffer(buf)

	big := GetBuffer(2 << 20)
	assert.Len(t, big, 2<<20)
	PutBuffer(big)

	// Foreign buffers are ignored
	PutBuffer(make([]byte, 5000))
}
