// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package compression

import (
	"fmt"
	"io"
)

// NewWriter wraps w so bytes written are compressed with algo. The returned
// WriteCloser must be closed to flush the final frame; closing does not close w.
func NewWriter(algo Algorithm, w io.Writer) (io.WriteCloser, error) {
	out := &countingWriter{w: w}
	var zw io.WriteCloser
	switch algo {
	case None, "":
		return &nopWriteCloser{w}, nil
	case LZ4:
		zw = newLZ4Writer(out)
	case ZSTD:
		zw = newZSTDWriter(out)
	case S2:
		zw = newS2Writer(out)
	default:
		return nil, fmt.Errorf("unknown compression algorithm: %s", algo)
	}
	return &meteredWriter{algo: algo, zw: zw, out: out}, nil
}

// NewReader wraps r to decompress data as it's read.
// The returned ReadCloser must be closed when done.
func NewReader(algo Algorithm, r io.Reader) (io.ReadCloser, error) {
	switch algo {
	case None, "":
		return io.NopCloser(r), nil
	case LZ4:
		return newLZ4Reader(r), nil
	case ZSTD:
		return newZSTDReader(r)
	case S2:
		return newS2Reader(r), nil
	default:
		return nil, fmt.Errorf("unknown compression algorithm: %s", algo)
	}
}

// meteredWriter records bytes in and out once the stream is closed.
type meteredWriter struct {
	algo Algorithm
	zw   io.WriteCloser
	out  *countingWriter
	in   int64
}

func (m *meteredWriter) Write(p []byte) (int, error) {
	n, err := m.zw.Write(p)
	m.in += int64(n)
	return n, err
}

func (m *meteredWriter) Close() error {
	err := m.zw.Close()
	observe(m.algo, m.in, m.out.n)
	return err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

type nopWriteCloser struct {
	io.Writer
}

func (w *nopWriteCloser) Close() error {
	return nil
}
