// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package compression

import (
	"io"
	"sync"

	"github.com/pierrec/lz4/v4"
)

var (
	lz4WriterPool = sync.Pool{New: func() any { return lz4.NewWriter(nil) }}
	lz4ReaderPool = sync.Pool{New: func() any { return lz4.NewReader(nil) }}
)

func newLZ4Writer(w io.Writer) io.WriteCloser {
	lw := lz4WriterPool.Get().(*lz4.Writer)
	lw.Reset(w)
	return &pooledLZ4Writer{Writer: lw}
}

type pooledLZ4Writer struct {
	*lz4.Writer
}

func (w *pooledLZ4Writer) Close() error {
	err := w.Writer.Close()
	w.Reset(nil)
	lz4WriterPool.Put(w.Writer)
	return err
}

func newLZ4Reader(r io.Reader) io.ReadCloser {
	lr := lz4ReaderPool.Get().(*lz4.Reader)
	lr.Reset(r)
	return &pooledLZ4Reader{Reader: lr}
}

type pooledLZ4Reader struct {
	*lz4.Reader
}

func (r *pooledLZ4Reader) Close() error {
	r.Reset(nil)
	lz4ReaderPool.Put(r.Reader)
	return nil
}
