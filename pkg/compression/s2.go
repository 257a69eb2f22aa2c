// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package compression

import (
	"io"
	"sync"

	"github.com/klauspost/compress/s2"
)

var (
	s2WriterPool = sync.Pool{New: func() any { return s2.NewWriter(nil, s2.WriterConcurrency(1)) }}
	s2ReaderPool = sync.Pool{New: func() any { return s2.NewReader(nil) }}
)

func newS2Writer(w io.Writer) io.WriteCloser {
	sw := s2WriterPool.Get().(*s2.Writer)
	sw.Reset(w)
	return &pooledS2Writer{Writer: sw}
}

type pooledS2Writer struct {
	*s2.Writer
}

func (w *pooledS2Writer) Close() error {
	err := w.Writer.Close()
	w.Reset(nil)
	s2WriterPool.Put(w.Writer)
	return err
}

func newS2Reader(r io.Reader) io.ReadCloser {
	sr := s2ReaderPool.Get().(*s2.Reader)
	sr.Reset(r)
	return &pooledS2Reader{Reader: sr}
}

type pooledS2Reader struct {
	*s2.Reader
}

func (r *pooledS2Reader) Close() error {
	r.Reset(nil)
	s2ReaderPool.Put(r.Reader)
	return nil
}
