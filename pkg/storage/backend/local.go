// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/LeeDigitalWorks/zaptus/pkg/types"
	"github.com/LeeDigitalWorks/zaptus/pkg/utils"
)

// copyBufferSize is used when copying between blobs
const copyBufferSize = 1 << 20

func init() {
	Register(types.StorageTypeLocal, NewLocal)
}

// Local implements ChunkStore on the local filesystem. Each blob is a single
// file under basePath that only ever grows by appending, or shrinks back when
// a write is undone.
type Local struct {
	basePath string
	sync     bool
}

// NewLocal creates a local filesystem chunk store
func NewLocal(cfg types.BackendConfig) (types.ChunkStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("path required for local backend")
	}

	path := utils.ResolvePath(cfg.Path)
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("create base path: %w", err)
	}

	return &Local{basePath: path, sync: cfg.Sync}, nil
}

func (l *Local) Type() types.StorageType {
	return types.StorageTypeLocal
}

// Path returns the absolute filesystem path of a blob key.
func (l *Local) Path(key string) string {
	return filepath.Join(l.basePath, key)
}

func (l *Local) resolve(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return filepath.Join(l.basePath, key), nil
}

func (l *Local) Create(ctx context.Context, key string) error {
	path, err := l.resolve(key)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	return f.Close()
}

func (l *Local) WriteAt(ctx context.Context, key string, offset int64, r io.Reader) (int64, error) {
	path, err := l.resolve(key)
	if err != nil {
		return 0, err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s", types.ErrBlobNotFound, key)
		}
		return 0, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat file: %w", err)
	}
	if info.Size() != offset {
		return info.Size(), fmt.Errorf("%w: size %d, offset %d", types.ErrOffsetMismatch, info.Size(), offset)
	}

	n, err := io.Copy(f, &contextReader{ctx: ctx, r: r})
	if err == nil && l.sync {
		err = Fdatasync(f)
	}
	if err != nil {
		// Undo the partial append so the blob never exceeds the committed offset
		if terr := f.Truncate(offset); terr != nil {
			return offset + n, errors.Join(fmt.Errorf("write data: %w", err), fmt.Errorf("truncate: %w", terr))
		}
		return offset, fmt.Errorf("write data: %w", err)
	}

	return offset + n, nil
}

func (l *Local) Truncate(ctx context.Context, key string, size int64) error {
	path, err := l.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Truncate(path, size); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", types.ErrBlobNotFound, key)
		}
		return fmt.Errorf("truncate: %w", err)
	}
	return nil
}

func (l *Local) ReadRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, error) {
	path, err := l.resolve(key)
	if err != nil {
		return nil, err
	}
	if start < 0 || end < start {
		return nil, fmt.Errorf("invalid range [%d, %d)", start, end)
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", types.ErrBlobNotFound, key)
		}
		return nil, err
	}

	return &limitedReadCloser{
		Reader: io.NewSectionReader(f, start, end-start),
		Closer: f,
	}, nil
}

func (l *Local) Size(ctx context.Context, key string) (int64, error) {
	path, err := l.resolve(key)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s", types.ErrBlobNotFound, key)
		}
		return 0, err
	}
	return info.Size(), nil
}

// Concat writes srcs into dst.tmp and renames it into place, so dst either
// holds every source or does not exist.
func (l *Local) Concat(ctx context.Context, dst string, srcs []string) (int64, error) {
	dstPath, err := l.resolve(dst)
	if err != nil {
		return 0, err
	}
	tmpPath := dstPath + ".tmp"

	out, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}

	buf := utils.GetBuffer(copyBufferSize)
	defer utils.PutBuffer(buf)

	var total int64
	fail := func(err error) (int64, error) {
		out.Close()
		os.Remove(tmpPath)
		return 0, err
	}

	for _, src := range srcs {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		srcPath, err := l.resolve(src)
		if err != nil {
			return fail(err)
		}
		in, err := os.Open(srcPath)
		if err != nil {
			if os.IsNotExist(err) {
				return fail(fmt.Errorf("%w: %s", types.ErrBlobNotFound, src))
			}
			return fail(err)
		}
		n, err := io.CopyBuffer(struct{ io.Writer }{out}, in, buf)
		in.Close()
		if err != nil {
			return fail(fmt.Errorf("copy %s: %w", src, err))
		}
		total += n
	}

	if err := Fdatasync(out); err != nil {
		return fail(fmt.Errorf("sync: %w", err))
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpPath, dstPath); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("rename: %w", err)
	}
	return total, nil
}

func (l *Local) Delete(ctx context.Context, key string) error {
	path, err := l.resolve(key)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if os.IsNotExist(err) {
		return nil // Already gone
	}
	return err
}

// Finalize flushes the blob and drops it from the page cache. Complete
// uploads are read back once for verification and never appended to again.
func (l *Local) Finalize(ctx context.Context, key string) error {
	path, err := l.resolve(key)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", types.ErrBlobNotFound, key)
		}
		return err
	}
	defer f.Close()
	if err := Fdatasync(f); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return FadviseDontNeed(f)
}

func (l *Local) Close() error {
	return nil
}

// limitedReadCloser wraps a limited reader with a closer
type limitedReadCloser struct {
	io.Reader
	io.Closer
}

// contextReader stops a copy once the request context is cancelled
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
