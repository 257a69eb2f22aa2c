package tus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/LeeDigitalWorks/zaptus/pkg/utils"
)

// memorySpoolLimit is the largest chunk held in memory while its checksum
// is verified. Larger chunks continue into a temp file.
const memorySpoolLimit = 8 << 20

// spool holds a chunk body until its checksum has been checked
type spool struct {
	buf  *bytes.Buffer
	file *os.File
	size int64
}

// spoolBody copies r into a spool while feeding h.
func spoolBody(ctx context.Context, r io.Reader, h hash.Hash, tempDir string) (*spool, error) {
	s := &spool{buf: utils.SyncPoolGetBuffer()}
	src := io.TeeReader(&ctxReader{ctx: ctx, r: r}, h)

	n, err := io.CopyN(s.buf, src, memorySpoolLimit)
	s.size = n
	if err == io.EOF {
		return s, nil
	}
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("read body: %w", err)
	}

	f, err := os.CreateTemp(tempDir, "zaptus-chunk-*")
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("create spool file: %w", err)
	}
	s.file = f

	buf := utils.GetBuffer(256 << 10)
	defer utils.PutBuffer(buf)

	if _, err := s.buf.WriteTo(f); err != nil {
		s.Close()
		return nil, fmt.Errorf("write spool file: %w", err)
	}
	rest, err := io.CopyBuffer(struct{ io.Writer }{f}, src, buf)
	s.size += rest
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("read body: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		s.Close()
		return nil, fmt.Errorf("rewind spool file: %w", err)
	}
	return s, nil
}

// Reader returns the spooled bytes from the start. Valid until Close.
func (s *spool) Reader() io.Reader {
	if s.file != nil {
		return s.file
	}
	return bytes.NewReader(s.buf.Bytes())
}

func (s *spool) Size() int64 {
	return s.size
}

func (s *spool) Close() error {
	if s.buf != nil {
		utils.SyncPoolPutBuffer(s.buf)
		s.buf = nil
	}
	if s.file != nil {
		name := s.file.Name()
		s.file.Close()
		s.file = nil
		return os.Remove(name)
	}
	return nil
}

// ctxReader stops reading once ctx is done
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// errBodyTooLarge is returned by limitBody once more than the allowed bytes arrive
var errBodyTooLarge = errors.New("request body exceeds upload length")

// limitBody reads at most limit bytes from r and fails on any excess.
type limitBody struct {
	r         io.Reader
	remaining int64
}

func (l *limitBody) Read(p []byte) (int, error) {
	if l.remaining <= 0 {
		// Probe for one more byte to tell EOF apart from excess
		var one [1]byte
		n, err := l.r.Read(one[:])
		if n > 0 {
			return 0, errBodyTooLarge
		}
		return 0, err
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	return n, err
}
