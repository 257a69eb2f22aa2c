package tus

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"github.com/LeeDigitalWorks/zaptus/pkg/events"
	"github.com/LeeDigitalWorks/zaptus/pkg/logger"
	"github.com/LeeDigitalWorks/zaptus/pkg/metadata"
	"github.com/LeeDigitalWorks/zaptus/pkg/types"
)

// AppendParams is one PATCH worth of bytes
type AppendParams struct {
	ID     string
	Offset int64
	Body   io.Reader

	// ContentLength is the body size, or -1 when unknown
	ContentLength int64

	// DeclaredLength sets the length of a deferred-length upload
	DeclaredLength *int64

	// Chunk checksum. The body is buffered and verified before any byte
	// reaches storage.
	ChecksumAlgorithm string
	ChecksumValue     []byte
}

// Append writes a chunk at p.Offset. The offset only advances once the
// bytes are durably stored and the store accepted the compare-and-swap.
func (h *Handler) Append(ctx context.Context, p AppendParams) (u *types.Upload, err error) {
	start := time.Now()
	defer func() { observe(OpAppend, start, err) }()

	if err := h.authorize(ctx, OpAppend, p.ID); err != nil {
		return nil, err
	}
	if p.ChecksumAlgorithm != "" && !h.verifier.Supports(p.ChecksumAlgorithm) {
		return nil, newError(ErrCodeUnsupportedAlgorithm, p.ID, "unsupported checksum algorithm %q", p.ChecksumAlgorithm)
	}
	ctx = withUpload(ctx, p.ID)

	unlock, err := h.lock(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	u, err = h.load(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if u.IsFinal() {
		return nil, newError(ErrCodeFinalUploadImmutable, u.ID, "final upload cannot be modified")
	}
	if u.State == types.StateCorrupt {
		return nil, newError(ErrCodeChecksumMismatch, u.ID, "upload failed checksum verification")
	}
	if p.Offset != u.Offset {
		return nil, newError(ErrCodeOffsetConflict, u.ID, "offset %d does not match current offset %d", p.Offset, u.Offset)
	}

	if p.DeclaredLength != nil {
		if u.LengthDeferred {
			if u, err = h.declareLength(ctx, u, *p.DeclaredLength); err != nil {
				return nil, err
			}
		} else if *p.DeclaredLength != u.Length {
			return nil, newError(ErrCodeInvalidLength, u.ID, "upload length is already %d", u.Length)
		}
	}

	limit := h.bodyLimit(u)
	if limit >= 0 && p.ContentLength > limit {
		return nil, newError(ErrCodeSizeExceeded, u.ID, "chunk of %d bytes exceeds the %d bytes remaining", p.ContentLength, limit)
	}

	body := p.Body
	if body == nil {
		body = bytes.NewReader(nil)
	}
	if limit >= 0 {
		body = &limitBody{r: body, remaining: limit}
	}

	if p.ChecksumAlgorithm != "" {
		s, err := h.verifyChunk(ctx, u.ID, body, p.ChecksumAlgorithm, p.ChecksumValue)
		if err != nil {
			return nil, err
		}
		defer s.Close()
		body = s.Reader()
	}

	if err := h.reconcile(ctx, u); err != nil {
		return nil, err
	}

	next, err := h.storage.WriteAt(ctx, u.StoragePath, u.Offset, body)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			return nil, newError(ErrCodeSizeExceeded, u.ID, "chunk exceeds the %d bytes remaining", limit)
		}
		return nil, wrapError(ErrCodeStorageIOError, u.ID, err, "write chunk")
	}

	written := next - u.Offset
	var lerrs []error
	if written > 0 {
		// The last chunk is flushed and verified before the offset moves, so
		// a failure here leaves the upload resumable at the pre-write offset.
		corrupt := false
		if !u.LengthDeferred && next == u.Length {
			if corrupt, err = h.seal(ctx, u); err != nil {
				h.rollback(ctx, u, next)
				return nil, err
			}
		}

		updated, err := h.store.CompareAndSwapOffset(ctx, u.ID, u.Offset, next)
		if err != nil {
			h.rollback(ctx, u, next)
			switch {
			case errors.Is(err, metadata.ErrOffsetConflict):
				return nil, newError(ErrCodeOffsetConflict, u.ID, "offset changed during write")
			case errors.Is(err, metadata.ErrNotFound):
				return nil, newError(ErrCodeNotFound, u.ID, "upload not found")
			}
			return nil, wrapError(ErrCodeInternal, u.ID, err, "commit offset")
		}
		u = updated
		bytesReceived.Add(float64(written))

		logger.Ctx(ctx).Debug().
			Int64("offset", u.Offset).
			Int64("written", written).
			Msg("chunk committed")

		if _, lerr := h.emit(ctx, events.KindProgress, u); lerr != nil {
			lerrs = append(lerrs, lerr)
		}

		if corrupt {
			return h.markCorrupt(ctx, u)
		}
		if u.NeedsFinish() {
			done, err := h.finish(ctx, u)
			if err != nil {
				return done, err
			}
			u = done
		}
	} else if u.NeedsFinish() {
		// Nothing new arrived: a declared length closed the upload, or an
		// earlier completion failed and the client is retrying it.
		done, err := h.complete(ctx, u)
		if err != nil {
			return done, err
		}
		u = done
	}

	if len(lerrs) > 0 {
		return u, lerrs[0]
	}
	return u, nil
}

// reconcile cuts bytes left past the committed offset by a write whose
// rollback failed. Without it every later WriteAt would mismatch.
func (h *Handler) reconcile(ctx context.Context, u *types.Upload) error {
	size, err := h.storage.Size(ctx, u.StoragePath)
	if err != nil {
		return wrapError(ErrCodeStorageIOError, u.ID, err, "stat blob")
	}
	switch {
	case size == u.Offset:
		return nil
	case size < u.Offset:
		return newError(ErrCodeStorageIOError, u.ID, "blob holds %d bytes, offset is %d", size, u.Offset)
	}
	if err := h.storage.Truncate(ctx, u.StoragePath, u.Offset); err != nil {
		return wrapError(ErrCodeStorageIOError, u.ID, err, "truncate uncommitted bytes")
	}
	logger.Ctx(ctx).Warn().
		Int64("size", size).
		Int64("offset", u.Offset).
		Msg("dropped uncommitted bytes")
	return nil
}

// bodyLimit returns how many more bytes u accepts, or -1 when unbounded
func (h *Handler) bodyLimit(u *types.Upload) int64 {
	if !u.LengthDeferred {
		return u.Length - u.Offset
	}
	if h.maxSize > 0 {
		return h.maxSize - u.Offset
	}
	return -1
}

// verifyChunk spools the body while hashing it and compares the digest.
// Nothing is written on mismatch.
func (h *Handler) verifyChunk(ctx context.Context, id string, body io.Reader, algorithm string, expected []byte) (*spool, error) {
	hasher, err := h.verifier.NewHash(algorithm)
	if err != nil {
		return nil, wrapError(ErrCodeUnsupportedAlgorithm, id, err, "checksum")
	}
	s, err := spoolBody(ctx, body, hasher, h.tempDir)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			return nil, newError(ErrCodeSizeExceeded, id, "chunk exceeds the remaining upload length")
		}
		return nil, wrapError(ErrCodeStorageIOError, id, err, "buffer chunk")
	}
	if !bytes.Equal(hasher.Sum(nil), expected) {
		s.Close()
		checksumFailures.WithLabelValues("chunk").Inc()
		return nil, newError(ErrCodeChecksumMismatch, id, "%s checksum mismatch", algorithm)
	}
	return s, nil
}

// rollback drops bytes written past the committed offset. Only our own
// tail is cut: if the blob grew further someone else owns those bytes.
func (h *Handler) rollback(ctx context.Context, u *types.Upload, written int64) {
	size, err := h.storage.Size(ctx, u.StoragePath)
	if err != nil || size != written {
		return
	}
	if err := h.storage.Truncate(ctx, u.StoragePath, u.Offset); err != nil {
		logger.Ctx(ctx).Error().Err(err).Int64("offset", u.Offset).Msg("failed to roll back chunk")
	}
}

// DeclareLength sets the length of a deferred-length upload.
func (h *Handler) DeclareLength(ctx context.Context, id string, length int64) (u *types.Upload, err error) {
	start := time.Now()
	defer func() { observe(OpDeclareLength, start, err) }()

	if err := h.authorize(ctx, OpDeclareLength, id); err != nil {
		return nil, err
	}
	ctx = withUpload(ctx, id)

	unlock, err := h.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	u, err = h.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !u.LengthDeferred {
		return nil, newError(ErrCodeInvalidLength, id, "upload length is already %d", u.Length)
	}
	if u, err = h.declareLength(ctx, u, length); err != nil {
		return nil, err
	}
	if u.NeedsFinish() {
		return h.complete(ctx, u)
	}
	return u, nil
}

// declareLength fixes the length of u. Caller holds the lock.
func (h *Handler) declareLength(ctx context.Context, u *types.Upload, length int64) (*types.Upload, error) {
	if length < u.Offset {
		return nil, newError(ErrCodeInvalidLength, u.ID, "length %d is below current offset %d", length, u.Offset)
	}
	if h.maxSize > 0 && length > h.maxSize {
		return nil, tooLarge(u.ID, length, h.maxSize)
	}

	next := u.Clone()
	next.Length = length
	next.LengthDeferred = false
	metadata.ApplyOffset(next, next.Offset)

	if err := h.store.Put(ctx, next); err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			return nil, newError(ErrCodeNotFound, u.ID, "upload not found")
		}
		return nil, wrapError(ErrCodeInternal, u.ID, err, "store length")
	}

	logger.Ctx(ctx).Debug().Int64("length", length).Msg("upload length declared")
	return next, nil
}

// complete runs every completion step for an upload whose bytes are
// already committed.
func (h *Handler) complete(ctx context.Context, u *types.Upload) (*types.Upload, error) {
	corrupt, err := h.seal(ctx, u)
	if err != nil {
		return u, err
	}
	if corrupt {
		return h.markCorrupt(ctx, u)
	}
	return h.finish(ctx, u)
}

// seal flushes the blob and checks the whole-file checksum. It reports
// whether the checksum failed.
func (h *Handler) seal(ctx context.Context, u *types.Upload) (bool, error) {
	if err := h.storage.Finalize(ctx, u.StoragePath); err != nil {
		return false, wrapError(ErrCodeStorageIOError, u.ID, err, "finalize blob")
	}
	if u.ChecksumAlgorithm == "" {
		return false, nil
	}
	ok, err := h.verifyFile(ctx, u)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

func (h *Handler) markCorrupt(ctx context.Context, u *types.Upload) (*types.Upload, error) {
	checksumFailures.WithLabelValues("file").Inc()
	corrupt := u.Clone()
	corrupt.State = types.StateCorrupt
	if err := h.store.Put(ctx, corrupt); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("failed to mark upload corrupt")
	}
	logger.Ctx(ctx).Warn().Str("algorithm", u.ChecksumAlgorithm).Msg("whole-file checksum mismatch")
	return corrupt, newError(ErrCodeChecksumMismatch, u.ID, "%s checksum of the complete upload does not match", u.ChecksumAlgorithm)
}

// finish emits complete, runs default persistence unless a listener took
// over, then records the upload as finished. On error the marker stays
// unset and the next empty PATCH at the final offset retries.
func (h *Handler) finish(ctx context.Context, u *types.Upload) (*types.Upload, error) {
	uploadsCompleted.Inc()
	logger.Ctx(ctx).Info().Int64("length", u.Length).Msg("upload complete")

	result, lerr := h.emit(ctx, events.KindComplete, u)

	done := u.Clone()
	done.Finished = true
	if !u.Partial && result != events.Handled && h.persister != nil {
		location, err := h.persist(ctx, u)
		if err != nil {
			return u, err
		}
		done.PermanentLocation = location
	}
	if err := h.store.Put(ctx, done); err != nil {
		return u, wrapError(ErrCodeInternal, u.ID, err, "store completion")
	}
	return done, lerr
}

func (h *Handler) verifyFile(ctx context.Context, u *types.Upload) (bool, error) {
	rc, err := h.storage.ReadRange(ctx, u.StoragePath, 0, u.Length)
	if err != nil {
		return false, wrapError(ErrCodeStorageIOError, u.ID, err, "read blob")
	}
	defer rc.Close()

	ok, err := h.verifier.VerifyReader(u.ChecksumAlgorithm, rc, u.ChecksumValue)
	if err != nil {
		return false, wrapError(ErrCodeStorageIOError, u.ID, err, "verify blob")
	}
	return ok, nil
}

// persist hands the complete bytes to the default persister and returns
// where they went.
func (h *Handler) persist(ctx context.Context, u *types.Upload) (string, error) {
	rc, err := h.storage.ReadRange(ctx, u.StoragePath, 0, u.Length)
	if err != nil {
		return "", wrapError(ErrCodeStorageIOError, u.ID, err, "read blob")
	}
	defer rc.Close()

	location, err := h.persister.Persist(ctx, u, rc)
	if err != nil {
		return "", wrapError(ErrCodeStorageIOError, u.ID, err, "persist upload")
	}

	logger.Ctx(ctx).Info().
		Str("persister", h.persister.Name()).
		Str("location", location).
		Msg("upload persisted")
	return location, nil
}
