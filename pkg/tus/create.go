package tus

import (
	"context"
	"time"

	"github.com/LeeDigitalWorks/zaptus/pkg/events"
	"github.com/LeeDigitalWorks/zaptus/pkg/logger"
	"github.com/LeeDigitalWorks/zaptus/pkg/types"
)

// CreateParams describes a new upload
type CreateParams struct {
	Length         int64
	LengthDeferred bool
	Metadata       types.Metadata
	Partial        bool

	// Whole-file checksum, verified once every byte has arrived
	ChecksumAlgorithm string
	ChecksumValue     []byte
}

// Create registers a new upload with an empty blob. A zero-length upload is
// complete on return.
func (h *Handler) Create(ctx context.Context, p CreateParams) (u *types.Upload, err error) {
	start := time.Now()
	defer func() { observe(OpCreate, start, err) }()

	if err := h.authorize(ctx, OpCreate, ""); err != nil {
		return nil, err
	}
	if err := h.validateCreate(p); err != nil {
		return nil, err
	}

	id := types.NewUploadID()
	ctx = withUpload(ctx, id)

	u = &types.Upload{
		ID:                id,
		Length:            p.Length,
		LengthDeferred:    p.LengthDeferred,
		StoragePath:       storagePath(id),
		Metadata:          p.Metadata.Clone(),
		ChecksumAlgorithm: p.ChecksumAlgorithm,
		ChecksumValue:     p.ChecksumValue,
		Partial:           p.Partial,
		CreatedAt:         time.Now().UTC(),
	}
	if u.LengthDeferred {
		u.Length = 0
	}
	u.RefreshState()
	if u.IsComplete() {
		now := u.CreatedAt
		u.CompletedAt = &now
	}

	if err := h.storage.Create(ctx, u.StoragePath); err != nil {
		return nil, wrapError(ErrCodeStorageIOError, id, err, "create blob")
	}
	if err := h.store.Create(ctx, u); err != nil {
		if derr := h.storage.Delete(ctx, u.StoragePath); derr != nil {
			logger.Ctx(ctx).Warn().Err(derr).Msg("failed to remove orphaned blob")
		}
		return nil, wrapError(ErrCodeInternal, id, err, "store upload")
	}

	logger.Ctx(ctx).Info().
		Int64("length", u.Length).
		Bool("deferred", u.LengthDeferred).
		Bool("partial", u.Partial).
		Msg("upload created")

	_, lerr := h.emit(ctx, events.KindCreated, u)

	if u.IsComplete() {
		done, cerr := h.complete(ctx, u)
		if cerr != nil {
			return done, cerr
		}
		u = done
	}
	return u, lerr
}

func (h *Handler) validateCreate(p CreateParams) error {
	if !p.LengthDeferred {
		if p.Length < 0 {
			return newError(ErrCodeInvalidLength, "", "invalid upload length %d", p.Length)
		}
		if h.maxSize > 0 && p.Length > h.maxSize {
			return tooLarge("", p.Length, h.maxSize)
		}
	}
	if p.ChecksumAlgorithm != "" {
		if !h.verifier.Supports(p.ChecksumAlgorithm) {
			return newError(ErrCodeUnsupportedAlgorithm, "", "unsupported checksum algorithm %q", p.ChecksumAlgorithm)
		}
		if len(p.ChecksumValue) == 0 {
			return newError(ErrCodeUnsupportedAlgorithm, "", "empty checksum value")
		}
	}
	return nil
}
