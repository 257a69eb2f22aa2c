package tus

import (
	"context"
	"errors"
	"time"

	"github.com/LeeDigitalWorks/zaptus/pkg/events"
	"github.com/LeeDigitalWorks/zaptus/pkg/logger"
	"github.com/LeeDigitalWorks/zaptus/pkg/metadata"
	"github.com/LeeDigitalWorks/zaptus/pkg/types"
)

// ConcatParams names the partial uploads to merge, in order
type ConcatParams struct {
	Parts    []string
	Metadata types.Metadata
}

// Concatenate builds a final upload from complete partial uploads. Each
// part can be merged once. With CleanupDelete the parts are terminated
// afterwards.
func (h *Handler) Concatenate(ctx context.Context, p ConcatParams) (u *types.Upload, err error) {
	start := time.Now()
	defer func() { observe(OpConcatenate, start, err) }()

	if err := h.authorize(ctx, OpConcatenate, ""); err != nil {
		return nil, err
	}
	if len(p.Parts) == 0 {
		return nil, newError(ErrCodeConcatenationError, "", "no parts to concatenate")
	}
	seen := make(map[string]struct{}, len(p.Parts))
	for _, id := range p.Parts {
		if _, dup := seen[id]; dup {
			return nil, newError(ErrCodeConcatenationError, id, "part %s listed more than once", id)
		}
		seen[id] = struct{}{}
	}

	unlock, err := h.locker.LockAll(ctx, p.Parts)
	if err != nil {
		return nil, wrapError(ErrCodeInternal, "", err, "wait for part locks")
	}
	defer unlock()

	parts, err := h.store.ListByIDs(ctx, p.Parts)
	if err != nil {
		var nf *metadata.NotFoundError
		if errors.As(err, &nf) {
			return nil, wrapError(ErrCodeConcatenationError, nf.ID, err, "part "+nf.ID+" not found")
		}
		return nil, wrapError(ErrCodeInternal, "", err, "load parts")
	}

	var total int64
	paths := make([]string, 0, len(parts))
	for _, part := range parts {
		switch {
		case !part.Partial:
			return nil, newError(ErrCodeConcatenationError, part.ID, "part %s is not a partial upload", part.ID)
		case !part.IsComplete():
			return nil, newError(ErrCodeConcatenationError, part.ID, "part %s is not complete", part.ID)
		case part.State == types.StateCorrupt:
			return nil, newError(ErrCodeConcatenationError, part.ID, "part %s failed checksum verification", part.ID)
		case part.MergedInto != "":
			return nil, newError(ErrCodeConcatenationError, part.ID, "part %s was already merged into %s", part.ID, part.MergedInto)
		}
		total += part.Length
		paths = append(paths, part.StoragePath)
	}
	if h.maxSize > 0 && total > h.maxSize {
		return nil, newError(ErrCodeSizeExceeded, "", "concatenated length %d exceeds maximum size %d", total, h.maxSize)
	}

	id := types.NewUploadID()
	ctx = withUpload(ctx, id)
	path := storagePath(id)

	n, err := h.storage.Concat(ctx, path, paths)
	if err != nil {
		return nil, wrapError(ErrCodeStorageIOError, id, err, "concatenate blobs")
	}
	if n != total {
		h.discardBlob(ctx, path)
		return nil, newError(ErrCodeStorageIOError, id, "concatenated %d bytes, expected %d", n, total)
	}

	now := time.Now().UTC()
	u = &types.Upload{
		ID:          id,
		Offset:      total,
		Length:      total,
		StoragePath: path,
		Metadata:    p.Metadata.Clone(),
		ConcatParts: append([]string(nil), p.Parts...),
		State:       types.StateMerged,
		CreatedAt:   now,
		CompletedAt: &now,
	}
	if err := h.store.Create(ctx, u); err != nil {
		h.discardBlob(ctx, path)
		return nil, wrapError(ErrCodeInternal, id, err, "store final upload")
	}

	for i, part := range parts {
		marked := part.Clone()
		marked.MergedInto = id
		if err := h.store.Put(ctx, marked); err != nil {
			h.unmerge(ctx, u, parts[:i])
			return nil, wrapError(ErrCodeInternal, id, err, "mark part "+part.ID+" merged")
		}
	}

	logger.Ctx(ctx).Info().
		Strs("parts", p.Parts).
		Int64("length", total).
		Msg("uploads merged")

	_, lerr := h.emit(ctx, events.KindMerged, u)

	if h.concatCleanup == CleanupDelete {
		for _, part := range parts {
			if err := h.terminateLocked(ctx, part); err != nil {
				logger.Ctx(ctx).Warn().Err(err).Str("part", part.ID).Msg("failed to clean up merged part")
			}
		}
	}
	return u, lerr
}

// unmerge undoes a concatenation that could not mark every part: the marked
// parts are released and the final upload is removed.
func (h *Handler) unmerge(ctx context.Context, final *types.Upload, marked []*types.Upload) {
	for _, part := range marked {
		if err := h.store.Put(ctx, part); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("part", part.ID).Msg("failed to release part")
		}
	}
	if err := h.store.Delete(ctx, final.ID); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("failed to remove final upload")
	}
	h.discardBlob(ctx, final.StoragePath)
}

func (h *Handler) discardBlob(ctx context.Context, path string) {
	if err := h.storage.Delete(ctx, path); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("path", path).Msg("failed to remove orphaned blob")
	}
}
