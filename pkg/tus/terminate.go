package tus

import (
	"context"
	"io"
	"time"

	"github.com/LeeDigitalWorks/zaptus/pkg/events"
	"github.com/LeeDigitalWorks/zaptus/pkg/logger"
	"github.com/LeeDigitalWorks/zaptus/pkg/types"
)

// Internal operation labels, not subject to the permission hook
const (
	opExpire   Operation = "expire"
	opDownload Operation = "download"
)

// Status returns the current state of an upload.
func (h *Handler) Status(ctx context.Context, id string) (u *types.Upload, err error) {
	start := time.Now()
	defer func() { observe(OpStatus, start, err) }()

	if err := h.authorize(ctx, OpStatus, id); err != nil {
		return nil, err
	}
	return h.load(ctx, id)
}

// Terminate removes an upload's record and bytes.
func (h *Handler) Terminate(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { observe(OpTerminate, start, err) }()

	if err := h.authorize(ctx, OpTerminate, id); err != nil {
		return err
	}
	return h.terminate(ctx, id)
}

// Expire terminates an upload on behalf of the server, skipping the
// permission hook.
func (h *Handler) Expire(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { observe(opExpire, start, err) }()

	return h.terminate(ctx, id)
}

func (h *Handler) terminate(ctx context.Context, id string) error {
	ctx = withUpload(ctx, id)

	unlock, err := h.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	u, err := h.load(ctx, id)
	if err != nil {
		return err
	}
	return h.terminateLocked(ctx, u)
}

// terminateLocked deletes metadata first so a failed blob delete leaves an
// orphan file rather than a record pointing at missing bytes.
func (h *Handler) terminateLocked(ctx context.Context, u *types.Upload) error {
	if err := h.store.Delete(ctx, u.ID); err != nil {
		return wrapError(ErrCodeInternal, u.ID, err, "delete upload")
	}
	if err := h.storage.Delete(ctx, u.StoragePath); err != nil {
		return wrapError(ErrCodeStorageIOError, u.ID, err, "delete blob")
	}

	logger.Ctx(ctx).Info().Int64("offset", u.Offset).Msg("upload terminated")

	_, err := h.emit(ctx, events.KindTerminated, u)
	return err
}

// Open returns a complete upload and a reader over its bytes. The caller
// closes the reader.
func (h *Handler) Open(ctx context.Context, id string) (u *types.Upload, rc io.ReadCloser, err error) {
	start := time.Now()
	defer func() { observe(opDownload, start, err) }()

	u, err = h.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !u.IsComplete() || u.State == types.StateCorrupt {
		return nil, nil, newError(ErrCodeNotFound, id, "upload is not complete")
	}
	rc, err = h.storage.ReadRange(ctx, u.StoragePath, 0, u.Length)
	if err != nil {
		return nil, nil, wrapError(ErrCodeStorageIOError, id, err, "open blob")
	}
	return u, rc, nil
}

// PublicURL resolves a complete upload to its redirect target, or "".
func (h *Handler) PublicURL(u *types.Upload) string {
	if h.publicURL == nil {
		return ""
	}
	return h.publicURL(u)
}
