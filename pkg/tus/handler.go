// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package tus implements the tus 1.0 resumable upload protocol: creation,
// creation-with-upload, creation-defer-length, core appends, termination,
// concatenation, checksum and expiration. The Handler is transport agnostic;
// pkg/server adapts it to net/http.
package tus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/zaptus/pkg/checksum"
	zctx "github.com/LeeDigitalWorks/zaptus/pkg/context"
	"github.com/LeeDigitalWorks/zaptus/pkg/events"
	"github.com/LeeDigitalWorks/zaptus/pkg/logger"
	"github.com/LeeDigitalWorks/zaptus/pkg/metadata"
	"github.com/LeeDigitalWorks/zaptus/pkg/types"
)

// DefaultBasePath is where upload resources live when Config.BasePath is empty
const DefaultBasePath = "/files/"

// CleanupPolicy decides what happens to partial uploads after a merge
type CleanupPolicy string

const (
	CleanupKeep   CleanupPolicy = "keep"
	CleanupDelete CleanupPolicy = "delete"
)

// Config holds the handler's collaborators and limits.
type Config struct {
	Store      metadata.Store
	Storage    types.ChunkStore
	Verifier   *checksum.Verifier
	Notifier   *events.Notifier
	Permission Permission
	Persister  types.Persister

	// MaxSize caps declared upload lengths. 0 means unlimited.
	MaxSize int64

	// BasePath prefixes Location values, e.g. "/files/".
	BasePath string

	ConcatCleanup CleanupPolicy

	// ExpireAfter enables the expiration extension. Uploads expire this
	// long after creation.
	ExpireAfter time.Duration

	// PublicURL resolves a complete upload to a URL GET redirects to. An
	// empty result streams the bytes instead.
	PublicURL func(*types.Upload) string

	// TempDir holds spooled chunks awaiting checksum verification.
	TempDir string
}

// Handler runs the protocol state machine over a metadata store and a chunk
// store.
type Handler struct {
	store      metadata.Store
	storage    types.ChunkStore
	verifier   *checksum.Verifier
	notifier   *events.Notifier
	permission Permission
	persister  types.Persister
	locker     *Locker

	maxSize       int64
	basePath      string
	concatCleanup CleanupPolicy
	expireAfter   time.Duration
	publicURL     func(*types.Upload) string
	tempDir       string
}

// NewHandler validates cfg and applies defaults.
func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Store == nil {
		return nil, errors.New("Store is required")
	}
	if cfg.Storage == nil {
		return nil, errors.New("Storage is required")
	}
	if cfg.MaxSize < 0 {
		return nil, fmt.Errorf("invalid MaxSize %d", cfg.MaxSize)
	}

	if cfg.Verifier == nil {
		v, err := checksum.NewVerifier(checksum.DefaultAlgorithms...)
		if err != nil {
			return nil, err
		}
		cfg.Verifier = v
	}
	if cfg.Notifier == nil {
		n, err := events.NewNotifier(events.NotifierConfig{})
		if err != nil {
			return nil, err
		}
		cfg.Notifier = n
	}
	if cfg.Permission == nil {
		cfg.Permission = AllowAll
	}

	switch cfg.ConcatCleanup {
	case "":
		cfg.ConcatCleanup = CleanupKeep
	case CleanupKeep, CleanupDelete:
	default:
		return nil, fmt.Errorf("unknown concat cleanup policy: %s", cfg.ConcatCleanup)
	}

	if cfg.BasePath == "" {
		cfg.BasePath = DefaultBasePath
	}
	if !strings.HasPrefix(cfg.BasePath, "/") {
		cfg.BasePath = "/" + cfg.BasePath
	}
	if !strings.HasSuffix(cfg.BasePath, "/") {
		cfg.BasePath += "/"
	}

	return &Handler{
		store:         cfg.Store,
		storage:       cfg.Storage,
		verifier:      cfg.Verifier,
		notifier:      cfg.Notifier,
		permission:    cfg.Permission,
		persister:     cfg.Persister,
		locker:        NewLocker(),
		maxSize:       cfg.MaxSize,
		basePath:      cfg.BasePath,
		concatCleanup: cfg.ConcatCleanup,
		expireAfter:   cfg.ExpireAfter,
		publicURL:     cfg.PublicURL,
		tempDir:       cfg.TempDir,
	}, nil
}

// Capabilities describes what the server supports, as advertised by OPTIONS.
type Capabilities struct {
	Version            string
	Extensions         []string
	ChecksumAlgorithms []string
	MaxSize            int64
}

func (h *Handler) Capabilities() Capabilities {
	ext := []string{
		"creation",
		"creation-with-upload",
		"creation-defer-length",
		"termination",
		"concatenation",
		"checksum",
	}
	if h.expireAfter > 0 {
		ext = append(ext, "expiration")
	}
	return Capabilities{
		Version:            Version,
		Extensions:         ext,
		ChecksumAlgorithms: h.verifier.SupportedAlgorithms(),
		MaxSize:            h.maxSize,
	}
}

// BasePath returns the normalized resource prefix
func (h *Handler) BasePath() string {
	return h.basePath
}

// Notifier returns the notifier listeners register with
func (h *Handler) Notifier() *events.Notifier {
	return h.notifier
}

// ExpiresAt returns when u expires, or the zero time when expiration is off
// or u is complete.
func (h *Handler) ExpiresAt(u *types.Upload) time.Time {
	if h.expireAfter <= 0 || u.IsComplete() {
		return time.Time{}
	}
	return u.CreatedAt.Add(h.expireAfter)
}

// load fetches an upload, translating store errors
func (h *Handler) load(ctx context.Context, id string) (*types.Upload, error) {
	u, err := h.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			return nil, newError(ErrCodeNotFound, id, "upload not found")
		}
		return nil, wrapError(ErrCodeInternal, id, err, "load upload")
	}
	return u, nil
}

// lock takes the per-upload lock, mapping cancellation to Internal
func (h *Handler) lock(ctx context.Context, id string) (func(), error) {
	unlock, err := h.locker.Lock(ctx, id)
	if err != nil {
		return nil, wrapError(ErrCodeInternal, id, err, "wait for upload lock")
	}
	return unlock, nil
}

// emit delivers an event. Under the propagate policy listener failures come
// back as ListenerError; the upload state is already committed by then.
func (h *Handler) emit(ctx context.Context, kind events.Kind, u *types.Upload) (events.Result, error) {
	ev := events.NewEvent(kind, u)
	ev.RequestID = zctx.RequestID(ctx)

	result, err := h.notifier.Emit(ctx, ev)
	if err != nil {
		return result, wrapError(ErrCodeListenerError, u.ID, err, fmt.Sprintf("%s listener failed", kind))
	}
	return result, nil
}

func storagePath(id string) string {
	return id + ".bin"
}

// withUpload adds the upload id to the ctx logger
func withUpload(ctx context.Context, id string) context.Context {
	return logger.WithField(ctx, "upload_id", id)
}
