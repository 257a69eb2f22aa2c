// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/LeeDigitalWorks/zaptus/pkg/compression"
	"github.com/LeeDigitalWorks/zaptus/pkg/types"
	"github.com/LeeDigitalWorks/zaptus/pkg/utils"

	"golang.org/x/text/unicode/norm"
)

const maxFilenameLength = 200

func init() {
	RegisterPersister(types.StorageTypeLibrary, NewLibrary)
}

// Library copies completed uploads into a directory, named after the
// client supplied filename.
type Library struct {
	dir  string
	algo compression.Algorithm
}

// NewLibrary creates a library persister rooted at cfg.Path
func NewLibrary(cfg types.BackendConfig) (types.Persister, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("path required for library backend")
	}
	algo, err := compression.ParseAlgorithm(cfg.Compression)
	if err != nil {
		return nil, err
	}
	dir := utils.ResolvePath(cfg.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create library dir: %w", err)
	}
	return &Library{dir: dir, algo: algo}, nil
}

func (l *Library) Name() string {
	return string(types.StorageTypeLibrary)
}

// Persist writes the upload to <dir>/<id>-<filename>[.ext] and returns that
// path. The extension names the compression algorithm, if any.
func (l *Library) Persist(ctx context.Context, upload *types.Upload, data io.Reader) (string, error) {
	name := upload.ID + "-" + SanitizeFilename(upload.Metadata.Lookup("filename", "name")) + l.algo.Extension()
	dst := filepath.Join(l.dir, name)
	tmp := dst + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}

	buf := utils.GetBuffer(copyBufferSize)
	defer utils.PutBuffer(buf)

	zw, err := compression.NewWriter(l.algo, f)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if _, err := io.CopyBuffer(struct{ io.Writer }{zw}, &contextReader{ctx: ctx, r: data}, buf); err != nil {
		zw.Close()
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("copy: %w", err)
	}
	if err := zw.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("flush compressed stream: %w", err)
	}
	if err := Fdatasync(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("sync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename: %w", err)
	}
	return dst, nil
}

// SanitizeFilename reduces a client supplied filename to a safe single path
// element: NFC normalized, directory parts stripped, control characters and
// separators replaced. Empty input yields "upload".
func SanitizeFilename(name string) string {
	name = norm.NFC.String(name)
	name = strings.ReplaceAll(name, `\`, "/")
	name = filepath.Base(name)

	var b strings.Builder
	for _, r := range name {
		switch {
		case r == '/' || r == ':' || r == '*' || r == '?' || r == '"' || r == '<' || r == '>' || r == '|':
			b.WriteRune('_')
		case unicode.IsControl(r):
		case unicode.IsSpace(r):
			b.WriteRune('-')
		default:
			b.WriteRune(r)
		}
	}

	out := strings.Trim(b.String(), ".-")
	if out == "" {
		return "upload"
	}
	if len(out) > maxFilenameLength {
		// Cut on a rune boundary
		cut := maxFilenameLength
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = out[:cut]
	}
	return out
}
