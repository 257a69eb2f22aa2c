// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package checksum verifies client supplied digests of upload bytes.
package checksum

import (
	"bytes"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"sort"
	"strings"

	"github.com/LeeDigitalWorks/zaptus/pkg/utils"

	"github.com/minio/crc64nvme"
	"github.com/minio/sha256-simd"
)

const readBufferSize = 64 << 10

var (
	// ErrUnsupportedAlgorithm is returned for algorithm names the verifier
	// was not configured with.
	ErrUnsupportedAlgorithm = errors.New("unsupported checksum algorithm")

	// ErrMalformedHeader is returned by ParseHeader.
	ErrMalformedHeader = errors.New("malformed checksum header")
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// algorithms maps every known name to its constructor. Names are the
// lowercase forms clients send in Upload-Checksum.
var algorithms = map[string]func() hash.Hash{
	"md5":       md5.New,
	"sha1":      sha1.New,
	"sha256":    sha256.New,
	"sha512":    sha512.New,
	"crc32":     func() hash.Hash { return crc32.NewIEEE() },
	"crc32c":    func() hash.Hash { return crc32.New(castagnoli) },
	"crc64nvme": func() hash.Hash { return crc64nvme.New() },
}

// DefaultAlgorithms is the set enabled when none are configured.
var DefaultAlgorithms = []string{"sha1", "sha256", "md5", "crc32"}

// KnownAlgorithms returns every algorithm this package can compute, sorted.
func KnownAlgorithms() []string {
	names := make([]string, 0, len(algorithms))
	for name := range algorithms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Verifier computes and compares digests for a configured set of algorithms.
// It is safe for concurrent use.
type Verifier struct {
	enabled map[string]func() hash.Hash
	names   []string
}

// NewVerifier enables the named algorithms, or DefaultAlgorithms if none.
func NewVerifier(names ...string) (*Verifier, error) {
	if len(names) == 0 {
		names = DefaultAlgorithms
	}
	v := &Verifier{enabled: make(map[string]func() hash.Hash, len(names))}
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		fn, ok := algorithms[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, name)
		}
		if _, dup := v.enabled[name]; dup {
			continue
		}
		v.enabled[name] = fn
		v.names = append(v.names, name)
	}
	sort.Strings(v.names)
	return v, nil
}

// SupportedAlgorithms returns the enabled algorithm names, sorted.
func (v *Verifier) SupportedAlgorithms() []string {
	return append([]string(nil), v.names...)
}

// Supports reports whether name is enabled.
func (v *Verifier) Supports(name string) bool {
	_, ok := v.enabled[name]
	return ok
}

// NewHash returns a fresh hash for name.
func (v *Verifier) NewHash(name string) (hash.Hash, error) {
	fn, ok := v.enabled[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, name)
	}
	return fn(), nil
}

// Verify reports whether the digest of data matches expected.
func (v *Verifier) Verify(name string, data, expected []byte) (bool, error) {
	h, err := v.NewHash(name)
	if err != nil {
		return false, err
	}
	h.Write(data)
	return bytes.Equal(h.Sum(nil), expected), nil
}

// VerifyReader streams r through the hash and compares. The reader is
// consumed fully on success.
func (v *Verifier) VerifyReader(name string, r io.Reader, expected []byte) (bool, error) {
	h, err := v.NewHash(name)
	if err != nil {
		return false, err
	}

	buf := utils.GetBuffer(readBufferSize)
	defer utils.PutBuffer(buf)

	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return false, fmt.Errorf("read: %w", err)
	}
	return bytes.Equal(h.Sum(nil), expected), nil
}

// ParseHeader splits an Upload-Checksum value "<algorithm> <base64 digest>".
// The algorithm is returned lowercased; it is not checked against the
// enabled set.
func ParseHeader(value string) (string, []byte, error) {
	name, encoded, ok := strings.Cut(strings.TrimSpace(value), " ")
	if !ok || name == "" || encoded == "" {
		return "", nil, ErrMalformedHeader
	}
	sum, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	return strings.ToLower(name), sum, nil
}

// FormatHeader is the inverse of ParseHeader.
func FormatHeader(name string, sum []byte) string {
	return name + " " + base64.StdEncoding.EncodeToString(sum)
}
