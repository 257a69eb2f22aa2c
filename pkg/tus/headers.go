// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package tus

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/LeeDigitalWorks/zaptus/pkg/types"
)

// Protocol version served and accepted
const Version = "1.0.0"

// Header names
const (
	HeaderTusResumable         = "Tus-Resumable"
	HeaderTusVersion           = "Tus-Version"
	HeaderTusExtension         = "Tus-Extension"
	HeaderTusMaxSize           = "Tus-Max-Size"
	HeaderTusChecksumAlgorithm = "Tus-Checksum-Algorithm"
	HeaderUploadOffset         = "Upload-Offset"
	HeaderUploadLength         = "Upload-Length"
	HeaderUploadDeferLength    = "Upload-Defer-Length"
	HeaderUploadMetadata       = "Upload-Metadata"
	HeaderUploadConcat         = "Upload-Concat"
	HeaderUploadChecksum       = "Upload-Checksum"
	HeaderUploadExpires        = "Upload-Expires"
	HeaderContentType          = "Content-Type"
	HeaderContentLength        = "Content-Length"
	HeaderContentDisposition   = "Content-Disposition"
	HeaderLocation             = "Location"
	HeaderCacheControl         = "Cache-Control"
)

// ContentTypeOffsetOctetStream is required on every PATCH body
const ContentTypeOffsetOctetStream = "application/offset+octet-stream"

// ParseMetadata decodes an Upload-Metadata value. Pairs keep the order they
// were sent in. A key may appear without a value.
func ParseMetadata(header string) (types.Metadata, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, nil
	}

	var md types.Metadata
	seen := make(map[string]struct{})
	for _, element := range strings.Split(header, ",") {
		element = strings.TrimSpace(element)
		if element == "" {
			return nil, fmt.Errorf("empty metadata pair")
		}

		key, encoded, _ := strings.Cut(element, " ")
		if err := validateMetadataKey(key); err != nil {
			return nil, err
		}
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("duplicate metadata key %q", key)
		}
		seen[key] = struct{}{}

		encoded = strings.TrimSpace(encoded)
		if strings.ContainsAny(encoded, " \t") {
			return nil, fmt.Errorf("metadata value for %q contains spaces", key)
		}
		value, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("metadata value for %q is not base64: %w", key, err)
		}
		md = append(md, types.MetadataPair{Key: key, Value: string(value)})
	}
	return md, nil
}

func validateMetadataKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty metadata key")
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c > 0x7e || c < 0x21 || c == ',' {
			return fmt.Errorf("invalid metadata key %q", key)
		}
	}
	return nil
}

// FormatMetadata encodes metadata for an Upload-Metadata header
func FormatMetadata(md types.Metadata) string {
	parts := make([]string, 0, len(md))
	for _, p := range md {
		if p.Value == "" {
			parts = append(parts, p.Key)
			continue
		}
		parts = append(parts, p.Key+" "+base64.StdEncoding.EncodeToString([]byte(p.Value)))
	}
	return strings.Join(parts, ",")
}

// ConcatHeader is a parsed Upload-Concat value
type ConcatHeader struct {
	Partial bool
	Final   bool
	Parts   []string // upload ids, in order
}

// ParseConcat decodes Upload-Concat. Final part references may be absolute
// URLs or paths; the last path segment is the upload id.
func ParseConcat(header string) (ConcatHeader, error) {
	header = strings.TrimSpace(header)
	switch {
	case header == "":
		return ConcatHeader{}, nil
	case header == "partial":
		return ConcatHeader{Partial: true}, nil
	case strings.HasPrefix(header, "final;"):
	default:
		return ConcatHeader{}, fmt.Errorf("invalid Upload-Concat value %q", header)
	}

	var parts []string
	for _, ref := range strings.Fields(strings.TrimPrefix(header, "final;")) {
		id, err := uploadIDFromRef(ref)
		if err != nil {
			return ConcatHeader{}, err
		}
		parts = append(parts, id)
	}
	if len(parts) == 0 {
		return ConcatHeader{}, fmt.Errorf("final upload lists no parts")
	}
	return ConcatHeader{Final: true, Parts: parts}, nil
}

func uploadIDFromRef(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid part reference %q: %w", ref, err)
	}
	id := path.Base(strings.TrimRight(u.Path, "/"))
	if id == "" || id == "." || id == "/" {
		return "", fmt.Errorf("invalid part reference %q", ref)
	}
	return id, nil
}

// FormatConcat renders Upload-Concat for a HEAD response
func FormatConcat(u *types.Upload, location func(id string) string) string {
	switch {
	case u.Partial:
		return "partial"
	case u.IsFinal():
		refs := make([]string, 0, len(u.ConcatParts))
		for _, id := range u.ConcatParts {
			refs = append(refs, location(id))
		}
		return "final;" + strings.Join(refs, " ")
	}
	return ""
}

// parseInt64Header parses a non-negative integer header. ok is false when
// the header is absent.
func parseInt64Header(value string) (n int64, ok bool, err error) {
	if value == "" {
		return 0, false, nil
	}
	n, err = strconv.ParseInt(value, 10, 64)
	if err != nil || n < 0 {
		return 0, true, fmt.Errorf("invalid integer %q", value)
	}
	return n, true, nil
}
