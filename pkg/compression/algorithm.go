// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package compression streams completed uploads through LZ4, ZSTD or S2 on
// their way to permanent storage.
package compression

import "fmt"

// Algorithm represents a compression algorithm
type Algorithm string

const (
	// None stores bytes as uploaded
	None Algorithm = "none"
	// LZ4 uses the LZ4 frame format (fast, moderate ratio)
	LZ4 Algorithm = "lz4"
	// ZSTD uses Zstandard (balanced speed/ratio)
	ZSTD Algorithm = "zstd"
	// S2 uses klauspost's S2 stream format (faster than Snappy, better ratio)
	S2 Algorithm = "s2"
)

// IsValid returns true if the algorithm is recognized
func (a Algorithm) IsValid() bool {
	switch a {
	case None, LZ4, ZSTD, S2:
		return true
	default:
		return false
	}
}

func (a Algorithm) String() string {
	return string(a)
}

// Extension is the file suffix for compressed output, empty for None.
func (a Algorithm) Extension() string {
	switch a {
	case LZ4:
		return ".lz4"
	case ZSTD:
		return ".zst"
	case S2:
		return ".s2"
	default:
		return ""
	}
}

// ParseAlgorithm parses a configured algorithm name. Empty means None.
func ParseAlgorithm(s string) (Algorithm, error) {
	if s == "" {
		return None, nil
	}
	algo := Algorithm(s)
	if !algo.IsValid() {
		return None, fmt.Errorf("unknown compression algorithm: %s", s)
	}
	return algo, nil
}
