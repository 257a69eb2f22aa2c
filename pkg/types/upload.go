// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of an upload
type State string

const (
	StateCreated    State = "created"     // offset == 0
	StateInProgress State = "in-progress" // 0 < offset < length, or length deferred
	StateComplete   State = "complete"    // offset == length
	StateMerged     State = "merged"      // final upload produced by concatenation
	StateCorrupt    State = "corrupt"     // whole-file checksum did not match
)

// Upload is the persisted state of a single resumable upload.
type Upload struct {
	ID             string   `json:"id"`
	Offset         int64    `json:"offset"`
	Length         int64    `json:"length"`
	LengthDeferred bool     `json:"length_deferred,omitempty"`
	StoragePath    string   `json:"storage_path"`
	Metadata       Metadata `json:"metadata,omitempty"`

	// Whole-file checksum declared at creation, verified on completion
	ChecksumAlgorithm string `json:"checksum_algorithm,omitempty"`
	ChecksumValue     []byte `json:"checksum_value,omitempty"`

	Partial     bool     `json:"partial,omitempty"`
	ConcatParts []string `json:"concat_parts,omitempty"`
	MergedInto  string   `json:"merged_into,omitempty"` // set on a partial once consumed

	State             State      `json:"state"`
	PermanentLocation string     `json:"permanent_location,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`

	// Finished is set once the complete event and persistence have run.
	// A complete upload without it has its completion retried.
	Finished bool `json:"finished,omitempty"`
}

// NewUploadID returns a fresh upload id: a random UUID as 32 hex characters.
func NewUploadID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// IsComplete reports whether every declared byte has been received.
func (u *Upload) IsComplete() bool {
	return !u.LengthDeferred && u.Offset == u.Length
}

// NeedsFinish reports whether u holds every byte but its completion
// steps have not succeeded yet.
func (u *Upload) NeedsFinish() bool {
	return u.State == StateComplete && u.IsComplete() && !u.Finished
}

// IsFinal reports whether the upload was produced by concatenation.
func (u *Upload) IsFinal() bool {
	return len(u.ConcatParts) > 0
}

// Remaining returns the number of bytes still expected, or -1 when the
// length is deferred.
func (u *Upload) Remaining() int64 {
	if u.LengthDeferred {
		return -1
	}
	return u.Length - u.Offset
}

// RefreshState derives State from the offset. Terminal states are left alone.
func (u *Upload) RefreshState() {
	switch u.State {
	case StateMerged, StateCorrupt:
		return
	}
	switch {
	case u.IsComplete():
		u.State = StateComplete
	case u.Offset == 0:
		u.State = StateCreated
	default:
		u.State = StateInProgress
	}
}

// Clone returns a deep copy safe to mutate.
func (u *Upload) Clone() *Upload {
	if u == nil {
		return nil
	}
	c := *u
	c.Metadata = u.Metadata.Clone()
	if u.ChecksumValue != nil {
		c.ChecksumValue = append([]byte(nil), u.ChecksumValue...)
	}
	if u.ConcatParts != nil {
		c.ConcatParts = append([]string(nil), u.ConcatParts...)
	}
	if u.CompletedAt != nil {
		t := *u.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// MetadataPair is a single client supplied key/value pair.
type MetadataPair struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Metadata is an ordered list of client metadata. Order is the order the
// client sent it in and is preserved through every store.
type Metadata []MetadataPair

// Get returns the value for key and whether it was present.
func (m Metadata) Get(key string) (string, bool) {
	for _, p := range m {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// Lookup returns the value of the first key present.
func (m Metadata) Lookup(keys ...string) string {
	for _, k := range keys {
		if v, ok := m.Get(k); ok {
			return v
		}
	}
	return ""
}

// Map flattens the metadata for consumers that do not care about order.
func (m Metadata) Map() map[string]string {
	out := make(map[string]string, len(m))
	for _, p := range m {
		out[p.Key] = p.Value
	}
	return out
}

func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	return append(Metadata(nil), m...)
}
