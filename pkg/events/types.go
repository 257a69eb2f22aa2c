// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"time"

	"github.com/LeeDigitalWorks/zaptus/pkg/types"
)

// Kind is an upload lifecycle event
type Kind string

const (
	KindCreated    Kind = "created"    // upload resource created
	KindProgress   Kind = "progress"   // a chunk was committed
	KindComplete   Kind = "complete"   // every byte received and verified
	KindMerged     Kind = "merged"     // final upload built by concatenation
	KindTerminated Kind = "terminated" // upload deleted by the client or the sweep
)

// AllKinds lists every kind in emission order.
var AllKinds = []Kind{KindCreated, KindProgress, KindComplete, KindMerged, KindTerminated}

// Event is the payload delivered to listeners. Metadata is copied; listeners
// may keep it.
type Event struct {
	Kind        Kind           `json:"kind"`
	UploadID    string         `json:"upload_id"`
	Offset      int64          `json:"offset"`
	Length      int64          `json:"length"`
	Deferred    bool           `json:"length_deferred,omitempty"`
	Metadata    types.Metadata `json:"metadata,omitempty"`
	StoragePath string         `json:"storage_path"`
	Partial     bool           `json:"partial,omitempty"`
	Parts       []string       `json:"parts,omitempty"`
	RequestID   string         `json:"request_id,omitempty"`
	Time        time.Time      `json:"time"`
}

// NewEvent builds an event from an upload snapshot.
func NewEvent(kind Kind, u *types.Upload) *Event {
	return &Event{
		Kind:        kind,
		UploadID:    u.ID,
		Offset:      u.Offset,
		Length:      u.Length,
		Deferred:    u.LengthDeferred,
		Metadata:    u.Metadata.Clone(),
		StoragePath: u.StoragePath,
		Partial:     u.Partial,
		Parts:       append([]string(nil), u.ConcatParts...),
		Time:        time.Now().UTC(),
	}
}

// Result is a listener's verdict
type Result int

const (
	// Continue lets the default action run
	Continue Result = iota
	// Handled from a complete listener skips default persistence
	Handled
)

// Listener receives events synchronously, in registration order.
type Listener interface {
	Handle(ctx context.Context, event *Event) (Result, error)
}

// ListenerFunc adapts a function to Listener
type ListenerFunc func(ctx context.Context, event *Event) (Result, error)

func (f ListenerFunc) Handle(ctx context.Context, event *Event) (Result, error) {
	return f(ctx, event)
}
