// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package context

import (
	"context"

	"github.com/google/uuid"
)

const (
	// RequestHeader carries the request id in and out of the HTTP glue
	RequestHeader = "X-Request-ID"
)

type requestIDKey struct{}
type tokenKey struct{}

// WithUUID returns ctx carrying a request id, generating one if absent.
func WithUUID(c context.Context) (context.Context, string) {
	if id, ok := c.Value(requestIDKey{}).(string); ok && id != "" {
		return c, id
	}
	newID := uuid.New().String()
	return context.WithValue(c, requestIDKey{}, newID), newID
}

// FromUUID stores a caller supplied request id.
func FromUUID(c context.Context, reqID string) context.Context {
	return context.WithValue(c, requestIDKey{}, reqID)
}

// RequestID returns the request id, or "" if none was set.
func RequestID(c context.Context) string {
	id, _ := c.Value(requestIDKey{}).(string)
	return id
}

// WithToken stores the caller's bearer token for permission checks.
func WithToken(c context.Context, token string) context.Context {
	return context.WithValue(c, tokenKey{}, token)
}

// Token returns the bearer token, or "".
func Token(c context.Context) string {
	t, _ := c.Value(tokenKey{}).(string)
	return t
}
