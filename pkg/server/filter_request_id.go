// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	zctx "github.com/LeeDigitalWorks/zaptus/pkg/context"
	"github.com/LeeDigitalWorks/zaptus/pkg/logger"

	"github.com/google/uuid"
)

const (
	FilterTypeRequestID = "RequestIDFilter"
)

// RequestIDFilter adopts the client's X-Request-ID when it is a UUID and
// otherwise mints one. The id lands in the context and on a child logger.
type RequestIDFilter struct{}

func NewRequestIDFilter() *RequestIDFilter {
	return &RequestIDFilter{}
}

func (f *RequestIDFilter) Run(d *Data) (Response, error) {
	if d.Ctx.Err() != nil {
		return nil, d.Ctx.Err()
	}

	if incoming := d.Req.Header.Get(zctx.RequestHeader); incoming != "" {
		if _, err := uuid.Parse(incoming); err == nil {
			d.Ctx = zctx.FromUUID(d.Ctx, incoming)
		}
	}
	d.Ctx, d.RequestID = zctx.WithUUID(d.Ctx)
	d.Ctx = logger.WithField(d.Ctx, "request_id", d.RequestID)
	d.ResponseWriter.Header().Set(zctx.RequestHeader, d.RequestID)

	return Next{}, nil
}

func (f *RequestIDFilter) Type() string {
	return FilterTypeRequestID
}
