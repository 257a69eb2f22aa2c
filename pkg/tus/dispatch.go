// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package tus

import (
	"context"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/LeeDigitalWorks/zaptus/pkg/checksum"
	"github.com/LeeDigitalWorks/zaptus/pkg/logger"
	"github.com/LeeDigitalWorks/zaptus/pkg/types"
)

// Handle maps a protocol request onto the typed operations.
func (h *Handler) Handle(ctx context.Context, req *Request) *Response {
	if req.Header == nil {
		req.Header = make(http.Header)
	}

	var resp *Response
	switch req.Method {
	case http.MethodOptions:
		return h.handleOptions()
	case http.MethodGet:
		if req.ID == "" {
			return methodNotAllowed()
		}
		resp = h.handleGet(ctx, req)
	case http.MethodPost, http.MethodHead, http.MethodPatch, http.MethodDelete:
		if v := req.Header.Get(HeaderTusResumable); v != Version {
			return errorResponse(newError(ErrCodeUnsupportedVersion, req.ID, "unsupported protocol version %q", v))
		}
		resp = h.dispatch(ctx, req)
	default:
		return methodNotAllowed()
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		logger.Ctx(ctx).Error().
			Str("method", req.Method).
			Str("upload_id", req.ID).
			Int("status", resp.StatusCode).
			Msg("request failed")
	}
	return resp
}

func (h *Handler) dispatch(ctx context.Context, req *Request) *Response {
	switch {
	case req.Method == http.MethodPost && req.ID == "":
		return h.handlePost(ctx, req)
	case req.Method == http.MethodHead && req.ID != "":
		return h.handleHead(ctx, req)
	case req.Method == http.MethodPatch && req.ID != "":
		return h.handlePatch(ctx, req)
	case req.Method == http.MethodDelete && req.ID != "":
		if err := h.Terminate(ctx, req.ID); err != nil {
			return errorResponse(err)
		}
		return newResponse(http.StatusNoContent)
	}
	return methodNotAllowed()
}

func methodNotAllowed() *Response {
	r := newResponse(http.StatusMethodNotAllowed)
	r.Header.Set("Allow", "OPTIONS, GET, HEAD, POST, PATCH, DELETE")
	return r
}

func (h *Handler) handleOptions() *Response {
	caps := h.Capabilities()
	r := newResponse(http.StatusNoContent)
	r.Header.Set(HeaderTusVersion, caps.Version)
	r.Header.Set(HeaderTusExtension, strings.Join(caps.Extensions, ","))
	r.Header.Set(HeaderTusChecksumAlgorithm, strings.Join(caps.ChecksumAlgorithms, ","))
	if caps.MaxSize > 0 {
		r.Header.Set(HeaderTusMaxSize, itoa(caps.MaxSize))
	}
	return r
}

// location is the URL of an upload resource
func (h *Handler) location(req *Request, id string) string {
	return strings.TrimRight(req.BaseURL, "/") + h.basePath + id
}

func (h *Handler) setExpires(r *Response, u *types.Upload) {
	if at := h.ExpiresAt(u); !at.IsZero() {
		r.Header.Set(HeaderUploadExpires, at.UTC().Format(http.TimeFormat))
	}
}

func (h *Handler) handlePost(ctx context.Context, req *Request) *Response {
	md, err := ParseMetadata(req.Header.Get(HeaderUploadMetadata))
	if err != nil {
		return errorResponse(wrapError(ErrCodeMetadataParseError, "", err, "invalid Upload-Metadata"))
	}
	concat, err := ParseConcat(req.Header.Get(HeaderUploadConcat))
	if err != nil {
		return errorResponse(wrapError(ErrCodeConcatenationError, "", err, "invalid Upload-Concat"))
	}

	if concat.Final {
		if req.Header.Get(HeaderUploadLength) != "" {
			return errorResponse(newError(ErrCodeInvalidLength, "", "Upload-Length must not be set on a final upload"))
		}
		u, err := h.Concatenate(ctx, ConcatParams{Parts: concat.Parts, Metadata: md})
		if u == nil {
			return errorResponse(err)
		}
		r := newResponse(http.StatusCreated)
		if err != nil {
			r = errorResponse(err)
		}
		r.Header.Set(HeaderLocation, h.location(req, u.ID))
		r.Header.Set(HeaderUploadOffset, itoa(u.Offset))
		return r
	}

	params := CreateParams{Metadata: md, Partial: concat.Partial}
	length, hasLength, err := parseInt64Header(req.Header.Get(HeaderUploadLength))
	if err != nil {
		return errorResponse(wrapError(ErrCodeInvalidLength, "", err, "invalid Upload-Length"))
	}
	deferLength := req.Header.Get(HeaderUploadDeferLength)
	switch {
	case hasLength && deferLength != "":
		return errorResponse(newError(ErrCodeInvalidLength, "", "Upload-Length and Upload-Defer-Length are mutually exclusive"))
	case hasLength:
		params.Length = length
	case deferLength == "1":
		params.LengthDeferred = true
	case deferLength != "":
		return errorResponse(newError(ErrCodeInvalidLength, "", "Upload-Defer-Length must be 1"))
	default:
		return errorResponse(newError(ErrCodeInvalidLength, "", "Upload-Length or Upload-Defer-Length required"))
	}

	algorithm, sum, err := parseChecksumHeader(req.Header.Get(HeaderUploadChecksum))
	if err != nil {
		return errorResponse(err)
	}
	withBody := isOffsetStream(req.Header.Get(HeaderContentType))
	if !withBody {
		params.ChecksumAlgorithm = algorithm
		params.ChecksumValue = sum
	}

	u, err := h.Create(ctx, params)
	if u == nil {
		return errorResponse(err)
	}

	if withBody && (req.ContentLength != 0 || algorithm != "") {
		appended, aerr := h.Append(ctx, AppendParams{
			ID:                u.ID,
			Offset:            0,
			Body:              req.Body,
			ContentLength:     req.ContentLength,
			ChecksumAlgorithm: algorithm,
			ChecksumValue:     sum,
		})
		if appended != nil {
			u = appended
		}
		if aerr != nil {
			err = aerr
		}
	}

	r := newResponse(http.StatusCreated)
	if err != nil {
		// The resource exists; the client can resume from its Location
		r = errorResponse(err)
	}
	r.Header.Set(HeaderLocation, h.location(req, u.ID))
	r.Header.Set(HeaderUploadOffset, itoa(u.Offset))
	h.setExpires(r, u)
	return r
}

func (h *Handler) handleHead(ctx context.Context, req *Request) *Response {
	u, err := h.Status(ctx, req.ID)
	if err != nil {
		r := errorResponse(err)
		r.Header.Del(HeaderContentLength)
		r.Header.Del(HeaderContentType)
		r.Body = nil
		return r
	}

	r := newResponse(http.StatusOK)
	r.Header.Set(HeaderCacheControl, "no-store")
	r.Header.Set(HeaderUploadOffset, itoa(u.Offset))
	if u.LengthDeferred {
		r.Header.Set(HeaderUploadDeferLength, "1")
	} else {
		r.Header.Set(HeaderUploadLength, itoa(u.Length))
	}
	if len(u.Metadata) > 0 {
		r.Header.Set(HeaderUploadMetadata, FormatMetadata(u.Metadata))
	}
	if concat := FormatConcat(u, func(id string) string { return h.location(req, id) }); concat != "" {
		r.Header.Set(HeaderUploadConcat, concat)
	}
	h.setExpires(r, u)
	return r
}

func (h *Handler) handlePatch(ctx context.Context, req *Request) *Response {
	if !isOffsetStream(req.Header.Get(HeaderContentType)) {
		return errorResponse(newError(ErrCodeInvalidContentType, req.ID, "Content-Type must be %s", ContentTypeOffsetOctetStream))
	}
	offset, ok, err := parseInt64Header(req.Header.Get(HeaderUploadOffset))
	if err != nil || !ok {
		return errorResponse(newError(ErrCodeInvalidOffset, req.ID, "missing or invalid Upload-Offset"))
	}

	params := AppendParams{
		ID:            req.ID,
		Offset:        offset,
		Body:          req.Body,
		ContentLength: req.ContentLength,
	}
	if v := req.Header.Get(HeaderUploadLength); v != "" {
		length, _, err := parseInt64Header(v)
		if err != nil {
			return errorResponse(wrapError(ErrCodeInvalidLength, req.ID, err, "invalid Upload-Length"))
		}
		params.DeclaredLength = &length
	}
	if params.ChecksumAlgorithm, params.ChecksumValue, err = parseChecksumHeader(req.Header.Get(HeaderUploadChecksum)); err != nil {
		return errorResponse(err)
	}

	u, err := h.Append(ctx, params)
	if err != nil {
		return errorResponse(err)
	}
	r := newResponse(http.StatusNoContent)
	r.Header.Set(HeaderUploadOffset, itoa(u.Offset))
	h.setExpires(r, u)
	return r
}

func (h *Handler) handleGet(ctx context.Context, req *Request) *Response {
	u, rc, err := h.Open(ctx, req.ID)
	if err != nil {
		return errorResponse(err)
	}

	if target := h.PublicURL(u); target != "" {
		rc.Close()
		r := newResponse(http.StatusFound)
		r.Header.Set(HeaderLocation, target)
		return r
	}

	r := newResponse(http.StatusOK)
	r.Header.Set(HeaderContentLength, itoa(u.Length))
	contentType := u.Metadata.Lookup("filetype", "type")
	if contentType == "" || strings.ContainsAny(contentType, "\r\n") {
		contentType = "application/octet-stream"
	}
	r.Header.Set(HeaderContentType, contentType)
	disposition := "attachment"
	if name := u.Metadata.Lookup("filename", "name"); name != "" {
		if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
			disposition = v
		}
	}
	r.Header.Set(HeaderContentDisposition, disposition)
	r.Body = rc
	return r
}

func isOffsetStream(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == ContentTypeOffsetOctetStream
}

// parseChecksumHeader parses Upload-Checksum. Empty input yields no
// algorithm.
func parseChecksumHeader(value string) (string, []byte, error) {
	if value == "" {
		return "", nil, nil
	}
	algorithm, sum, err := checksum.ParseHeader(value)
	if err != nil {
		return "", nil, wrapError(ErrCodeUnsupportedAlgorithm, "", err, "invalid Upload-Checksum")
	}
	return algorithm, sum, nil
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
