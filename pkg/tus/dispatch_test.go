// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package tus

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/zaptus/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tusHeader(kv ...string) http.Header {
	h := make(http.Header)
	h.Set(HeaderTusResumable, Version)
	for i := 0; i+1 < len(kv); i += 2 {
		h.Set(kv[i], kv[i+1])
	}
	return h
}

func (e *testEnv) do(t *testing.T, req *Request) *Response {
	t.Helper()
	if req.ContentLength == 0 && req.Body != nil {
		req.ContentLength = -1
	}
	resp := e.h.Handle(context.Background(), req)
	require.NotNil(t, resp)
	assert.Equal(t, Version, resp.Header.Get(HeaderTusResumable))
	return resp
}

func body(t *testing.T, resp *Response) string {
	t.Helper()
	if resp.Body == nil {
		return ""
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func idFromLocation(t *testing.T, loc string) string {
	t.Helper()
	require.True(t, strings.HasPrefix(loc, "http://tus.test/files/"), loc)
	return strings.TrimPrefix(loc, "http://tus.test/files/")
}

func TestHandle_Options(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, func(c *Config) { c.MaxSize = 100 << 20 })
	resp := env.do(t, &Request{Method: http.MethodOptions, Header: http.Header{}})

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "1.0.0", resp.Header.Get(HeaderTusVersion))
	assert.Equal(t, "creation,creation-with-upload,creation-defer-length,termination,concatenation,checksum", resp.Header.Get(HeaderTusExtension))
	assert.Equal(t, "crc32,md5,sha1,sha256", resp.Header.Get(HeaderTusChecksumAlgorithm))
	assert.Equal(t, "104857600", resp.Header.Get(HeaderTusMaxSize))
}

func TestHandle_VersionCheck(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	for _, method := range []string{http.MethodPost, http.MethodHead, http.MethodPatch, http.MethodDelete} {
		resp := env.do(t, &Request{Method: method, ID: "x", Header: http.Header{HeaderTusResumable: {"0.2.2"}}})
		assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode, method)
		assert.Equal(t, "1.0.0", resp.Header.Get(HeaderTusVersion))
	}
}

func TestHandle_FullFlow(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	md := "filename " + base64.StdEncoding.EncodeToString([]byte("hello world.txt")) + ",filetype " + base64.StdEncoding.EncodeToString([]byte("text/plain"))

	resp := env.do(t, &Request{
		Method:  http.MethodPost,
		Header:  tusHeader(HeaderUploadLength, "10", HeaderUploadMetadata, md),
		BaseURL: "http://tus.test",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body(t, resp))
	assert.Equal(t, "0", resp.Header.Get(HeaderUploadOffset))
	id := idFromLocation(t, resp.Header.Get(HeaderLocation))

	resp = env.do(t, &Request{
		Method: http.MethodPatch,
		ID:     id,
		Header: tusHeader(HeaderContentType, ContentTypeOffsetOctetStream, HeaderUploadOffset, "0"),
		Body:   strings.NewReader("hello"),
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode, body(t, resp))
	assert.Equal(t, "5", resp.Header.Get(HeaderUploadOffset))

	resp = env.do(t, &Request{Method: http.MethodHead, ID: id, Header: tusHeader()})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get(HeaderCacheControl))
	assert.Equal(t, "5", resp.Header.Get(HeaderUploadOffset))
	assert.Equal(t, "10", resp.Header.Get(HeaderUploadLength))
	assert.Equal(t, md, resp.Header.Get(HeaderUploadMetadata))

	// Stale offset
	resp = env.do(t, &Request{
		Method: http.MethodPatch,
		ID:     id,
		Header: tusHeader(HeaderContentType, ContentTypeOffsetOctetStream, HeaderUploadOffset, "3"),
		Body:   strings.NewReader("world"),
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Download refused until complete
	resp = env.do(t, &Request{Method: http.MethodGet, ID: id, Header: http.Header{}})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, &Request{
		Method: http.MethodPatch,
		ID:     id,
		Header: tusHeader(HeaderContentType, ContentTypeOffsetOctetStream, HeaderUploadOffset, "5"),
		Body:   strings.NewReader("world"),
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode, body(t, resp))
	assert.Equal(t, "10", resp.Header.Get(HeaderUploadOffset))

	resp = env.do(t, &Request{Method: http.MethodGet, ID: id, Header: http.Header{}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "10", resp.Header.Get(HeaderContentLength))
	assert.Equal(t, "text/plain", resp.Header.Get(HeaderContentType))
	assert.Equal(t, `attachment; filename="hello world.txt"`, resp.Header.Get(HeaderContentDisposition))
	assert.Equal(t, "helloworld", body(t, resp))

	resp = env.do(t, &Request{Method: http.MethodDelete, ID: id, Header: tusHeader()})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, &Request{Method: http.MethodHead, ID: id, Header: tusHeader()})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Nil(t, resp.Body)

	resp = env.do(t, &Request{Method: http.MethodDelete, ID: id, Header: tusHeader()})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandle_PostErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header http.Header
		status int
	}{
		{"no length", tusHeader(), http.StatusBadRequest},
		{"both lengths", tusHeader(HeaderUploadLength, "5", HeaderUploadDeferLength, "1"), http.StatusBadRequest},
		{"bad defer", tusHeader(HeaderUploadDeferLength, "2"), http.StatusBadRequest},
		{"negative", tusHeader(HeaderUploadLength, "-5"), http.StatusBadRequest},
		{"not a number", tusHeader(HeaderUploadLength, "five"), http.StatusBadRequest},
		{"too large", tusHeader(HeaderUploadLength, "1025"), http.StatusRequestEntityTooLarge},
		{"bad metadata", tusHeader(HeaderUploadLength, "5", HeaderUploadMetadata, "name ???"), http.StatusBadRequest},
		{"bad checksum header", tusHeader(HeaderUploadLength, "5", HeaderUploadChecksum, "sha1"), http.StatusBadRequest},
		{"unknown checksum", tusHeader(HeaderUploadLength, "5", HeaderUploadChecksum, "whirlpool Zm9v"), http.StatusBadRequest},
		{"bad concat", tusHeader(HeaderUploadLength, "5", HeaderUploadConcat, "sometimes"), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, func(c *Config) { c.MaxSize = 1024 })

			resp := env.do(t, &Request{Method: http.MethodPost, Header: tt.header})
			assert.Equal(t, tt.status, resp.StatusCode, body(t, resp))
			assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get(HeaderContentType))
			assert.Empty(t, resp.Header.Get(HeaderLocation))
		})
	}
}

func TestHandle_PatchErrors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	u := env.create(t, CreateParams{Length: 5})

	resp := env.do(t, &Request{
		Method: http.MethodPatch,
		ID:     u.ID,
		Header: tusHeader(HeaderContentType, "application/json", HeaderUploadOffset, "0"),
		Body:   strings.NewReader("{}"),
	})
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)

	resp = env.do(t, &Request{
		Method: http.MethodPatch,
		ID:     u.ID,
		Header: tusHeader(HeaderContentType, ContentTypeOffsetOctetStream),
		Body:   strings.NewReader("hello"),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	sum := base64.StdEncoding.EncodeToString(sha1Sum("jello"))
	resp = env.do(t, &Request{
		Method: http.MethodPatch,
		ID:     u.ID,
		Header: tusHeader(HeaderContentType, ContentTypeOffsetOctetStream, HeaderUploadOffset, "0", HeaderUploadChecksum, "sha1 "+sum),
		Body:   strings.NewReader("hello"),
	})
	assert.Equal(t, StatusChecksumMismatch, resp.StatusCode)

	resp = env.do(t, &Request{
		Method: http.MethodPatch,
		ID:     "nope",
		Header: tusHeader(HeaderContentType, ContentTypeOffsetOctetStream, HeaderUploadOffset, "0"),
		Body:   strings.NewReader("hello"),
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, &Request{Method: http.MethodPatch, Header: tusHeader()})
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHandle_CreationWithUpload(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	resp := env.do(t, &Request{
		Method:        http.MethodPost,
		Header:        tusHeader(HeaderUploadLength, "10", HeaderContentType, ContentTypeOffsetOctetStream),
		Body:          strings.NewReader("hello"),
		ContentLength: 5,
		BaseURL:       "http://tus.test",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body(t, resp))
	assert.Equal(t, "5", resp.Header.Get(HeaderUploadOffset))
	id := idFromLocation(t, resp.Header.Get(HeaderLocation))

	u, err := env.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "hello", env.bytes(t, u))
}

func TestHandle_CreationWithUploadChecksumMismatch(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	sum := base64.StdEncoding.EncodeToString(sha1Sum("jello"))
	resp := env.do(t, &Request{
		Method:        http.MethodPost,
		Header:        tusHeader(HeaderUploadLength, "10", HeaderContentType, ContentTypeOffsetOctetStream, HeaderUploadChecksum, "sha1 "+sum),
		Body:          strings.NewReader("hello"),
		ContentLength: 5,
		BaseURL:       "http://tus.test",
	})
	assert.Equal(t, StatusChecksumMismatch, resp.StatusCode)
	assert.Equal(t, "0", resp.Header.Get(HeaderUploadOffset))
	assert.NotEmpty(t, resp.Header.Get(HeaderLocation), "client can resume the created upload")
}

func TestHandle_WholeFileChecksumOnCreate(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	sum := base64.StdEncoding.EncodeToString(sha1Sum("hello"))
	resp := env.do(t, &Request{
		Method:  http.MethodPost,
		Header:  tusHeader(HeaderUploadLength, "5", HeaderUploadChecksum, "sha1 "+sum),
		BaseURL: "http://tus.test",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := idFromLocation(t, resp.Header.Get(HeaderLocation))

	u, err := env.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "sha1", u.ChecksumAlgorithm)
	assert.Equal(t, sha1Sum("hello"), u.ChecksumValue)
}

func TestHandle_DeferredLength(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	resp := env.do(t, &Request{Method: http.MethodPost, Header: tusHeader(HeaderUploadDeferLength, "1"), BaseURL: "http://tus.test"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := idFromLocation(t, resp.Header.Get(HeaderLocation))

	resp = env.do(t, &Request{Method: http.MethodHead, ID: id, Header: tusHeader()})
	assert.Equal(t, "1", resp.Header.Get(HeaderUploadDeferLength))
	assert.Empty(t, resp.Header.Get(HeaderUploadLength))

	resp = env.do(t, &Request{
		Method: http.MethodPatch,
		ID:     id,
		Header: tusHeader(HeaderContentType, ContentTypeOffsetOctetStream, HeaderUploadOffset, "0", HeaderUploadLength, "5"),
		Body:   strings.NewReader("hello"),
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode, body(t, resp))

	resp = env.do(t, &Request{Method: http.MethodHead, ID: id, Header: tusHeader()})
	assert.Equal(t, "5", resp.Header.Get(HeaderUploadLength))
	assert.Empty(t, resp.Header.Get(HeaderUploadDeferLength))
}

func TestHandle_Concatenation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	var locations []string
	for _, data := range []string{"AB", "CD"} {
		resp := env.do(t, &Request{
			Method:        http.MethodPost,
			Header:        tusHeader(HeaderUploadLength, "2", HeaderUploadConcat, "partial", HeaderContentType, ContentTypeOffsetOctetStream),
			Body:          strings.NewReader(data),
			ContentLength: 2,
			BaseURL:       "http://tus.test",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode, body(t, resp))
		locations = append(locations, resp.Header.Get(HeaderLocation))
	}

	partID := idFromLocation(t, locations[0])
	resp := env.do(t, &Request{Method: http.MethodHead, ID: partID, Header: tusHeader(), BaseURL: "http://tus.test"})
	assert.Equal(t, "partial", resp.Header.Get(HeaderUploadConcat))

	resp = env.do(t, &Request{
		Method:  http.MethodPost,
		Header:  tusHeader(HeaderUploadConcat, "final;"+strings.Join(locations, " ")),
		BaseURL: "http://tus.test",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body(t, resp))
	finalID := idFromLocation(t, resp.Header.Get(HeaderLocation))

	resp = env.do(t, &Request{Method: http.MethodHead, ID: finalID, Header: tusHeader(), BaseURL: "http://tus.test"})
	assert.Equal(t, "4", resp.Header.Get(HeaderUploadLength))
	assert.Equal(t, "4", resp.Header.Get(HeaderUploadOffset))
	assert.Equal(t, "final;"+strings.Join(locations, " "), resp.Header.Get(HeaderUploadConcat))

	resp = env.do(t, &Request{
		Method: http.MethodPatch,
		ID:     finalID,
		Header: tusHeader(HeaderContentType, ContentTypeOffsetOctetStream, HeaderUploadOffset, "4"),
		Body:   strings.NewReader("E"),
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(t, &Request{Method: http.MethodGet, ID: finalID, Header: http.Header{}})
	assert.Equal(t, "ABCD", body(t, resp))
}

func TestHandle_GetRedirect(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, func(c *Config) {
		c.PublicURL = func(u *types.Upload) string {
			return "https://cdn.example.org/" + u.ID
		}
	})
	u := env.create(t, CreateParams{Length: 0})

	resp := env.do(t, &Request{Method: http.MethodGet, ID: u.ID, Header: http.Header{}})
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://cdn.example.org/"+u.ID, resp.Header.Get(HeaderLocation))

	resp = env.do(t, &Request{Method: http.MethodGet, ID: "missing", Header: http.Header{}})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandle_Expires(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, func(c *Config) { c.ExpireAfter = time.Hour })
	resp := env.do(t, &Request{Method: http.MethodPost, Header: tusHeader(HeaderUploadLength, "5"), BaseURL: "http://tus.test"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	expires, err := http.ParseTime(resp.Header.Get(HeaderUploadExpires))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, time.Minute)
}

func TestHandle_UnknownMethod(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	resp := env.do(t, &Request{Method: http.MethodPut, ID: "x", Header: tusHeader()})
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
