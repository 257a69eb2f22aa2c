package tus

import (
	"io"
	"net/http"
	"strings"
)

// Request is a transport neutral protocol request.
type Request struct {
	Method string
	// ID is the upload id taken from the resource path, empty for the
	// collection.
	ID     string
	Header http.Header
	Body   io.Reader
	// ContentLength is -1 when unknown
	ContentLength int64
	// BaseURL is scheme and host, prefixed to Location values. Empty yields
	// absolute paths.
	BaseURL string
}

// Response is what the transport writes back. Body may be nil; when set the
// transport closes it.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

func newResponse(status int) *Response {
	r := &Response{StatusCode: status, Header: make(http.Header)}
	r.Header.Set(HeaderTusResumable, Version)
	return r
}

func errorResponse(err error) *Response {
	te := asError(err)
	r := newResponse(te.HTTPStatus())
	if te.Code == ErrCodeUnsupportedVersion {
		r.Header.Set(HeaderTusVersion, Version)
	}
	msg := te.Error() + "\n"
	r.Header.Set(HeaderContentType, "text/plain; charset=utf-8")
	r.Header.Set(HeaderContentLength, itoa(int64(len(msg))))
	r.Body = io.NopCloser(strings.NewReader(msg))
	return r
}
