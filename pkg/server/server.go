// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package server adapts tus.Handler to net/http and runs the request filter
// chain: request ids, bearer tokens, CORS, method override and rate limits.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/zaptus/pkg/logger"
	"github.com/LeeDigitalWorks/zaptus/pkg/tus"
	"github.com/LeeDigitalWorks/zaptus/pkg/utils"
)

const responseBufferSize = 256 << 10

// Config holds the HTTP glue settings.
type Config struct {
	Handler *tus.Handler

	CORS      CORSConfig
	RateLimit RateLimitConfig
	// RedisLimiter, when set, backs the per-IP limit.
	RedisLimiter *RedisRateLimiter

	// PublicBaseURL overrides scheme and host in Location values, for
	// deployments behind a proxy, e.g. "https://uploads.example.org".
	PublicBaseURL string

	// TrustForwarded honors X-Forwarded-* and Forwarded headers for client
	// address and Location values.
	TrustForwarded bool

	// ConnTimeout is the per read and write deadline on accepted
	// connections. 0 disables it.
	ConnTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration

	// TLS serves HTTPS when set
	TLS *tls.Config
}

// Server serves the tus resource tree under the handler's base path.
type Server struct {
	cfg        Config
	handler    *tus.Handler
	chain      *Chain
	rateLimit  *RateLimitFilter
	httpServer *http.Server
}

func New(cfg Config) (*Server, error) {
	if cfg.Handler == nil {
		return nil, errors.New("Handler is required")
	}
	if cfg.PublicBaseURL != "" && !strings.HasPrefix(cfg.PublicBaseURL, "http://") && !strings.HasPrefix(cfg.PublicBaseURL, "https://") {
		return nil, fmt.Errorf("invalid public base url %q", cfg.PublicBaseURL)
	}
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 2 * time.Minute
	}
	cfg.RateLimit.TrustForwarded = cfg.TrustForwarded

	s := &Server{
		cfg:     cfg,
		handler: cfg.Handler,
	}

	s.chain = NewChain(
		NewRequestIDFilter(),
		NewCORSFilter(cfg.CORS),
		NewMethodOverrideFilter(),
		NewAuthenticationFilter(),
	)
	if cfg.RateLimit.Enabled() || cfg.RedisLimiter != nil {
		s.rateLimit = NewRateLimitFilter(cfg.RateLimit, cfg.RedisLimiter)
		s.chain.AddFilter(s.rateLimit)
	}

	s.httpServer = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	return s, nil
}

// ServeHTTP runs the filter chain, then hands the request to the protocol
// handler and writes its response.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &responseRecorder{ResponseWriter: w}

	d := NewData(r.Context(), rec, r)
	d.ClientIP = ClientIP(r, s.cfg.TrustForwarded)

	defer func() {
		status := rec.statusCode
		if status == 0 {
			status = http.StatusOK
		}
		httpRequests.WithLabelValues(d.Method, strconv.Itoa(status)).Inc()
		httpDuration.WithLabelValues(d.Method).Observe(time.Since(start).Seconds())

		logger.Ctx(d.Ctx).Info().
			Str("method", d.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int64("bytes_in", r.ContentLength).
			Int64("bytes_out", rec.bytesWritten).
			Str("remote_ip", d.ClientIP).
			Dur("duration", time.Since(start)).
			Msg("request")
	}()

	if filterType, err := s.chain.Run(d); err != nil {
		s.writeFilterError(rec, d, filterType, err)
		return
	} else if filterType != "" {
		return
	}

	id, ok := s.uploadID(r.URL.Path)
	if !ok {
		http.NotFound(rec, r)
		return
	}

	ctx := d.Ctx
	if id != "" {
		ctx = logger.WithField(ctx, "upload_id", id)
		d.Ctx = ctx
	}

	resp := s.handler.Handle(ctx, &tus.Request{
		Method:        d.Method,
		ID:            id,
		Header:        r.Header,
		Body:          r.Body,
		ContentLength: r.ContentLength,
		BaseURL:       s.baseURL(r),
	})
	s.writeResponse(ctx, rec, d, resp)
}

// uploadID splits the path below the base path. ok is false for paths
// outside the resource tree.
func (s *Server) uploadID(path string) (string, bool) {
	base := s.handler.BasePath()
	if path == strings.TrimSuffix(base, "/") {
		return "", true
	}
	if !strings.HasPrefix(path, base) {
		return "", false
	}
	id := strings.TrimPrefix(path, base)
	if strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// baseURL is the scheme and host Location values are built from
func (s *Server) baseURL(r *http.Request) string {
	if s.cfg.PublicBaseURL != "" {
		return strings.TrimRight(s.cfg.PublicBaseURL, "/")
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	host := r.Host

	if s.cfg.TrustForwarded {
		if proto, fhost := parseForwarded(r.Header.Get("Forwarded")); proto != "" || fhost != "" {
			if proto != "" {
				scheme = proto
			}
			if fhost != "" {
				host = fhost
			}
		} else {
			if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
				scheme = proto
			}
			if fhost := r.Header.Get("X-Forwarded-Host"); fhost != "" {
				host = fhost
			}
		}
	}
	return scheme + "://" + host
}

// parseForwarded reads proto and host from the first element of an RFC 7239
// Forwarded header.
func parseForwarded(value string) (proto, host string) {
	first, _, _ := strings.Cut(value, ",")
	for _, pair := range strings.Split(first, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		v = strings.Trim(v, `"`)
		switch strings.ToLower(k) {
		case "proto":
			if v == "http" || v == "https" {
				proto = v
			}
		case "host":
			host = v
		}
	}
	return proto, host
}

func (s *Server) writeResponse(ctx context.Context, w http.ResponseWriter, d *Data, resp *tus.Response) {
	h := w.Header()
	for k, v := range resp.Header {
		h[k] = v
	}
	w.WriteHeader(resp.StatusCode)

	if resp.Body == nil {
		return
	}
	defer resp.Body.Close()
	if d.Method == http.MethodHead {
		return
	}

	buf := utils.GetBuffer(responseBufferSize)
	defer utils.PutBuffer(buf)
	if _, err := io.CopyBuffer(struct{ io.Writer }{w}, resp.Body, buf); err != nil && ctx.Err() == nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("failed to write response body")
	}
}

func (s *Server) writeFilterError(w http.ResponseWriter, d *Data, filterType string, err error) {
	w.Header().Set(tus.HeaderTusResumable, tus.Version)
	switch {
	case errors.Is(err, ErrTooManyRequests):
		w.Header().Set("Retry-After", "1")
		http.Error(w, err.Error(), http.StatusTooManyRequests)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Client went away
	default:
		logger.Ctx(d.Ctx).Error().Err(err).Str("filter", filterType).Msg("request filter failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// ListenAndServe binds addr and serves until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	l, err := utils.NewListener(addr, s.cfg.ConnTimeout)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	if s.cfg.TLS != nil {
		l = tls.NewListener(l, s.cfg.TLS)
	}
	return s.Serve(l)
}

// Serve accepts connections on l until Shutdown. It returns nil after a
// clean shutdown.
func (s *Server) Serve(l net.Listener) error {
	logger.Info().Str("addr", l.Addr().String()).Str("base_path", s.handler.BasePath()).Msg("Starting tus server")
	if err := s.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops background work.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.rateLimit != nil {
		s.rateLimit.Stop()
	}
	return err
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (r *responseRecorder) WriteHeader(code int) {
	if r.statusCode == 0 {
		r.statusCode = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if r.statusCode == 0 {
		r.statusCode = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytesWritten += int64(n)
	return n, err
}

func (r *responseRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
