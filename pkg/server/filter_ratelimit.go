package server

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LeeDigitalWorks/zaptus/pkg/logger"
	"github.com/LeeDigitalWorks/zaptus/pkg/utils"

	"golang.org/x/time/rate"
)

const (
	FilterTypeRateLimit = "RateLimitFilter"
)

// ErrTooManyRequests is returned by the rate limit filter and written as 429
var ErrTooManyRequests = errors.New("too many requests")

// RateLimitConfig holds rate limiting configuration. Zero rates disable the
// corresponding limiter.
type RateLimitConfig struct {
	GlobalRPS   float64 `mapstructure:"global_rps"`
	GlobalBurst int     `mapstructure:"global_burst"`

	// Per client IP
	IPRPS   float64 `mapstructure:"ip_rps"`
	IPBurst int     `mapstructure:"ip_burst"`

	// TrustForwarded reads the client IP from X-Forwarded-For and X-Real-IP
	TrustForwarded bool `mapstructure:"trust_forwarded"`

	// CleanupInterval for removing idle per-IP limiters
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`

	// Redis shares per-IP limits between server instances
	Redis RedisRateLimitConfig `mapstructure:"redis"`
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		GlobalRPS:       0,
		IPRPS:           0,
		CleanupInterval: 5 * time.Minute,
		Redis:           DefaultRedisRateLimitConfig(),
	}
}

// Enabled reports whether any limiter is configured
func (c RateLimitConfig) Enabled() bool {
	return c.GlobalRPS > 0 || c.IPRPS > 0 || c.Redis.Enabled
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastUsed atomic.Int64
}

// RateLimitFilter limits request rates globally and per client IP, using
// token buckets from x/time/rate. With Redis configured the per-IP check is
// shared across instances.
type RateLimitFilter struct {
	cfg    RateLimitConfig
	global *rate.Limiter
	ips    *utils.ShardedMap[*ipLimiter]
	redis  *RedisRateLimiter

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewRateLimitFilter creates the filter. redis may be nil.
func NewRateLimitFilter(cfg RateLimitConfig, redis *RedisRateLimiter) *RateLimitFilter {
	f := &RateLimitFilter{
		cfg:   cfg,
		ips:   utils.NewShardedMap[*ipLimiter](),
		redis: redis,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	if cfg.GlobalRPS > 0 {
		f.global = rate.NewLimiter(rate.Limit(cfg.GlobalRPS), max(cfg.GlobalBurst, 1))
	}

	if cfg.IPRPS > 0 && cfg.CleanupInterval > 0 {
		go f.cleanupLoop()
	} else {
		close(f.done)
	}
	return f
}

func (f *RateLimitFilter) Type() string {
	return FilterTypeRateLimit
}

func (f *RateLimitFilter) Run(d *Data) (Response, error) {
	if d.Ctx.Err() != nil {
		return nil, d.Ctx.Err()
	}

	if f.global != nil && !f.global.Allow() {
		rateLimited.WithLabelValues("global").Inc()
		return nil, ErrTooManyRequests
	}

	ip := d.ClientIP
	if ip == "" {
		ip = ClientIP(d.Req, f.cfg.TrustForwarded)
	}
	if ip == "" {
		return Next{}, nil
	}

	if f.redis != nil {
		res, err := f.redis.Allow(d.Ctx, ip, 1)
		if err != nil {
			return nil, err
		}
		if !res.Allowed {
			rateLimited.WithLabelValues("redis").Inc()
			return nil, ErrTooManyRequests
		}
		return Next{}, nil
	}

	if f.cfg.IPRPS > 0 && !f.ipLimiter(ip).Allow() {
		rateLimited.WithLabelValues("ip").Inc()
		return nil, ErrTooManyRequests
	}
	return Next{}, nil
}

func (f *RateLimitFilter) ipLimiter(ip string) *rate.Limiter {
	now := time.Now().Unix()
	l := f.ips.Compute(ip, func(old *ipLimiter, exists bool) (*ipLimiter, bool) {
		if exists {
			return old, true
		}
		return &ipLimiter{limiter: rate.NewLimiter(rate.Limit(f.cfg.IPRPS), max(f.cfg.IPBurst, 1))}, true
	})
	l.lastUsed.Store(now)
	return l.limiter
}

func (f *RateLimitFilter) cleanupLoop() {
	defer close(f.done)
	ticker := time.NewTicker(f.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-2 * f.cfg.CleanupInterval).Unix()
			if n := f.ips.DeleteIf(func(_ string, l *ipLimiter) bool {
				return l.lastUsed.Load() < cutoff
			}); n > 0 {
				logger.Debug().Int("removed", n).Msg("removed idle rate limiters")
			}
		}
	}
}

// Stop ends the cleanup goroutine
func (f *RateLimitFilter) Stop() {
	f.stopOnce.Do(func() { close(f.stop) })
	<-f.done
}

// ClientIP extracts the client IP, honoring proxy headers only when trusted.
func ClientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
