// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/zaptus/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter implements distributed rate limiting with GCRA in a Lua
// script, so every server instance draws from the same budget per key.
type RedisRateLimiter struct {
	client redis.UniversalClient
	config RedisRateLimitConfig
}

// RedisRateLimitConfig configures the Redis rate limiter.
type RedisRateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`

	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`

	KeyPrefix string        `mapstructure:"key_prefix"`
	RPS       int64         `mapstructure:"rps"`
	Burst     int64         `mapstructure:"burst"`
	KeyTTL    time.Duration `mapstructure:"key_ttl"`

	// FailOpen allows requests while Redis is unavailable
	FailOpen bool `mapstructure:"fail_open"`
}

func DefaultRedisRateLimitConfig() RedisRateLimitConfig {
	return RedisRateLimitConfig{
		Addr:      "localhost:6379",
		PoolSize:  10,
		KeyPrefix: "zaptus:ratelimit:",
		RPS:       100,
		Burst:     200,
		KeyTTL:    time.Hour,
		FailOpen:  true,
	}
}

// NewRedisRateLimiter connects and pings Redis.
func NewRedisRateLimiter(cfg RedisRateLimitConfig) (*RedisRateLimiter, error) {
	if cfg.RPS <= 0 {
		return nil, fmt.Errorf("redis rate limit rps must be positive")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &RedisRateLimiter{client: client, config: cfg}, nil
}

func NewRedisRateLimiterWithClient(client redis.UniversalClient, cfg RedisRateLimitConfig) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, config: cfg}
}

// gcraScript tracks a theoretical arrival time per key. A request is allowed
// while the new TAT stays within burst emission intervals of now.
// Returns {allowed, remaining, reset_after_ms}.
var gcraScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local rate = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local emission_interval = 1000000 / rate
local burst_offset = burst * emission_interval

local tat = redis.call("GET", key)
if tat then
    tat = tonumber(tat)
else
    tat = now
end
if tat < now then
    tat = now
end

local new_tat = tat + (cost * emission_interval)
local allow_at = now + burst_offset
if new_tat > allow_at then
    local remaining = math.max(0, math.floor((allow_at - tat) / emission_interval))
    local reset_after = math.ceil((tat - now) / 1000)
    return {0, remaining, reset_after}
end

redis.call("SET", key, new_tat, "EX", ttl)

local remaining = math.max(0, math.floor((allow_at - new_tat) / emission_interval))
local reset_after = math.ceil((new_tat - now) / 1000)
return {1, remaining, reset_after}
`)

type RateLimitResult struct {
	Allowed    bool
	Remaining  int64
	ResetAfter time.Duration
}

// Allow spends cost tokens from key's bucket.
func (r *RedisRateLimiter) Allow(ctx context.Context, key string, cost int64) (RateLimitResult, error) {
	ttlSeconds := int64(r.config.KeyTTL.Seconds())
	if ttlSeconds < 1 {
		ttlSeconds = 3600
	}

	result, err := gcraScript.Run(ctx, r.client, []string{r.config.KeyPrefix + key},
		time.Now().UnixMicro(), r.config.Burst, r.config.RPS, cost, ttlSeconds,
	).Int64Slice()
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("redis rate limit check failed")
		if r.config.FailOpen {
			return RateLimitResult{Allowed: true, Remaining: r.config.Burst}, nil
		}
		return RateLimitResult{}, fmt.Errorf("rate limit: %w", err)
	}

	return RateLimitResult{
		Allowed:    result[0] == 1,
		Remaining:  result[1],
		ResetAfter: time.Duration(result[2]) * time.Millisecond,
	}, nil
}

// Reset clears the state for a key.
func (r *RedisRateLimiter) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.config.KeyPrefix+key).Err()
}

func (r *RedisRateLimiter) Close() error {
	return r.client.Close()
}
