// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"time"
)

// Config holds event delivery configuration.
type Config struct {
	// ErrorPolicy is "log" (default) or "propagate".
	ErrorPolicy ErrorPolicy `mapstructure:"error_policy"`

	// Redis publisher configuration
	Redis RedisConfig `mapstructure:"redis"`

	// Kafka publisher configuration
	Kafka KafkaConfig `mapstructure:"kafka"`
}

// RedisConfig holds Redis publisher settings.
type RedisConfig struct {
	// Enabled activates the Redis publisher.
	Enabled bool `mapstructure:"enabled"`

	// Addr is the Redis server address (e.g., "localhost:6379").
	Addr string `mapstructure:"addr"`

	// Password for Redis authentication (optional).
	Password string `mapstructure:"password"`

	// DB is the Redis database number (default: 0).
	DB int `mapstructure:"db"`

	// Channel is the channel prefix. Events are published to
	// "{channel}:{kind}" (default: "tus:events").
	Channel string `mapstructure:"channel"`

	// PoolSize is the maximum number of connections (default: 10).
	PoolSize int `mapstructure:"pool_size"`

	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// KafkaConfig holds Kafka publisher settings.
type KafkaConfig struct {
	// Enabled activates the Kafka publisher.
	Enabled bool `mapstructure:"enabled"`

	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`

	// Topic is the Kafka topic for events (default: "tus-events").
	Topic string `mapstructure:"topic"`

	// RequiredAcks: 0=none, 1=leader, -1=all (default: 1).
	RequiredAcks int `mapstructure:"required_acks"`

	// Compression: "none", "gzip", "snappy", "lz4", "zstd" (default: "snappy").
	Compression string `mapstructure:"compression"`

	// WriteTimeout bounds a single send (default: 10s).
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	TLS           bool `mapstructure:"tls"`
	TLSSkipVerify bool `mapstructure:"tls_skip_verify"`

	// SASLMechanism is PLAIN, SCRAM-SHA-256 or SCRAM-SHA-512. Empty
	// disables SASL.
	SASLMechanism string `mapstructure:"sasl_mechanism"`
	SASLUsername  string `mapstructure:"sasl_username"`
	SASLPassword  string `mapstructure:"sasl_password"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		ErrorPolicy: PolicyLog,
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			Channel:      "tus:events",
			PoolSize:     10,
			DialTimeout:  5 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			Topic:        "tus-events",
			RequiredAcks: 1,
			Compression:  "snappy",
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Validate applies defaults for missing or invalid values.
func (c *Config) Validate() {
	def := DefaultConfig()

	if c.ErrorPolicy == "" {
		c.ErrorPolicy = def.ErrorPolicy
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = def.Redis.Addr
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = def.Redis.Channel
	}
	if c.Redis.PoolSize <= 0 {
		c.Redis.PoolSize = def.Redis.PoolSize
	}
	if c.Redis.DialTimeout <= 0 {
		c.Redis.DialTimeout = def.Redis.DialTimeout
	}
	if c.Redis.WriteTimeout <= 0 {
		c.Redis.WriteTimeout = def.Redis.WriteTimeout
	}

	if c.Kafka.Topic == "" {
		c.Kafka.Topic = def.Kafka.Topic
	}
	if c.Kafka.RequiredAcks < -1 || c.Kafka.RequiredAcks > 1 {
		c.Kafka.RequiredAcks = def.Kafka.RequiredAcks
	}
	if c.Kafka.Compression == "" {
		c.Kafka.Compression = def.Kafka.Compression
	}
	if c.Kafka.WriteTimeout <= 0 {
		c.Kafka.WriteTimeout = def.Kafka.WriteTimeout
	}
}

// HasPublishers returns true if at least one publisher is enabled.
func (c *Config) HasPublishers() bool {
	return c.Redis.Enabled || c.Kafka.Enabled
}
