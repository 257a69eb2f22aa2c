// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package metadata

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Type identifies a store implementation
type Type string

const (
	TypeMemory   Type = "memory"
	TypeLevelDB  Type = "leveldb"
	TypeRedis    Type = "redis"
	TypePostgres Type = "postgres"
	TypeMySQL    Type = "mysql"
)

// Config holds store configuration. Only the fields relevant to Type are read.
type Config struct {
	Type Type `mapstructure:"type"`

	// leveldb
	Path string `mapstructure:"path"`

	// redis
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`

	// sql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// Opener creates a Store from config
type Opener func(cfg Config) (Store, error)

var (
	openersMu sync.RWMutex
	openers   = make(map[Type]Opener)
)

// Register adds an opener for a store type
func Register(t Type, o Opener) {
	openersMu.Lock()
	defer openersMu.Unlock()
	openers[t] = o
}

// Open creates a Store for cfg.Type, wrapped with metrics.
func Open(cfg Config) (Store, error) {
	if cfg.Type == "" {
		cfg.Type = TypeMemory
	}
	openersMu.RLock()
	o, ok := openers[cfg.Type]
	openersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown metadata store type: %s (registered: %v)", cfg.Type, registered())
	}
	s, err := o(cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Type, err)
	}
	return NewMetricsStore(s, string(cfg.Type)), nil
}

func registered() []string {
	openersMu.RLock()
	defer openersMu.RUnlock()
	names := make([]string, 0, len(openers))
	for t := range openers {
		names = append(names, string(t))
	}
	sort.Strings(names)
	return names
}
