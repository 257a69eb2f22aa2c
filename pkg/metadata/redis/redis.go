// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package redis provides a metadata.Store shared by several server processes.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/LeeDigitalWorks/zaptus/pkg/logger"
	"github.com/LeeDigitalWorks/zaptus/pkg/metadata"
	"github.com/LeeDigitalWorks/zaptus/pkg/types"

	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix = "zaptus:"
	casRetries       = 5
	stalePageSize    = 100
)

// createScript inserts the record and its index entry only if absent.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[3])
return 1
`)

// swapScript replaces the record only if it still holds the exact bytes the
// caller read. Returns -1 if missing, 0 if changed, 1 on success.
var swapScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
	return -1
end
if cur ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2])
return 1
`)

func init() {
	metadata.Register(metadata.TypeRedis, func(cfg metadata.Config) (metadata.Store, error) {
		return Open(cfg)
	})
}

// Store keeps each upload as JSON under <prefix>upload:<id> and indexes ids
// in the sorted set <prefix>created scored by creation time in microseconds.
type Store struct {
	client redis.UniversalClient
	prefix string
	owned  bool
}

var _ metadata.Store = (*Store)(nil)

// Open connects to cfg.Addr and pings it.
func Open(cfg metadata.Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info().Str("addr", cfg.Addr).Msg("redis metadata store connected")

	s := NewWithClient(client, cfg.KeyPrefix)
	s.owned = true
	return s, nil
}

// NewWithClient wraps an existing client. The client is not closed by Close.
func NewWithClient(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Store{client: client, prefix: prefix}
}

// Ping reports whether redis is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) key(id string) string {
	return s.prefix + "upload:" + id
}

func (s *Store) indexKey() string {
	return s.prefix + "created"
}

func score(t time.Time) float64 {
	return float64(t.UnixMicro())
}

func decode(id string, data string) (*types.Upload, error) {
	var u types.Upload
	if err := json.Unmarshal([]byte(data), &u); err != nil {
		return nil, fmt.Errorf("decode upload %s: %w", id, err)
	}
	return &u, nil
}

func (s *Store) Create(ctx context.Context, upload *types.Upload) error {
	data, err := json.Marshal(upload)
	if err != nil {
		return fmt.Errorf("encode upload %s: %w", upload.ID, err)
	}
	n, err := createScript.Run(ctx, s.client,
		[]string{s.key(upload.ID), s.indexKey()},
		data, score(upload.CreatedAt), upload.ID,
	).Int()
	if err != nil {
		return fmt.Errorf("redis create: %w", err)
	}
	if n == 0 {
		return metadata.ErrExists
	}
	return nil
}

func (s *Store) get(ctx context.Context, id string) (string, error) {
	data, err := s.client.Get(ctx, s.key(id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", metadata.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

func (s *Store) Get(ctx context.Context, id string) (*types.Upload, error) {
	data, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return decode(id, data)
}

func (s *Store) Put(ctx context.Context, upload *types.Upload) error {
	data, err := json.Marshal(upload)
	if err != nil {
		return fmt.Errorf("encode upload %s: %w", upload.ID, err)
	}
	ok, err := s.client.SetXX(ctx, s.key(upload.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("redis put: %w", err)
	}
	if !ok {
		return metadata.ErrNotFound
	}
	if err := s.client.ZAdd(ctx, s.indexKey(), redis.Z{Score: score(upload.CreatedAt), Member: upload.ID}).Err(); err != nil {
		return fmt.Errorf("redis index: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(id))
		pipe.ZRem(ctx, s.indexKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

func (s *Store) ListByIDs(ctx context.Context, ids []string) ([]*types.Upload, error) {
	if len(ids) == 0 {
		return []*types.Upload{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}

	out := make([]*types.Upload, 0, len(ids))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			return nil, &metadata.NotFoundError{ID: ids[i]}
		}
		u, err := decode(ids[i], str)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

func (s *Store) CompareAndSwapOffset(ctx context.Context, id string, expected, next int64) (*types.Upload, error) {
	for attempt := 0; attempt < casRetries; attempt++ {
		cur, err := s.get(ctx, id)
		if err != nil {
			return nil, err
		}
		u, err := decode(id, cur)
		if err != nil {
			return nil, err
		}
		if u.Offset != expected {
			return nil, metadata.ErrOffsetConflict
		}
		metadata.ApplyOffset(u, next)
		data, err := json.Marshal(u)
		if err != nil {
			return nil, fmt.Errorf("encode upload %s: %w", id, err)
		}

		n, err := swapScript.Run(ctx, s.client, []string{s.key(id)}, cur, data).Int()
		if err != nil {
			return nil, fmt.Errorf("redis cas: %w", err)
		}
		switch n {
		case 1:
			return u, nil
		case -1:
			return nil, metadata.ErrNotFound
		}
		// Record changed under us; re-read and re-check the offset
	}
	return nil, metadata.ErrOffsetConflict
}

func (s *Store) ListStale(ctx context.Context, createdBefore time.Time, limit int) ([]*types.Upload, error) {
	var out []*types.Upload
	max := "(" + strconv.FormatInt(createdBefore.UnixMicro(), 10)

	for offset := int64(0); ; offset += stalePageSize {
		ids, err := s.client.ZRangeArgs(ctx, redis.ZRangeArgs{
			Key:     s.indexKey(),
			Start:   "-inf",
			Stop:    max,
			ByScore: true,
			Offset:  offset,
			Count:   stalePageSize,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("redis zrange: %w", err)
		}
		for _, id := range ids {
			u, err := s.Get(ctx, id)
			if errors.Is(err, metadata.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if metadata.IsStale(u, createdBefore) {
				out = append(out, u)
				if limit > 0 && len(out) >= limit {
					return out, nil
				}
			}
		}
		if len(ids) < stalePageSize {
			return out, nil
		}
	}
}

func (s *Store) Close() error {
	if s.owned {
		return s.client.Close()
	}
	return nil
}
