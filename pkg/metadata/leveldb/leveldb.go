// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package leveldb provides a durable single-node metadata.Store on goleveldb.
package leveldb

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/zaptus/pkg/logger"
	"github.com/LeeDigitalWorks/zaptus/pkg/metadata"
	"github.com/LeeDigitalWorks/zaptus/pkg/types"
	"github.com/LeeDigitalWorks/zaptus/pkg/utils"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	numStripes = 64

	uploadPrefix  = "u/"
	createdPrefix = "c/"
)

func init() {
	metadata.Register(metadata.TypeLevelDB, func(cfg metadata.Config) (metadata.Store, error) {
		return Open(cfg.Path, nil)
	})
}

// Store keeps each upload as a JSON value under u/<id> plus an index entry
// c/<created-at>/<id> for stale scans. Mutations on one id are serialized by
// a striped mutex and written with fsync.
type Store struct {
	db      *leveldb.DB
	stripes [numStripes]sync.Mutex
	sync    *opt.WriteOptions
}

var _ metadata.Store = (*Store)(nil)

// Open opens or creates the database at dir, recovering it if corrupted.
func Open(dir string, opts *opt.Options) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("path required for leveldb store")
	}
	dir = utils.ResolvePath(dir)

	db, err := leveldb.OpenFile(dir, opts)
	if errors.IsCorrupted(err) {
		logger.Warn().Err(err).Str("path", dir).Msg("leveldb corrupted, recovering")
		db, err = leveldb.RecoverFile(dir, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return &Store{db: db, sync: &opt.WriteOptions{Sync: true}}, nil
}

func (s *Store) lock(id string) func() {
	h := fnv.New32a()
	h.Write([]byte(id))
	m := &s.stripes[h.Sum32()%numStripes]
	m.Lock()
	return m.Unlock
}

func uploadKey(id string) []byte {
	return []byte(uploadPrefix + id)
}

// createdKey sorts lexically by time: fixed width nanoseconds.
func createdKey(t time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", createdPrefix, t.UnixNano(), id))
}

func (s *Store) load(id string) (*types.Upload, error) {
	data, err := s.db.Get(uploadKey(id), nil)
	if err == leveldb.ErrNotFound {
		return nil, metadata.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var u types.Upload
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("decode upload %s: %w", id, err)
	}
	return &u, nil
}

func (s *Store) write(u *types.Upload, old *types.Upload) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode upload %s: %w", u.ID, err)
	}
	batch := new(leveldb.Batch)
	if old != nil && !old.CreatedAt.Equal(u.CreatedAt) {
		batch.Delete(createdKey(old.CreatedAt, old.ID))
	}
	batch.Put(uploadKey(u.ID), data)
	batch.Put(createdKey(u.CreatedAt, u.ID), nil)
	return s.db.Write(batch, s.sync)
}

func (s *Store) Create(ctx context.Context, upload *types.Upload) error {
	defer s.lock(upload.ID)()

	ok, err := s.db.Has(uploadKey(upload.ID), nil)
	if err != nil {
		return err
	}
	if ok {
		return metadata.ErrExists
	}
	return s.write(upload, nil)
}

func (s *Store) Get(ctx context.Context, id string) (*types.Upload, error) {
	return s.load(id)
}

func (s *Store) Put(ctx context.Context, upload *types.Upload) error {
	defer s.lock(upload.ID)()

	old, err := s.load(upload.ID)
	if err != nil {
		return err
	}
	return s.write(upload, old)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	defer s.lock(id)()

	old, err := s.load(id)
	if err == metadata.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Delete(uploadKey(id))
	batch.Delete(createdKey(old.CreatedAt, id))
	return s.db.Write(batch, s.sync)
}

func (s *Store) ListByIDs(ctx context.Context, ids []string) ([]*types.Upload, error) {
	out := make([]*types.Upload, 0, len(ids))
	for _, id := range ids {
		u, err := s.load(id)
		if err == metadata.ErrNotFound {
			return nil, &metadata.NotFoundError{ID: id}
		}
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

func (s *Store) CompareAndSwapOffset(ctx context.Context, id string, expected, next int64) (*types.Upload, error) {
	defer s.lock(id)()

	u, err := s.load(id)
	if err != nil {
		return nil, err
	}
	if u.Offset != expected {
		return nil, metadata.ErrOffsetConflict
	}
	metadata.ApplyOffset(u, next)
	if err := s.write(u, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Store) ListStale(ctx context.Context, createdBefore time.Time, limit int) ([]*types.Upload, error) {
	rng := &util.Range{
		Start: []byte(createdPrefix),
		Limit: createdKey(createdBefore, ""),
	}
	iter := s.db.NewIterator(rng, nil)
	defer iter.Release()

	var out []*types.Upload
	for iter.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := string(iter.Key())
		// c/<20 digits>/<id>
		id := key[len(createdPrefix)+21:]
		u, err := s.load(id)
		if err == metadata.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		if metadata.IsStale(u, createdBefore) {
			out = append(out, u)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
