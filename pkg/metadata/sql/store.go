// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package sql provides a metadata.Store on PostgreSQL or MySQL through a
// shared dialect-aware implementation.
package sql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/zaptus/pkg/logger"
	"github.com/LeeDigitalWorks/zaptus/pkg/metadata"
	"github.com/LeeDigitalWorks/zaptus/pkg/types"

	_ "github.com/go-sql-driver/mysql" // MySQL driver (also works with Vitess)
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
)

// Pool defaults
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 5
	DefaultConnMaxLifetime = 5 * time.Minute
	DefaultConnMaxIdleTime = time.Minute
)

func init() {
	metadata.Register(metadata.TypePostgres, func(cfg metadata.Config) (metadata.Store, error) {
		return Open(PostgresDialect{}, cfg)
	})
	metadata.Register(metadata.TypeMySQL, func(cfg metadata.Config) (metadata.Store, error) {
		return Open(MySQLDialect{}, cfg)
	})
}

// Store is a dialect-aware SQL metadata store
type Store struct {
	db      *sql.DB
	dialect Dialect
}

var _ metadata.Store = (*Store)(nil)

// NewStore wraps an open database. Call Migrate before use.
func NewStore(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Open opens and pings the database, configures the pool and runs migrations.
func Open(dialect Dialect, cfg metadata.Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("dsn required for %s store", dialect.Name())
	}

	db, err := sql.Open(dialect.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(orDefault(cfg.MaxOpenConns, DefaultMaxOpenConns))
	db.SetMaxIdleConns(orDefault(cfg.MaxIdleConns, DefaultMaxIdleConns))
	db.SetConnMaxLifetime(orDefault(cfg.ConnMaxLifetime, DefaultConnMaxLifetime))
	db.SetConnMaxIdleTime(orDefault(cfg.ConnMaxIdleTime, DefaultConnMaxIdleTime))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := NewStore(db, dialect)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Info().Str("dialect", dialect.Name()).Msg("sql metadata store ready")
	return s, nil
}

func orDefault[T int | time.Duration](v, def T) T {
	if v > 0 {
		return v
	}
	return def
}

// Ping reports whether the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ============================================================================
// Query Helpers
// ============================================================================

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.ReplacePlaceholders(query), args...)
}

func (s *Store) queryRow(ctx context.Context, q querier, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, s.dialect.ReplacePlaceholders(query), args...)
}

func encode(u *types.Upload) (string, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return "", fmt.Errorf("encode upload %s: %w", u.ID, err)
	}
	return string(data), nil
}

func decode(id, record string) (*types.Upload, error) {
	var u types.Upload
	if err := json.Unmarshal([]byte(record), &u); err != nil {
		return nil, fmt.Errorf("decode upload %s: %w", id, err)
	}
	return &u, nil
}

// ============================================================================
// Store implementation
// ============================================================================

func (s *Store) Create(ctx context.Context, upload *types.Upload) error {
	record, err := encode(upload)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, `
		INSERT INTO uploads (id, upload_offset, state, created_at, record)
		VALUES ($1, $2, $3, $4, $5)
	`, upload.ID, upload.Offset, string(upload.State), upload.CreatedAt.UnixMicro(), record)
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return metadata.ErrExists
		}
		return fmt.Errorf("insert upload: %w", err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, q querier, id string, forUpdate bool) (*types.Upload, error) {
	query := `SELECT record FROM uploads WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var record string
	err := s.queryRow(ctx, q, query, id).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, metadata.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select upload: %w", err)
	}
	return decode(id, record)
}

func (s *Store) Get(ctx context.Context, id string) (*types.Upload, error) {
	return s.get(ctx, s.db, id, false)
}

func (s *Store) Put(ctx context.Context, upload *types.Upload) error {
	record, err := encode(upload)
	if err != nil {
		return err
	}
	res, err := s.exec(ctx, `
		UPDATE uploads SET upload_offset = $1, state = $2, created_at = $3, record = $4
		WHERE id = $5
	`, upload.Offset, string(upload.State), upload.CreatedAt.UnixMicro(), record, upload.ID)
	if err != nil {
		return fmt.Errorf("update upload: %w", err)
	}
	return s.requireRow(ctx, res, upload.ID)
}

// requireRow maps a zero-row update to ErrNotFound. MySQL reports zero
// affected rows for unchanged values, so existence is rechecked.
func (s *Store) requireRow(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.exec(ctx, `DELETE FROM uploads WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete upload: %w", err)
	}
	return nil
}

func (s *Store) ListByIDs(ctx context.Context, ids []string) ([]*types.Upload, error) {
	if len(ids) == 0 {
		return []*types.Upload{}, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT id, record FROM uploads WHERE id IN (%s)`, s.dialect.Placeholders(1, len(ids)))
	rows, err := s.db.QueryContext(ctx, s.dialect.ReplacePlaceholders(query), args...)
	if err != nil {
		return nil, fmt.Errorf("select uploads: %w", err)
	}
	defer rows.Close()

	found := make(map[string]*types.Upload, len(ids))
	for rows.Next() {
		var id, record string
		if err := rows.Scan(&id, &record); err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		u, err := decode(id, record)
		if err != nil {
			return nil, err
		}
		found[id] = u
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*types.Upload, 0, len(ids))
	for _, id := range ids {
		u, ok := found[id]
		if !ok {
			return nil, &metadata.NotFoundError{ID: id}
		}
		// Duplicate ids in the request get independent copies
		out = append(out, u.Clone())
	}
	return out, nil
}

func (s *Store) CompareAndSwapOffset(ctx context.Context, id string, expected, next int64) (*types.Upload, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	u, err := s.get(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	if u.Offset != expected {
		return nil, metadata.ErrOffsetConflict
	}
	metadata.ApplyOffset(u, next)
	record, err := encode(u)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, s.dialect.ReplacePlaceholders(`
		UPDATE uploads SET upload_offset = $1, state = $2, record = $3
		WHERE id = $4 AND upload_offset = $5
	`), next, string(u.State), record, id, expected)
	if err != nil {
		return nil, fmt.Errorf("update offset: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	} else if n == 0 && next != expected {
		return nil, metadata.ErrOffsetConflict
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return u, nil
}

func (s *Store) ListStale(ctx context.Context, createdBefore time.Time, limit int) ([]*types.Upload, error) {
	query := `
		SELECT id, record FROM uploads
		WHERE created_at < $1 AND state NOT IN ($2, $3)
		ORDER BY created_at, id`
	args := []any{createdBefore.UnixMicro(), string(types.StateComplete), string(types.StateMerged)}
	if limit > 0 {
		query += ` LIMIT $4`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.ReplacePlaceholders(query), args...)
	if err != nil {
		return nil, fmt.Errorf("select stale: %w", err)
	}
	defer rows.Close()

	var out []*types.Upload
	for rows.Next() {
		var id, record string
		if err := rows.Scan(&id, &record); err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		u, err := decode(id, record)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
