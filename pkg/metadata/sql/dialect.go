// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

// Dialect abstracts the SQL differences between PostgreSQL and MySQL.
// Queries are written with PostgreSQL placeholders and converted at runtime.
type Dialect interface {
	// Name returns the dialect name ("postgres", "mysql")
	Name() string

	// DriverName is the database/sql driver to open
	DriverName() string

	// Placeholders returns n placeholders starting at start, joined by comma.
	// PostgreSQL: "$3, $4"  MySQL: "?, ?"
	Placeholders(start, n int) string

	// ReplacePlaceholders converts $1, $2, ... to the dialect's format
	ReplacePlaceholders(query string) string

	// IsUniqueViolation reports whether err is a duplicate key error
	IsUniqueViolation(err error) bool
}

// ============================================================================
// PostgreSQL Dialect
// ============================================================================

// PostgresDialect implements Dialect for PostgreSQL (via pgx/stdlib).
type PostgresDialect struct{}

var _ Dialect = PostgresDialect{}

func (d PostgresDialect) Name() string {
	return "postgres"
}

func (d PostgresDialect) DriverName() string {
	return "pgx"
}

func (d PostgresDialect) Placeholders(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}

func (d PostgresDialect) ReplacePlaceholders(query string) string {
	return query
}

// unique_violation
const pgUniqueViolation = "23505"

func (d PostgresDialect) IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// ============================================================================
// MySQL Dialect
// ============================================================================

// MySQLDialect implements Dialect for MySQL (and Vitess).
type MySQLDialect struct{}

var _ Dialect = MySQLDialect{}

func (d MySQLDialect) Name() string {
	return "mysql"
}

func (d MySQLDialect) DriverName() string {
	return "mysql"
}

func (d MySQLDialect) Placeholders(start, n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// ReplacePlaceholders rewrites every $<digits> outside quoted strings to ?.
func (d MySQLDialect) ReplacePlaceholders(query string) string {
	var b strings.Builder
	b.Grow(len(query))
	var quote byte
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case c == '$' && i+1 < len(query) && isDigit(query[i+1]):
			b.WriteByte('?')
			for i+1 < len(query) && isDigit(query[i+1]) {
				i++
			}
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// ER_DUP_ENTRY
const mysqlDuplicateEntry = 1062

func (d MySQLDialect) IsUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry
}
