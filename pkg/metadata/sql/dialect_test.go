// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestPostgresDialect_Placeholders(t *testing.T) {
	d := PostgresDialect{}

	assert.Equal(t, "", d.Placeholders(1, 0))
	assert.Equal(t, "$1", d.Placeholders(1, 1))
	assert.Equal(t, "$1, $2, $3", d.Placeholders(1, 3))
	assert.Equal(t, "$4, $5", d.Placeholders(4, 2))
}

func TestPostgresDialect_ReplacePlaceholders(t *testing.T) {
	d := PostgresDialect{}

	query := "SELECT record FROM uploads WHERE id = $1 AND upload_offset = $2"
	assert.Equal(t, query, d.ReplacePlaceholders(query))
}

func TestMySQLDialect_Placeholders(t *testing.T) {
	d := MySQLDialect{}

	assert.Equal(t, "", d.Placeholders(1, 0))
	assert.Equal(t, "?", d.Placeholders(1, 1))
	assert.Equal(t, "?, ?, ?", d.Placeholders(7, 3))
}

func TestMySQLDialect_ReplacePlaceholders(t *testing.T) {
	d := MySQLDialect{}

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"simple", "WHERE id = $1", "WHERE id = ?"},
		{"multi digit", "VALUES ($1, $2, $10, $12)", "VALUES (?, ?, ?, ?)"},
		{"repeated", "SET a = $1, b = $1", "SET a = ?, b = ?"},
		{"quoted literal kept", "WHERE s = '$1' AND id = $2", "WHERE s = '$1' AND id = ?"},
		{"bare dollar", "SELECT '$' || $1", "SELECT '$' || ?"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.ReplacePlaceholders(tt.query))
		})
	}
}

func TestDialect_IsUniqueViolation(t *testing.T) {
	pgDup := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	pgOther := &pgconn.PgError{Code: "23503"}
	myDup := fmt.Errorf("insert: %w", &mysql.MySQLError{Number: 1062})
	myOther := &mysql.MySQLError{Number: 1452}

	assert.True(t, PostgresDialect{}.IsUniqueViolation(pgDup))
	assert.False(t, PostgresDialect{}.IsUniqueViolation(pgOther))
	assert.False(t, PostgresDialect{}.IsUniqueViolation(myDup))

	assert.True(t, MySQLDialect{}.IsUniqueViolation(myDup))
	assert.False(t, MySQLDialect{}.IsUniqueViolation(myOther))
	assert.False(t, MySQLDialect{}.IsUniqueViolation(errors.New("boom")))
}
