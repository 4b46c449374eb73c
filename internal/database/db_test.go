// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package database_test

import (
	"context"
	"testing"

	"codeberg.org/livesales/authcore/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vinovest/sqlx"
)

func openMemory(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := database.Open(context.Background(), "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = database.Close(db)
	})
	return db
}

func tableExists(t *testing.T, db *sqlx.DB, name string) bool {
	t.Helper()
	var count int64
	err := db.Get(&count, "SELECT count(*) FROM sqlite_master WHERE type='table' AND name=?", name)
	require.NoError(t, err)
	return count == 1
}

func TestOpen_InMemory(t *testing.T) {
	db := openMemory(t)

	for _, table := range []string{"users", "refresh_tokens", "two_factor_backup_codes", "audit_logs"} {
		assert.True(t, tableExists(t, db, table), "table %s should exist", table)
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := database.Open(context.Background(), "mysql", "whatever")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestOpen_FileDatabase(t *testing.T) {
	dbPath := t.TempDir() + "/subdir/test.db"

	db, err := database.Open(context.Background(), "sqlite", dbPath)
	require.NoError(t, err)
	defer func() {
		_ = db.Close()
	}()

	assert.True(t, tableExists(t, db, "users"))

	var journalMode string
	require.NoError(t, db.Get(&journalMode, "PRAGMA journal_mode"))
	assert.Equal(t, "wal", journalMode)
}

func TestOpen_ForeignKeysEnforced(t *testing.T) {
	db := openMemory(t)

	_, err := db.Exec(`INSERT INTO refresh_tokens (token_hash, user_id, session_id, expires_at, revoked, created_at)
		VALUES ('h', 999, 's', CURRENT_TIMESTAMP, 0, CURRENT_TIMESTAMP)`)

	assert.Error(t, err)
}

func TestMigrateReset(t *testing.T) {
	db := openMemory(t)

	require.NoError(t, database.MigrateReset(db.DB, database.DialectSQLite))
	assert.False(t, tableExists(t, db, "users"))

	require.NoError(t, database.RunMigrations(db.DB, database.DialectSQLite))
	assert.True(t, tableExists(t, db, "users"))
}

func TestMigrateDown(t *testing.T) {
	db := openMemory(t)

	require.NoError(t, database.MigrateDown(db.DB, database.DialectSQLite))

	assert.False(t, tableExists(t, db, "refresh_tokens"))
}

func TestClose_Nil(t *testing.T) {
	assert.NoError(t, database.Close(nil))
}
