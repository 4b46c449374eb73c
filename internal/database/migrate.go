// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package database

import (
	"database/sql"
	"embed"
	"path"

	"github.com/pressly/goose/v3"
)

// Dialect selects the migration set and the goose dialect.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var embedMigrations embed.FS

func (d Dialect) gooseDialect() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite3"
}

func (d Dialect) dir() string {
	return path.Join("migrations", string(d))
}

func prepare(d Dialect) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())
	return goose.SetDialect(d.gooseDialect())
}

// RunMigrations runs all pending goose migrations.
func RunMigrations(db *sql.DB, d Dialect) error {
	if err := prepare(d); err != nil {
		return err
	}
	return goose.Up(db, d.dir())
}

// MigrateDown rolls back the last migration.
func MigrateDown(db *sql.DB, d Dialect) error {
	if err := prepare(d); err != nil {
		return err
	}
	return goose.Down(db, d.dir())
}

// MigrateReset rolls back all migrations.
func MigrateReset(db *sql.DB, d Dialect) error {
	if err := prepare(d); err != nil {
		return err
	}
	return goose.Reset(db, d.dir())
}
