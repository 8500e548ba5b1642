// Package migrations embeds the SQL schema for the accounts store and applies
// it with goose.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"sync"

	goerrors "github.com/goliatone/go-errors"
	"github.com/pressly/goose/v3"
)

//go:embed *.sql
var files embed.FS

// Dialect names the goose dialect used to track applied versions.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

// goose keeps its base FS and dialect in package state
var mu sync.Mutex

// Up applies every pending migration.
func Up(ctx context.Context, db *sql.DB, dialect Dialect) error {
	mu.Lock()
	defer mu.Unlock()

	if err := configure(dialect); err != nil {
		return err
	}

	if err := goose.UpContext(ctx, db, "."); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to apply migrations")
	}
	return nil
}

// Down rolls back the most recent migration.
func Down(ctx context.Context, db *sql.DB, dialect Dialect) error {
	mu.Lock()
	defer mu.Unlock()

	if err := configure(dialect); err != nil {
		return err
	}

	if err := goose.DownContext(ctx, db, "."); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to roll back migration")
	}
	return nil
}

// Version returns the current schema version.
func Version(ctx context.Context, db *sql.DB, dialect Dialect) (int64, error) {
	mu.Lock()
	defer mu.Unlock()

	if err := configure(dialect); err != nil {
		return 0, err
	}
	return goose.GetDBVersionContext(ctx, db)
}

func configure(dialect Dialect) error {
	goose.SetBaseFS(files)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(string(dialect)); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "unsupported migration dialect").
			WithMetadata(map[string]any{"dialect": dialect})
	}
	return nil
}
