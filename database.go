package auth

import (
	"context"
	"database/sql"
	"strings"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"

	"github.com/goliatone/go-account-auth/migrations"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	Driver string `env:"DATABASE_DRIVER" envDefault:"sqlite"`
	DSN    string `env:"DATABASE_DSN" envDefault:"file:authd.db?cache=shared&_pragma=foreign_keys(1)"`
	Debug  bool   `env:"DATABASE_DEBUG" envDefault:"false"`
}

// LoadDatabaseConfigFromEnv reads the DATABASE_* variables.
func LoadDatabaseConfigFromEnv() (DatabaseConfig, error) {
	var cfg DatabaseConfig
	if err := env.Parse(&cfg); err != nil {
		return DatabaseConfig{}, goerrors.Wrap(err, goerrors.CategoryValidation, "failed to parse database config")
	}
	return cfg, cfg.Validate()
}

func (c DatabaseConfig) Validate() error {
	return validationError(validation.ValidateStruct(&c,
		validation.Field(&c.Driver, validation.Required, validation.In(DriverSQLite, DriverPostgres)),
		validation.Field(&c.DSN, validation.Required),
	))
}

// MigrationDialect returns the goose dialect for the driver.
func (c DatabaseConfig) MigrationDialect() migrations.Dialect {
	if c.Driver == DriverPostgres {
		return migrations.DialectPostgres
	}
	return migrations.DialectSQLite
}

// OpenDatabase opens the configured database as a *bun.DB. sqlite goes
// through sqliteshim, postgres through the pgx stdlib driver.
func OpenDatabase(cfg DatabaseConfig) (*bun.DB, error) {
	var (
		db  *bun.DB
		err error
	)

	switch strings.ToLower(cfg.Driver) {
	case DriverPostgres:
		var sqldb *sql.DB
		if sqldb, err = sql.Open("pgx", cfg.DSN); err == nil {
			db = bun.NewDB(sqldb, pgdialect.New())
		}
	case DriverSQLite, "":
		var sqldb *sql.DB
		if sqldb, err = sql.Open(sqliteshim.ShimName, cfg.DSN); err == nil {
			// sqlite allows a single writer
			sqldb.SetMaxOpenConns(1)
			db = bun.NewDB(sqldb, sqlitedialect.New())
		}
	default:
		return nil, newKindError(KindInvalidInput, "unsupported database driver", map[string]any{"driver": cfg.Driver})
	}
	if err != nil {
		return nil, wrapKind(err, KindInternal, "failed to open database")
	}

	if cfg.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}

	return db, nil
}

// MigrateDatabase pings db and applies pending migrations.
func MigrateDatabase(ctx context.Context, db *bun.DB, cfg DatabaseConfig) error {
	if err := db.PingContext(ctx); err != nil {
		return wrapKind(err, KindInternal, "database is not reachable")
	}
	return migrations.Up(ctx, db.DB, cfg.MigrationDialect())
}
