package identity

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/goliatone/go-identity/migrations"
)

// OpenDB opens the configured database and wraps it with the matching bun dialect.
func OpenDB(cfg DatabaseConfig) (*bun.DB, error) {
	switch cfg.Driver {
	case "", "sqlite":
		sqldb, err := sql.Open(sqliteshim.ShimName, cfg.DSN)
		if err != nil {
			return nil, err
		}
		// SQLite allows a single writer.
		sqldb.SetMaxOpenConns(1)
		db := bun.NewDB(sqldb, sqlitedialect.New())
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			_ = db.Close()
			return nil, err
		}
		return db, nil
	case "postgres":
		sqldb, err := sql.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, err
		}
		return bun.NewDB(sqldb, pgdialect.New()), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Migrate applies the schema migrations for the dialect of db.
func Migrate(ctx context.Context, db *bun.DB) error {
	name := migrations.DialectSQLite
	if db.Dialect().Name() == dialect.PG {
		name = migrations.DialectPostgres
	}
	return migrations.Up(ctx, db.DB, name)
}
