// Package migrations holds the schema for users, emails, roles, projects
// and invites, applied with goose.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed sql/*.sql
var Migrations embed.FS

const (
	DialectSQLite   = "sqlite3"
	DialectPostgres = "postgres"
)

// goose keeps its base FS and dialect in package globals.
var mu sync.Mutex

// Up applies every pending migration.
func Up(ctx context.Context, db *sql.DB, dialect string) error {
	mu.Lock()
	defer mu.Unlock()

	goose.SetBaseFS(Migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	if err := goose.UpContext(ctx, db, "sql"); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	return nil
}
