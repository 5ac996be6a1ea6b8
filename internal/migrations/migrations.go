// Package migrations embeds the goose-managed Postgres schema, the
// production counterpart to script/postgres's inline dev bootstrap: a
// fresh database run through Up ends up with the same tables that
// bootstrap() creates, but versioned and reversible.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed sql/*.sql
var FS embed.FS

// Up applies all pending migrations against db, which must already be
// opened against the target Postgres database.
func Up(db *sql.DB) error {
	goose.SetBaseFS(FS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("migrations: set dialect: %w", err)
	}
	if err := goose.Up(db, "sql"); err != nil {
		return fmt.Errorf("migrations: up: %w", err)
	}
	return nil
}

// Down rolls back the most recently applied migration.
func Down(db *sql.DB) error {
	goose.SetBaseFS(FS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("migrations: set dialect: %w", err)
	}
	if err := goose.Down(db, "sql"); err != nil {
		return fmt.Errorf("migrations: down: %w", err)
	}
	return nil
}

// Status reports the current applied version and the highest version
// available in the embedded migration set.
func Status(db *sql.DB) (current, latest int64, err error) {
	goose.SetBaseFS(FS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("postgres"); err != nil {
		return 0, 0, fmt.Errorf("migrations: set dialect: %w", err)
	}
	current, err = goose.GetDBVersion(db)
	if err != nil {
		return 0, 0, fmt.Errorf("migrations: get version: %w", err)
	}
	migs, err := goose.CollectMigrations("sql", 0, goose.MaxVersion)
	if err != nil {
		return current, 0, fmt.Errorf("migrations: collect: %w", err)
	}
	if len(migs) > 0 {
		latest = migs[len(migs)-1].Version
	}
	return current, latest, nil
}
