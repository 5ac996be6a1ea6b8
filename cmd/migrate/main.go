// Command migrate applies and inspects the goose-managed Postgres schema.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"scriptforge/internal/config"
	"scriptforge/internal/migrations"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dsn string

	root := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect the scriptforge Postgres schema",
	}
	root.PersistentFlags().StringVar(&dsn, "dsn", "", "Postgres DSN (defaults to DATABASE_URL)")

	root.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(dsn)
			if err != nil {
				return err
			}
			defer db.Close()
			return migrations.Up(db)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recently applied migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(dsn)
			if err != nil {
				return err
			}
			defer db.Close()
			return migrations.Down(db)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show current and latest migration versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(dsn)
			if err != nil {
				return err
			}
			defer db.Close()
			current, latest, err := migrations.Status(db)
			if err != nil {
				return err
			}
			fmt.Printf("current=%d latest=%d\n", current, latest)
			return nil
		},
	})

	return root
}

func openDB(dsn string) (*sql.DB, error) {
	if dsn == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("migrate: load config: %w", err)
		}
		dsn = cfg.DB.DefaultDSN
	}
	if dsn == "" {
		return nil, fmt.Errorf("migrate: no dsn provided (set --dsn or DATABASE_URL)")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("migrate: open: %w", err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: ping: %w", err)
	}
	return db, nil
}
