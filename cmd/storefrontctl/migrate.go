package main

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hanko-field/storefront/internal/platform/config"
	"github.com/hanko-field/storefront/internal/repositories/postgres"
)

func migrateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withDB(cmd, func(db *sql.DB) error {
				if err := postgres.MigrateUp(db); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if steps < 0 {
				return fmt.Errorf("--steps must not be negative")
			}
			return a.withDB(cmd, func(db *sql.DB) error {
				if err := postgres.MigrateDown(db, steps); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations rolled back")
				return nil
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back; 0 rolls back everything")

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withDB(cmd, func(db *sql.DB) error {
				v, dirty, err := postgres.MigrationVersion(db)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d dirty=%t\n", v, dirty)
				return nil
			})
		},
	}

	cmd.AddCommand(up, down, version)
	return cmd
}

func (a *app) withDB(cmd *cobra.Command, fn func(db *sql.DB) error) error {
	ctx := cmd.Context()
	cfg, err := a.loadConfig(ctx, a.envFile)
	if err != nil {
		return err
	}
	if cfg.Storage.Driver != config.DriverPostgres {
		return fmt.Errorf("migrations need STOREFRONT_STORAGE_DRIVER=postgres, got %q", cfg.Storage.Driver)
	}
	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}
