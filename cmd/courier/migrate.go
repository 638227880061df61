package main

import (
	"errors"
	"fmt"

	"github.com/bissquit/courier/internal/pkg/postgres"
	"github.com/bissquit/courier/migrations"
	"github.com/spf13/cobra"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(_ *cobra.Command, _ []string) error {
			url, err := databaseURL(opts)
			if err != nil {
				return err
			}
			return postgres.Migrate(url, migrations.FS)
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(_ *cobra.Command, _ []string) error {
			if steps < 1 {
				return errors.New("--steps must be at least 1")
			}
			url, err := databaseURL(opts)
			if err != nil {
				return err
			}
			return postgres.MigrateDown(url, migrations.FS, steps)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	cmd.AddCommand(down)

	return cmd
}

func databaseURL(opts *rootOptions) (string, error) {
	cfg, err := opts.load()
	if err != nil {
		return "", err
	}
	if cfg.Storage.Driver != "postgres" {
		return "", fmt.Errorf("migrations need the postgres driver, configured driver is %q", cfg.Storage.Driver)
	}
	return cfg.Database.URL, nil
}
