package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/medical-decision-assistant/internal/api"
	"github.com/medical-decision-assistant/internal/app"
	"github.com/medical-decision-assistant/internal/database"
)

func serveCmd() *cobra.Command {
	var migrateFirst bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, logger, closer, err := loadConfig()
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg := manager.GetConfig()
			if migrateFirst && cfg.Database.Enabled() {
				runner, err := database.NewMigrationRunner(database.ConfigFromDomain(cfg.Database).URL(), logger)
				if err != nil {
					return err
				}
				err = runner.Up(ctx)
				runner.Close()
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
			}

			application, err := app.New(ctx, cfg, manager.IndexPath(), logger)
			if err != nil {
				return err
			}
			defer application.Close()

			return api.NewServer(manager, application.Deps, logger).Start(ctx)
		},
	}
	cmd.Flags().BoolVar(&migrateFirst, "migrate", false, "Apply pending database migrations before serving")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}

	run := func(action func(ctx context.Context, runner *database.MigrationRunner) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			manager, logger, closer, err := loadConfig()
			if err != nil {
				return err
			}
			defer closer.Close()

			dbConfig := manager.GetConfig().Database
			if !dbConfig.Enabled() {
				return fmt.Errorf("no database configured (set database.host)")
			}

			runner, err := database.NewMigrationRunner(database.ConfigFromDomain(dbConfig).URL(), logger)
			if err != nil {
				return err
			}
			defer runner.Close()
			return action(cmd.Context(), runner)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: run(func(ctx context.Context, runner *database.MigrationRunner) error {
			return runner.Up(ctx)
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: run(func(ctx context.Context, runner *database.MigrationRunner) error {
			return runner.Down(ctx)
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the current schema version",
		RunE: run(func(ctx context.Context, runner *database.MigrationRunner) error {
			version, dirty, err := runner.Version()
			if err != nil {
				return err
			}
			fmt.Printf("version %d (dirty: %t)\n", version, dirty)
			return nil
		}),
	})

	return cmd
}
