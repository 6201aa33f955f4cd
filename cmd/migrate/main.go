// Package main provides a CLI tool for database migrations.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/clinical-trial-extractor/internal/config"
	"github.com/helixir/clinical-trial-extractor/internal/database"
	"github.com/helixir/clinical-trial-extractor/internal/observability"
)

const connectTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// migrateFunc performs one action against an open migrator.
type migrateFunc func(m *database.Migrator, logger zerolog.Logger) error

func newRootCmd() *cobra.Command {
	var migrationsPath string

	root := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the clinical-trial-extractor database schema",
		Long: `migrate applies and rolls back the SQL migrations of the articles store.

Database settings come from config.yaml and CTEXTRACT_DATABASE_* environment
variables; the password only from CTEXTRACT_DATABASE_PASSWORD.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&migrationsPath, "path", "", "override the migrations directory path")

	run := func(cmd *cobra.Command, fn migrateFunc) error {
		return withMigrator(cmd.Context(), migrationsPath, fn)
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd, func(m *database.Migrator, logger zerolog.Logger) error {
					if err := m.Up(); err != nil {
						return fmt.Errorf("migrate up: %w", err)
					}
					printVersion(m, logger)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back all migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd, func(m *database.Migrator, logger zerolog.Logger) error {
					if err := m.Down(); err != nil {
						return fmt.Errorf("migrate down: %w", err)
					}
					printVersion(m, logger)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "steps N",
			Short: "Run N migration steps (positive=up, negative=down)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := parseSteps(args[0])
				if err != nil {
					return err
				}
				return run(cmd, func(m *database.Migrator, logger zerolog.Logger) error {
					if err := m.Steps(n); err != nil {
						return fmt.Errorf("migrate steps: %w", err)
					}
					printVersion(m, logger)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current migration version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd, func(m *database.Migrator, logger zerolog.Logger) error {
					printVersion(m, logger)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "force V",
			Short: "Force set migration version (use to recover from failed migrations)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := parseForceVersion(args[0])
				if err != nil {
					return err
				}
				return run(cmd, func(m *database.Migrator, logger zerolog.Logger) error {
					if err := m.Force(v); err != nil {
						return fmt.Errorf("force version: %w", err)
					}
					printVersion(m, logger)
					return nil
				})
			},
		},
	)

	return root
}

func parseSteps(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("steps must be an integer: %q", arg)
	}
	if n == 0 {
		return 0, fmt.Errorf("steps must not be zero")
	}
	return n, nil
}

func parseForceVersion(arg string) (int, error) {
	v, err := strconv.Atoi(arg)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("version must be a non-negative integer: %q", arg)
	}
	return v, nil
}

// withMigrator connects to the database, builds a migrator over the
// configured (or overridden) migrations directory and runs fn.
func withMigrator(ctx context.Context, pathOverride string, fn migrateFunc) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.LoadDatabase()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging with console output for the CLI tool.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		AddSource:  false,
		TimeFormat: time.RFC3339,
	})
	logger = logger.With().Str("component", "migrate").Logger()

	migrationDir := cfg.Database.MigrationPath
	if pathOverride != "" {
		migrationDir = pathOverride
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	db, err := database.New(connectCtx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	migrator, err := database.NewMigrator(db, migrationDir, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	return fn(migrator, logger)
}

// printVersion logs the current migration version.
func printVersion(migrator *database.Migrator, logger zerolog.Logger) {
	v, dirty, err := migrator.Version()
	if err != nil {
		logger.Warn().Err(err).Msg("could not determine migration version")
		return
	}
	logger.Info().
		Uint("version", v).
		Bool("dirty", dirty).
		Msg("current migration version")
}
