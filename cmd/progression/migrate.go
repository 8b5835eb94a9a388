package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/alem-hub/progression-hub/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/progression-hub/pkg/logger"
)

// errNoDatabase возвращается командами, которым нужен PostgreSQL.
var errNoDatabase = errors.New("DATABASE_URL is not set")

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), opts, func(ctx context.Context, m *postgres.Migrator, log *logger.Logger) error {
				n, err := m.Migrate(ctx)
				if err != nil {
					return err
				}
				log.Info("migrations applied", logger.Int("count", n))
				return nil
			})
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(cmd.Context(), opts, func(ctx context.Context, m *postgres.Migrator, log *logger.Logger) error {
					if err := m.Rollback(ctx); err != nil {
						return err
					}
					log.Info("rolled back one migration")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List migrations and whether they are applied",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(cmd.Context(), opts, func(ctx context.Context, m *postgres.Migrator, _ *logger.Logger) error {
					migrations, err := m.Status(ctx)
					if err != nil {
						return err
					}
					return printMigrations(cmd.OutOrStdout(), migrations)
				})
			},
		},
	)
	return cmd
}

func withMigrator(ctx context.Context, opts *rootOptions, fn func(context.Context, *postgres.Migrator, *logger.Logger) error) error {
	cfg, log, err := opts.load()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if cfg.Database.URL == "" {
		return errNoDatabase
	}
	conn, err := postgres.Connect(ctx, cfg.Database.URL, poolSettings(cfg.Database))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close()

	return fn(ctx, postgres.NewMigrator(conn), log)
}

func printMigrations(w io.Writer, migrations []postgres.Migration) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED")
	for _, m := range migrations {
		applied := "pending"
		if m.IsApplied {
			applied = m.AppliedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", m.Version, m.Name, applied)
	}
	return tw.Flush()
}
