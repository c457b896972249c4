package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/FACorreiaa/ledger-reconciler/cmd/api"
	"github.com/FACorreiaa/ledger-reconciler/pkg/config"
	"github.com/FACorreiaa/ledger-reconciler/pkg/db"
)

func newMigrateCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.withDatabase(cmd, func(ctx context.Context, database *db.DB) error {
					return database.RunMigrations(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.withDatabase(cmd, func(ctx context.Context, database *db.DB) error {
					return database.RollbackMigration(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.withDatabase(cmd, func(ctx context.Context, database *db.DB) error {
					version, err := database.MigrationVersion(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
					return nil
				})
			},
		},
	)

	return cmd
}

// withDatabase opens the pool without running migrations.
func (o *globalOptions) withDatabase(cmd *cobra.Command, fn func(context.Context, *db.DB) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	database, err := api.OpenDatabase(ctx, cfg, o.logger(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer database.Close()

	return fn(ctx, database)
}
