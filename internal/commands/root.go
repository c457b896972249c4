// Package commands implements the reconciler command line.
package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/FACorreiaa/ledger-reconciler/cmd/api"
	"github.com/FACorreiaa/ledger-reconciler/pkg/config"
)

// Version is overridden at build time with -ldflags.
var Version = "dev"

type globalOptions struct {
	userID   string
	envFile  string
	logLevel string
	output   string
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:     "reconciler",
		Short:   "Bank statement ingestion and ledger reconciliation",
		Version: Version,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("loading %s: %w", opts.envFile, err)
			}
			switch opts.output {
			case "json", "text":
			default:
				return fmt.Errorf("unknown output format %q (want json or text)", opts.output)
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.userID, "user", "", "user id (uuid) to act on, defaults to $RECONCILER_USER_ID")
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before configuration")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	flags.StringVarP(&opts.output, "output", "o", "json", "output format: json or text")

	rootCmd.AddCommand(
		newIngestCommand(opts),
		newDedupeCommand(opts),
		newReconcileCommand(opts),
		newSeedCommand(opts),
		newBatchesCommand(opts),
		newMigrateCommand(opts),
	)

	return rootCmd
}

func (o *globalOptions) requireUser() (uuid.UUID, error) {
	if o.userID == "" {
		o.userID = os.Getenv("RECONCILER_USER_ID")
	}
	if o.userID == "" {
		return uuid.Nil, errors.New("--user is required (or set RECONCILER_USER_ID)")
	}
	id, err := uuid.Parse(o.userID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parsing --user: %w", err)
	}
	return id, nil
}

func (o *globalOptions) logger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(o.logLevel)); err != nil {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// withDependencies loads configuration, wires the application and runs fn.
func (o *globalOptions) withDependencies(cmd *cobra.Command, fn func(context.Context, *api.Dependencies) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	deps, err := api.InitDependencies(ctx, cfg, o.logger(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer deps.Cleanup()

	return fn(ctx, deps)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
