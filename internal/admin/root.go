// Package admin implements the sqlassist-admin command line.
package admin

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/malbeclabs/sqlassist/internal/app"
	"github.com/malbeclabs/sqlassist/internal/logger"
)

type ExitCode int

const (
	exitCodeSuccess = 0
	exitCodeError   = 1
)

func Run() ExitCode {
	if err := NewRootCmd().Execute(); err != nil {
		return exitCodeError
	}
	return exitCodeSuccess
}

// options is shared by every subcommand through the root's persistent flags.
type options struct {
	verbose bool
	cfg     app.Config
}

func NewRootCmd() *cobra.Command {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:           "sqlassist-admin",
		Short:         "Administer and exercise a sqlassist deployment.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			_ = godotenv.Load()
			return app.ApplyEnv(cmd.Root().PersistentFlags())
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cmd.Help(); err != nil {
				return fmt.Errorf("failed to show help: %w", err)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "set debug logging level")
	opts.cfg.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		newMigrateCmd(opts),
		newCheckSQLCmd(opts),
		newExecCmd(opts),
		newAskCmd(opts),
		newSchemaCmd(opts),
		newIndexCmd(opts),
	)
	return rootCmd
}

// open connects the configured components. Logs go to stderr so command output stays clean.
func (o *options) open(cmd *cobra.Command) (context.Context, *app.App, *slog.Logger, func(), error) {
	log := logger.NewWithWriter(os.Stderr, o.verbose)
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	a, err := app.Open(ctx, log, o.cfg)
	if err != nil {
		cancel()
		return nil, nil, nil, nil, err
	}
	return ctx, a, log, func() { a.Close(); cancel() }, nil
}
