package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tunepull/internal/app"
	"tunepull/internal/config"
)

// newServeCmd creates the 'serve' subcommand. It builds the application
// from configuration and runs it until interrupted.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Starts the download service",
		Long: `Starts the HTTP API, the extraction worker pool, and the session
reaper. The process runs until it receives SIGINT or SIGTERM, then shuts
down gracefully.`,
		RunE: runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}

	return a.Run(ctx)
}
