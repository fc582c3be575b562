// Package cmd defines the CLI commands for the tunepull executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tunepull",
		Short: "A multiuser audio extraction service.",
		Long: `tunepull runs an HTTP service that accepts media URLs, extracts
their audio with yt-dlp, and tracks per-session download jobs with live
progress reporting.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is built-in defaults plus TUNEPULL_* env vars)")

	cmd.AddCommand(newServeCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
