// Package cmd holds the CLI surface: run, config and version.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/unsafepay/unsafepay/internal/config"
)

var (
	flagConfig  string
	flagVerbose bool
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unsafepay",
		Short: "Telegram interface to an LND lightning node",
		Long: "Unsafepay bridges a single Telegram chat to an LND node:\n" +
			"invoices, payments, balances and channel listings, guarded by a\n" +
			"one-time pairing handshake.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(flagVerbose)
		},
	}

	cmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "",
		"config file (default "+config.DefaultPath()+")")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false,
		"enable debug logging")

	cmd.AddCommand(runCmd())
	cmd.AddCommand(configCmd())
	cmd.AddCommand(versionCmd())
	return cmd
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

// resolveConfigPath honors --config, falling back to the default
// location under the user's home.
func resolveConfigPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	return config.DefaultPath()
}
