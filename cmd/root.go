// Package cmd defines and implements the CLI commands for the pagepull executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/listinglab/pagepull/internal/config"
	"github.com/listinglab/pagepull/internal/logging"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pagepull",
		Short: "A resumable, fault-tolerant paginated page fetcher.",
		Long: `pagepull walks a website's paginated listing space with a pool of
workers, persisting progress to a fetch ledger so interrupted runs
resume exactly where they left off. When the target site raises a
human-verification challenge, the whole pool pauses until an operator
confirms the challenge has been resolved.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./pagepull.yaml)")

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newFetchCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "pagepull: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file (or defaults) and builds the logger.
func loadConfig() (config.Config, *zap.Logger, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("pagepull.yaml"); err == nil {
			path = "pagepull.yaml"
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return cfg, logger, nil
}
