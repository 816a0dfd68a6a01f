// Package cmd wires the command-line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quantfeed/newswire/internal/config"
	"github.com/quantfeed/newswire/internal/logging"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "newswire",
		Short: "Adaptive news crawler and market-analysis pipeline.",
		Long: `newswire discovers breaking financial news from RSS feeds and portal
pages, fetches articles through fingerprinted headless-browser sessions with
adaptive pacing, extracts market signals with a local language model, and
writes batched parquet or CSV output.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	cmd.AddCommand(newRunCmd())

	return cmd
}

// setup loads configuration and builds the shared logger.
func setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
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

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "newswire: %v\n", err)
		os.Exit(1)
	}
}
