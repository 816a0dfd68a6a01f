package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quantfeed/newswire/internal/app"
)

// newRunCmd creates the run subcommand, which starts the full pipeline and
// blocks until a signal arrives or a bounded run finishes.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the crawl pipeline until interrupted.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() {
				_ = logger.Sync()
			}()

			pipeline, err := app.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("build pipeline: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return pipeline.Run(ctx)
		},
	}
}
