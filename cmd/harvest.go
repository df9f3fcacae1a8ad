package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newHarvestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "harvest",
		Short: "Download the queued pages into the harvest store",
		Long: `Harvest drains the harvest queue, downloading each page and appending it
to the configured harvest store keyed by its page id. Several harvest
processes can drain one distributed queue concurrently.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			set, err := buildPipeline(cmd.Context(), cfg, logger, false)
			if err != nil {
				return err
			}
			defer set.close(logger)

			status := set.statusFunc(cmd.Context(), "harvest")
			return runWithOps(cmd.Context(), cfg.Ops, logger, status, func(ctx context.Context) error {
				logger.Info("harvest phase starting", zap.String("backend", cfg.Harvest.Backend))
				return set.browser.Harvest(ctx)
			})
		},
	}
}
