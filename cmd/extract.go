package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newExtractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract",
		Short: "Turn the harvested pages into structured records",
		Long: `Extract replays every page in the harvest store through the record
extractor and appends the results to the configured extract store. Pages the
extractor rejects are logged and skipped. With a deterministic extractor the
run is idempotent over the store's contents.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			set, err := buildPipeline(cmd.Context(), cfg, logger, true)
			if err != nil {
				return err
			}
			defer set.close(logger)

			status := set.statusFunc(cmd.Context(), "extract")
			return runWithOps(cmd.Context(), cfg.Ops, logger, status, func(ctx context.Context) error {
				logger.Info("extract phase starting", zap.String("backend", cfg.Extract.Backend))
				return set.browser.Extract(ctx)
			})
		},
	}
}
