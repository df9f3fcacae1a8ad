package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCrawlCmd() *cobra.Command {
	var (
		initial     string
		withExtract bool
	)
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Browse and harvest a site in one process",
		Long: `Crawl runs the browse and harvest phases back to back on one shared
pipeline, so the harvest queue filled by browsing is drained in the same
process. This is the way to run the default in-memory queue backend, whose
queues do not survive process exit. With --extract the harvested pages are
also replayed into the extract store before the command returns.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			set, err := buildPipeline(cmd.Context(), cfg, logger, withExtract)
			if err != nil {
				return err
			}
			defer set.close(logger)

			status := set.statusFunc(cmd.Context(), "crawl")
			return runWithOps(cmd.Context(), cfg.Ops, logger, status, func(ctx context.Context) error {
				logger.Info("crawl starting", zap.String("base_url", cfg.Crawl.BaseURL))
				if err := set.browser.Browse(ctx, initial); err != nil {
					return err
				}
				if err := set.browser.Harvest(ctx); err != nil {
					return err
				}
				if !withExtract {
					return nil
				}
				return set.browser.Extract(ctx)
			})
		},
	}
	cmd.Flags().StringVar(&initial, "initial", "", "URL to start browsing from instead of crawl.base_url")
	cmd.Flags().BoolVar(&withExtract, "extract", false, "also run the extract phase after harvesting")
	return cmd
}
