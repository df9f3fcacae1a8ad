package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newBrowseCmd() *cobra.Command {
	var initial string
	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Walk the site and queue the pages worth harvesting",
		Long: `Browse walks the configured site breadth first from the base URL (or
--initial), following links matched by crawl.browse_selector. Links matched by
crawl.harvest_selector are queued for the harvest phase. Browsing ends when
the queue drains or a page matches crawl.stop_selector.`,
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

			status := set.statusFunc(cmd.Context(), "browse")
			return runWithOps(cmd.Context(), cfg.Ops, logger, status, func(ctx context.Context) error {
				logger.Info("browse phase starting", zap.String("base_url", cfg.Crawl.BaseURL))
				return set.browser.Browse(ctx, initial)
			})
		},
	}
	cmd.Flags().StringVar(&initial, "initial", "", "URL to start browsing from instead of crawl.base_url")
	return cmd
}
