package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/webharvest/internal/metrics"
	"github.com/JakeFAU/webharvest/internal/ops"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run only the operational HTTP server",
		Long: `Serve exposes the health, readiness, status, and Prometheus metrics
endpoints without running any crawl phase. Useful as a sidecar probe target
or for inspecting a host's configuration wiring.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			server := ops.New(logger, metrics.Handler(), nil)
			return server.ListenAndServe(cmd.Context(), cfg.Ops.Addr)
		},
	}
}
