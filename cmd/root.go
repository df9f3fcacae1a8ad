// Package cmd defines the CLI commands for the webharvest executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/webharvest/internal/config"
	"github.com/JakeFAU/webharvest/internal/logging"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webharvest",
		Short: "A three-phase web crawling pipeline.",
		Long: `webharvest crawls a website in three separable phases: browse walks the
site and queues the pages worth keeping, harvest downloads those pages into an
archive, and extract turns the archived pages into structured records. Each
phase can run on its own, resume after a crash, and fan out across machines
through distributed queue and store backends. The crawl command runs browse
and harvest (optionally extract) together in one process for local runs.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default ./webharvest.yaml, $HOME/.webharvest, /etc/webharvest)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newBrowseCmd())
	cmd.AddCommand(newHarvestCmd())
	cmd.AddCommand(newExtractCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

// setup loads config and builds the logger shared by every subcommand.
func setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, logger, nil
}

// Execute is the main entry point. Commands run until completion or until
// SIGINT/SIGTERM cancels their context.
func Execute() {
	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
