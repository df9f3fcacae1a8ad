package cmd

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	gcsclient "cloud.google.com/go/storage"
	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/webharvest/internal/browser"
	"github.com/JakeFAU/webharvest/internal/config"
	"github.com/JakeFAU/webharvest/internal/download"
	"github.com/JakeFAU/webharvest/internal/metrics"
	"github.com/JakeFAU/webharvest/internal/ops"
	"github.com/JakeFAU/webharvest/internal/parse"
	"github.com/JakeFAU/webharvest/internal/pipeline"
	"github.com/JakeFAU/webharvest/internal/queue/memory"
	"github.com/JakeFAU/webharvest/internal/queue/pubsub"
	"github.com/JakeFAU/webharvest/internal/seenset"
	"github.com/JakeFAU/webharvest/internal/store/archive"
	"github.com/JakeFAU/webharvest/internal/store/extract"
	"github.com/JakeFAU/webharvest/internal/store/gcs"
)

// pipelineSet bundles the constructed collaborators with their teardown.
type pipelineSet struct {
	browser      *browser.Browser
	browseQueue  pipeline.Queue
	harvestQueue pipeline.Queue
	harvestStore pipeline.HarvestStore

	closers []func() error
}

func (p *pipelineSet) close(logger *zap.Logger) {
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			logger.Warn("teardown failed", zap.Error(err))
		}
	}
}

// statusFunc builds the /statusz snapshot for the ops server.
func (p *pipelineSet) statusFunc(ctx context.Context, phase string) ops.StatusFunc {
	return func() ops.Status {
		st := ops.Status{RunID: p.browser.RunID(), Phase: phase}
		if n, err := p.browseQueue.Len(ctx); err == nil {
			st.BrowseDepth = n
		}
		if n, err := p.harvestQueue.Len(ctx); err == nil {
			st.HarvestDepth = n
		}
		st.StoredPages = p.harvestStore.Len()
		return st
	}
}

// buildPipeline assembles the full pipeline from config. The extract sink is
// only constructed when needExtract is set, so browse and harvest runs don't
// open record files or database pools they never write to.
func buildPipeline(ctx context.Context, cfg config.Config, logger *zap.Logger, needExtract bool) (*pipelineSet, error) {
	set := &pipelineSet{}

	browseSeen, err := buildSeenSet(ctx, cfg.Queue, "browse_seen", set)
	if err != nil {
		return nil, err
	}
	harvestSeen, err := buildSeenSet(ctx, cfg.Queue, "harvest_seen", set)
	if err != nil {
		return nil, err
	}

	set.browseQueue, err = buildQueue(ctx, cfg.Queue, "browse", browseSeen, logger, set)
	if err != nil {
		return nil, err
	}
	set.harvestQueue, err = buildQueue(ctx, cfg.Queue, "harvest", harvestSeen, logger, set)
	if err != nil {
		return nil, err
	}

	downloader, err := buildDownloader(cfg, logger)
	if err != nil {
		return nil, err
	}

	set.harvestStore, err = buildHarvestStore(ctx, cfg.Harvest, logger, set)
	if err != nil {
		return nil, err
	}

	var extractStore pipeline.ExtractStore
	if needExtract {
		extractStore, err = buildExtractStore(ctx, cfg.Extract, set)
		if err != nil {
			return nil, err
		}
	}

	var stop pipeline.StopPredicate
	if cfg.Crawl.StopSelector != "" {
		stop = parse.StopOnSelector(cfg.Crawl.StopSelector)
	}

	set.browser, err = browser.New(browser.Config{BaseURL: cfg.Crawl.BaseURL}, browser.Deps{
		BrowseQueue:  set.browseQueue,
		HarvestQueue: set.harvestQueue,
		Downloader:   downloader,
		HarvestStore: set.harvestStore,
		ExtractStore: extractStore,
		Browsable:    parse.NewAnchorExtractor(cfg.Crawl.BrowseSelector),
		Harvestable:  buildHarvestable(cfg.Crawl),
		Stop:         stop,
		Records:      parse.MetadataExtractor{},
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}

func buildSeenSet(ctx context.Context, cfg config.QueueConfig, name string, set *pipelineSet) (seenset.Set, error) {
	switch cfg.SeenSet {
	case "memory":
		return seenset.NewMemory(), nil
	case "sqlite":
		// One database file per queue keeps browse and harvest dedup
		// independent.
		ext := filepath.Ext(cfg.SQLitePath)
		path := strings.TrimSuffix(cfg.SQLitePath, ext) + "_" + name + ext
		s, err := seenset.NewSQLite(path)
		if err != nil {
			return nil, err
		}
		set.closers = append(set.closers, s.Close)
		return s, nil
	case "postgres":
		s, err := seenset.NewPostgres(ctx, seenset.PostgresConfig{
			DSN:   cfg.PostgresDSN,
			Table: name,
		})
		if err != nil {
			return nil, err
		}
		set.closers = append(set.closers, func() error { s.Close(); return nil })
		return s, nil
	default:
		return nil, fmt.Errorf("unknown queue.seen_set %q", cfg.SeenSet)
	}
}

func buildQueue(ctx context.Context, cfg config.QueueConfig, name string, seen seenset.Set, logger *zap.Logger, set *pipelineSet) (pipeline.Queue, error) {
	switch cfg.Backend {
	case "memory":
		return memory.New(name, seen, logger), nil
	case "pubsub":
		qcfg := pubsub.Config{ProjectID: cfg.PubSub.ProjectID}
		if name == "browse" {
			qcfg.Topic = cfg.PubSub.BrowseTopic
			qcfg.Subscription = cfg.PubSub.BrowseSubscription
		} else {
			qcfg.Topic = cfg.PubSub.HarvestTopic
			qcfg.Subscription = cfg.PubSub.HarvestSubscription
		}
		q, err := pubsub.New(ctx, qcfg, seen, logger)
		if err != nil {
			return nil, err
		}
		set.closers = append(set.closers, q.Close)
		return q, nil
	default:
		return nil, fmt.Errorf("unknown queue.backend %q", cfg.Backend)
	}
}

func buildDownloader(cfg config.Config, logger *zap.Logger) (pipeline.Downloader, error) {
	var (
		transport download.Transport
		err       error
	)
	switch cfg.Download.Profile {
	case "http":
		transport, err = download.NewCollyTransport(download.CollyConfig{
			UserAgent: cfg.Download.UserAgent,
			Timeout:   cfg.Download.Timeout,
			Proxies:   cfg.Download.Proxies,
		})
	case "tor":
		transport, err = download.NewTorTransport(download.TorConfig{
			SocksAddr:          cfg.Download.Tor.SocksAddr,
			ControlAddr:        cfg.Download.Tor.ControlAddr,
			ControlPassword:    cfg.Download.Tor.ControlPassword,
			MaxCircuitRequests: cfg.Download.Tor.MaxCircuitRequests,
			UserAgent:          cfg.Download.UserAgent,
		}, logger)
	case "headless":
		transport, err = download.NewHeadlessTransport(download.HeadlessConfig{
			UserAgent:         cfg.Download.UserAgent,
			NavigationTimeout: cfg.Download.Headless.NavigationTimeout,
			SettleWait:        cfg.Download.Headless.SettleWait,
		})
	default:
		return nil, fmt.Errorf("unknown download.profile %q", cfg.Download.Profile)
	}
	if err != nil {
		return nil, err
	}

	timeout := cfg.Download.Timeout
	if cfg.Download.Profile == "headless" {
		// A rendering fetch can legitimately outlive the plain HTTP
		// timeout; bound attempts by the navigation budget instead.
		timeout = cfg.Download.Headless.NavigationTimeout + cfg.Download.Headless.SettleWait + 5*time.Second
	}
	return download.New(download.Config{
		BaseURL:       cfg.Crawl.BaseURL,
		UserAgent:     cfg.Download.UserAgent,
		MaxRetries:    cfg.Download.MaxRetries,
		BackoffFactor: cfg.Download.BackoffFactor,
		Timeout:       timeout,
		Delay:         cfg.Download.Delay,
		IgnoreRobots:  cfg.Download.IgnoreRobots,
	}, transport, logger)
}

func buildHarvestStore(ctx context.Context, cfg config.HarvestConfig, logger *zap.Logger, set *pipelineSet) (pipeline.HarvestStore, error) {
	switch cfg.Backend {
	case "archive":
		s, err := archive.New(archive.Config{
			Dir:          cfg.Dir,
			Prefix:       cfg.Prefix,
			UnitCapBytes: cfg.UnitCapBytes,
		}, logger)
		if err != nil {
			return nil, err
		}
		set.closers = append(set.closers, s.Close)
		return s, nil
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		set.closers = append(set.closers, client.Close)
		return gcs.New(ctx, client, gcs.Config{
			Bucket: cfg.Bucket,
			Prefix: cfg.Prefix,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown harvest.backend %q", cfg.Backend)
	}
}

func buildExtractStore(ctx context.Context, cfg config.ExtractConfig, set *pipelineSet) (pipeline.ExtractStore, error) {
	switch cfg.Backend {
	case "jsonl":
		s, err := extract.NewJSONL(cfg.Path)
		if err != nil {
			return nil, err
		}
		set.closers = append(set.closers, s.Close)
		return s, nil
	case "csv":
		s, err := extract.NewCSV(cfg.Path, cfg.Columns)
		if err != nil {
			return nil, err
		}
		set.closers = append(set.closers, s.Close)
		return s, nil
	case "postgres":
		s, err := extract.NewPostgres(ctx, extract.PostgresConfig{
			DSN:   cfg.PostgresDSN,
			Table: cfg.Table,
		})
		if err != nil {
			return nil, err
		}
		set.closers = append(set.closers, func() error { s.Close(); return nil })
		return s, nil
	default:
		return nil, fmt.Errorf("unknown extract.backend %q", cfg.Backend)
	}
}

func buildHarvestable(cfg config.CrawlConfig) pipeline.LinkExtractor {
	anchors := parse.NewAnchorExtractor(cfg.HarvestSelector)
	if !cfg.HarvestSelf {
		return anchors
	}
	return pipeline.LinkExtractorFunc(func(pageURL string, doc *goquery.Document) []string {
		return append([]string{pageURL}, anchors.Links(pageURL, doc)...)
	})
}

// runWithOps runs fn while the ops server serves health, status, and metrics.
// The server stops when fn returns or the context is canceled.
func runWithOps(ctx context.Context, cfg config.OpsConfig, logger *zap.Logger, status ops.StatusFunc, fn func(context.Context) error) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	server := ops.New(logger, metrics.Handler(), status)
	opsDone := make(chan error, 1)
	go func() {
		err := server.ListenAndServe(runCtx, cfg.Addr)
		if err != nil && err != http.ErrServerClosed {
			opsDone <- err
			return
		}
		opsDone <- nil
	}()

	err := fn(runCtx)
	cancel()
	if opsErr := <-opsDone; opsErr != nil && err == nil {
		err = opsErr
	}
	return err
}
