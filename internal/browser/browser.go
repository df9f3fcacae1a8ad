// Package browser orchestrates the three crawl phases. Browse walks a site
// breadth first and fills the harvest queue; Harvest downloads the queued
// pages into the harvest store; Extract replays the store into structured
// records. Each phase is restartable on its own, so a crawl can browse on one
// day and harvest on another, or fan the harvest out across machines through
// a distributed queue.
package browser

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/webharvest/internal/id/uuid"
	"github.com/JakeFAU/webharvest/internal/metrics"
	"github.com/JakeFAU/webharvest/internal/pageid"
	"github.com/JakeFAU/webharvest/internal/parse"
	"github.com/JakeFAU/webharvest/internal/pipeline"
)

// Config holds the non-collaborator settings.
type Config struct {
	// BaseURL seeds Browse when no initial URL is given.
	BaseURL string
}

// Deps are the injected collaborators. BrowseQueue, HarvestQueue, Downloader,
// HarvestStore, Browsable and Harvestable are required; Parser, Stop and
// PageID have stock defaults. ExtractStore and Records are only required to
// run Extract.
type Deps struct {
	BrowseQueue  pipeline.Queue
	HarvestQueue pipeline.Queue
	Downloader   pipeline.Downloader
	HarvestStore pipeline.HarvestStore
	ExtractStore pipeline.ExtractStore
	Parser       pipeline.Parser
	Browsable    pipeline.LinkExtractor
	Harvestable  pipeline.LinkExtractor
	Stop         pipeline.StopPredicate
	PageID       pipeline.PageIDDeriver
	Records      pipeline.RecordExtractor
	Logger       *zap.Logger
}

// Browser drives the phases. Phases are sequential within one instance;
// concurrency across machines comes from distributed queue and store
// backends, not from goroutines here.
type Browser struct {
	cfg   Config
	deps  Deps
	runID string
}

// New validates the wiring and tags the instance with a fresh run id.
func New(cfg Config, deps Deps) (*Browser, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("crawl.base_url is required")
	}
	if deps.BrowseQueue == nil || deps.HarvestQueue == nil {
		return nil, fmt.Errorf("browse and harvest queues are required")
	}
	if deps.Downloader == nil {
		return nil, fmt.Errorf("downloader is required")
	}
	if deps.HarvestStore == nil {
		return nil, fmt.Errorf("harvest store is required")
	}
	if deps.Browsable == nil || deps.Harvestable == nil {
		return nil, fmt.Errorf("browsable and harvestable link extractors are required")
	}
	if deps.Parser == nil {
		deps.Parser = parse.NewHTMLParser()
	}
	if deps.Stop == nil {
		deps.Stop = parse.NeverStop()
	}
	if deps.PageID == nil {
		deps.PageID = pageid.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	runID, err := uuid.New().NewRunID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	deps.Logger = deps.Logger.With(zap.String("run_id", runID))
	return &Browser{cfg: cfg, deps: deps, runID: runID}, nil
}

// RunID identifies this instance in logs and stored artifacts.
func (b *Browser) RunID() string { return b.runID }

// Browse walks the site breadth first from initial (or the base URL),
// enqueueing harvestable links as it goes. Harvestable links are queued
// before the stop predicate is consulted, so the page that triggers the stop
// still contributes its harvestable links. A true stop predicate ends the
// walk without expanding that page's browsable children.
func (b *Browser) Browse(ctx context.Context, initial string) error {
	log := b.deps.Logger
	if initial == "" {
		initial = b.cfg.BaseURL
	}
	log.Info("start browsing", zap.String("initial", initial))

	if err := b.deps.BrowseQueue.Enqueue(ctx, initial); err != nil {
		return fmt.Errorf("seed browse queue: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		empty, err := b.deps.BrowseQueue.IsEmpty(ctx)
		if err != nil {
			return fmt.Errorf("check browse queue: %w", err)
		}
		if empty {
			break
		}
		current, err := b.deps.BrowseQueue.Dequeue(ctx)
		if errors.Is(err, pipeline.ErrEmptyQueue) {
			continue
		}
		if err != nil {
			return fmt.Errorf("dequeue browse item: %w", err)
		}
		b.reportDepths(ctx)

		res, err := b.deps.Downloader.Download(ctx, current)
		if serr := b.deps.Downloader.Sleep(ctx); serr != nil {
			return serr
		}
		switch {
		case errors.Is(err, pipeline.ErrFetchFailed):
			log.Warn("browse fetch failed, requeueing", zap.String("url", current), zap.Error(err))
			if rerr := b.deps.BrowseQueue.ReEnqueue(ctx, current); rerr != nil {
				return fmt.Errorf("requeue failed browse item: %w", rerr)
			}
			b.ack(ctx, b.deps.BrowseQueue, current)
			continue
		case errors.Is(err, pipeline.ErrScopeRejected), errors.Is(err, pipeline.ErrRobotsDisallowed):
			log.Info("skipping inadmissible url", zap.String("url", current), zap.Error(err))
			b.ack(ctx, b.deps.BrowseQueue, current)
			continue
		case err != nil:
			return fmt.Errorf("download %s: %w", current, err)
		}

		doc, err := b.deps.Parser.Parse(res.Body)
		if err != nil {
			log.Warn("unparseable page, skipping", zap.String("url", res.URL), zap.Error(err))
			b.ack(ctx, b.deps.BrowseQueue, current)
			continue
		}

		for _, link := range b.deps.Harvestable.Links(res.URL, doc) {
			if err := b.deps.HarvestQueue.Enqueue(ctx, link); err != nil {
				return fmt.Errorf("enqueue harvestable %s: %w", link, err)
			}
		}
		metrics.PageBrowsed()

		if b.deps.Stop.Stop(doc) {
			log.Info("stop condition met, finishing browse", zap.String("url", res.URL))
			b.ack(ctx, b.deps.BrowseQueue, current)
			return nil
		}

		for _, link := range b.deps.Browsable.Links(res.URL, doc) {
			if err := b.deps.BrowseQueue.Enqueue(ctx, link); err != nil {
				return fmt.Errorf("enqueue browsable %s: %w", link, err)
			}
		}
		b.ack(ctx, b.deps.BrowseQueue, current)
	}

	log.Info("finished browsing")
	return nil
}

// Harvest drains the harvest queue into the harvest store. Fetch failures go
// back on the queue; store write failures are fatal because retrying against
// broken storage only loses pages.
func (b *Browser) Harvest(ctx context.Context) error {
	log := b.deps.Logger
	log.Info("start harvesting")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		empty, err := b.deps.HarvestQueue.IsEmpty(ctx)
		if err != nil {
			return fmt.Errorf("check harvest queue: %w", err)
		}
		if empty {
			break
		}
		current, err := b.deps.HarvestQueue.Dequeue(ctx)
		if errors.Is(err, pipeline.ErrEmptyQueue) {
			continue
		}
		if err != nil {
			return fmt.Errorf("dequeue harvest item: %w", err)
		}
		b.reportDepths(ctx)

		res, err := b.deps.Downloader.Download(ctx, current)
		if serr := b.deps.Downloader.Sleep(ctx); serr != nil {
			return serr
		}
		switch {
		case errors.Is(err, pipeline.ErrFetchFailed):
			log.Warn("harvest fetch failed, requeueing", zap.String("url", current), zap.Error(err))
			if rerr := b.deps.HarvestQueue.ReEnqueue(ctx, current); rerr != nil {
				return fmt.Errorf("requeue failed harvest item: %w", rerr)
			}
			b.ack(ctx, b.deps.HarvestQueue, current)
			continue
		case errors.Is(err, pipeline.ErrScopeRejected), errors.Is(err, pipeline.ErrRobotsDisallowed):
			log.Info("skipping inadmissible url", zap.String("url", current), zap.Error(err))
			b.ack(ctx, b.deps.HarvestQueue, current)
			continue
		case err != nil:
			return fmt.Errorf("download %s: %w", current, err)
		}

		id := b.deps.PageID.PageID(current)
		if err := b.deps.HarvestStore.Put(ctx, id, res.Body); err != nil {
			return fmt.Errorf("store page %s: %w", current, err)
		}
		metrics.PageHarvested()
		log.Info("stored page", zap.String("url", current), zap.String("page_id", id))
		// The lease retires only once the page is durably stored.
		b.ack(ctx, b.deps.HarvestQueue, current)
	}

	log.Info("finished harvesting")
	return nil
}

// Extract replays the harvest store through the record extractor into the
// extract store. A page the extractor rejects is logged and skipped; with a
// deterministic extractor, re-running Extract appends the same records in the
// same order.
func (b *Browser) Extract(ctx context.Context) error {
	log := b.deps.Logger
	if b.deps.ExtractStore == nil || b.deps.Records == nil {
		return fmt.Errorf("extract store and record extractor are required")
	}
	log.Info("start extracting", zap.Int("stored_pages", b.deps.HarvestStore.Len()))

	err := b.deps.HarvestStore.Replay(ctx, func(page pipeline.StoredPage) error {
		doc, err := b.deps.Parser.Parse(page.Content)
		if err != nil {
			metrics.ExtractionFailed()
			log.Warn("unparseable stored page, skipping",
				zap.String("page_id", page.PageID), zap.Error(err))
			return nil
		}
		records, err := b.deps.Records.Extract(doc)
		if err != nil {
			metrics.ExtractionFailed()
			log.Warn("extraction failed, skipping",
				zap.String("page_id", page.PageID),
				zap.Error(fmt.Errorf("%w: %v", pipeline.ErrExtraction, err)))
			return nil
		}
		if len(records) == 0 {
			return nil
		}
		n, err := b.deps.ExtractStore.Write(ctx, records...)
		if err != nil {
			return fmt.Errorf("write records for %s: %w", page.PageID, err)
		}
		metrics.RecordsExtracted(n)
		log.Info("extracted records", zap.String("page_id", page.PageID), zap.Int("count", n))
		return nil
	})
	if err != nil {
		return err
	}

	log.Info("finished extracting")
	return nil
}

// ack retires a lease on queues that have them; plain FIFO queues don't.
func (b *Browser) ack(ctx context.Context, q pipeline.Queue, item string) {
	acker, ok := q.(pipeline.Acker)
	if !ok {
		return
	}
	if err := acker.Ack(ctx, item); err != nil {
		b.deps.Logger.Warn("ack failed", zap.String("item", item), zap.Error(err))
	}
}

func (b *Browser) reportDepths(ctx context.Context) {
	if n, err := b.deps.BrowseQueue.Len(ctx); err == nil {
		metrics.SetQueueDepth("browse", n)
	}
	if n, err := b.deps.HarvestQueue.Len(ctx); err == nil {
		metrics.SetQueueDepth("harvest", n)
	}
}
