package pipeline

import (
	"context"

	"github.com/PuerkitoBio/goquery"
)

// Queue is an ordered FIFO of pending URLs with a permanent dedup memory.
// An item joins the seen-set exactly once, at first Enqueue; later plain
// Enqueues of the same item are no-ops. ReEnqueue bypasses the seen-set check
// so a failed item can be deliberately reprocessed.
//
// The local implementation is strict FIFO. Distributed implementations are
// approximately FIFO across concurrent producers and may deliver an item more
// than once; downstream processing must stay idempotent.
type Queue interface {
	// Enqueue adds item to the pending sequence iff it was never seen,
	// and always marks it seen. Already-seen items are dropped silently.
	Enqueue(ctx context.Context, item string) error

	// ReEnqueue unconditionally appends item to the pending sequence
	// without growing the seen-set. Used to retry a dequeued item that
	// failed downstream processing.
	ReEnqueue(ctx context.Context, item string) error

	// Dequeue removes and returns the head of the pending sequence.
	// It returns ErrEmptyQueue when nothing is pending.
	Dequeue(ctx context.Context) (string, error)

	// IsEmpty reports whether the pending sequence has zero items.
	// It does not reflect seen-set size.
	IsEmpty(ctx context.Context) (bool, error)

	// Len is the count of currently pending items.
	Len(ctx context.Context) (int, error)

	// Contains reports pending membership for the local variant. The
	// distributed variant cannot inspect in-flight messages and answers
	// from the seen-set instead; that relaxation is documented there.
	Contains(ctx context.Context, item string) (bool, error)
}

// Acker is implemented by queues with lease semantics. A dequeued item stays
// invisible to other consumers until the lease expires; Ack retires it after
// successful processing. Queues without leases simply don't implement this.
type Acker interface {
	Ack(ctx context.Context, item string) error
}

// Downloader wraps a single network transport with admission control,
// retry/backoff, and pacing.
type Downloader interface {
	// Download fetches url. It returns ErrScopeRejected or
	// ErrRobotsDisallowed for inadmissible URLs and ErrFetchFailed once
	// the retry budget is spent. Transient failures are retried inside.
	Download(ctx context.Context, url string) (*FetchResult, error)

	// Sleep blocks for the configured inter-request delay. It is an
	// externally observable pacing mechanism, not a correctness one.
	Sleep(ctx context.Context) error
}

// HarvestStore is the append-only content store, keyed by page id and chunked
// into size-bounded archive units.
type HarvestStore interface {
	// Put appends a record, rolling to a new unit first when the current
	// unit's tracked size would cross the cap. Write failures propagate
	// as ErrStoreWrite; retry policy belongs to the caller.
	Put(ctx context.Context, pageID string, content []byte) error

	// Replay walks every stored record across all units in write order,
	// invoking fn for each. A non-nil error from fn stops the walk.
	// Replay always restarts from the beginning; there is no mid-sequence
	// resume across restarts.
	Replay(ctx context.Context, fn func(StoredPage) error) error

	// Len is the total number of stored records across all units.
	Len() int
}

// ExtractStore is the append-only structured-record sink.
type ExtractStore interface {
	// Write persists the records and returns how many were written.
	Write(ctx context.Context, records ...Record) (int, error)
}

// Parser turns raw page bytes into a queryable document tree.
type Parser interface {
	Parse(content []byte) (*goquery.Document, error)
}

// LinkExtractor selects links from a fetched page. The browse phase uses one
// extractor for pages to keep traversing and a second, possibly different,
// extractor for pages worth harvesting.
type LinkExtractor interface {
	Links(pageURL string, doc *goquery.Document) []string
}

// LinkExtractorFunc adapts a function to LinkExtractor.
type LinkExtractorFunc func(pageURL string, doc *goquery.Document) []string

// Links implements LinkExtractor.
func (f LinkExtractorFunc) Links(pageURL string, doc *goquery.Document) []string {
	return f(pageURL, doc)
}

// StopPredicate decides whether browsing should terminate at this page.
type StopPredicate interface {
	Stop(doc *goquery.Document) bool
}

// StopPredicateFunc adapts a function to StopPredicate.
type StopPredicateFunc func(doc *goquery.Document) bool

// Stop implements StopPredicate.
func (f StopPredicateFunc) Stop(doc *goquery.Document) bool { return f(doc) }

// PageIDDeriver maps a URL to the stable identifier used as its storage key.
// The same URL must always map to the same id across runs.
type PageIDDeriver interface {
	PageID(url string) string
}

// PageIDFunc adapts a function to PageIDDeriver.
type PageIDFunc func(url string) string

// PageID implements PageIDDeriver.
func (f PageIDFunc) PageID(url string) string { return f(url) }

// RecordExtractor produces structured records from one parsed page.
type RecordExtractor interface {
	Extract(doc *goquery.Document) ([]Record, error)
}

// RecordExtractorFunc adapts a function to RecordExtractor.
type RecordExtractorFunc func(doc *goquery.Document) ([]Record, error)

// Extract implements RecordExtractor.
func (f RecordExtractorFunc) Extract(doc *goquery.Document) ([]Record, error) {
	return f(doc)
}
