// Package gcs implements the harvest store on a Google Cloud Storage bucket.
// Each fetched page becomes one object whose name carries a zero-padded write
// sequence, so a lexicographic listing of the prefix replays the crawl in
// write order. Authentication is handled via Application Default Credentials.
package gcs

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/JakeFAU/webharvest/internal/pipeline"
)

// seqDigits pads the sequence component so lexicographic and numeric object
// ordering agree.
const seqDigits = 12

// Config captures the parameters of the bucket layout.
type Config struct {
	// Bucket is the target bucket. Required.
	Bucket string

	// Prefix namespaces this crawl's objects (default "harvest").
	Prefix string
}

// Store implements pipeline.HarvestStore on a GCS bucket.
type Store struct {
	client *storage.Client
	cfg    Config
	logger *zap.Logger

	mu    sync.Mutex
	seq   int64
	count int
}

// New lists the prefix to find where a previous run left off and returns a
// store that continues the sequence. The caller owns the client's lifecycle.
func New(ctx context.Context, client *storage.Client, cfg Config, logger *zap.Logger) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "harvest"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{client: client, cfg: cfg, logger: logger}
	if err := s.rescan(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) rescan(ctx context.Context) error {
	it := s.client.Bucket(s.cfg.Bucket).Objects(ctx, &storage.Query{Prefix: s.cfg.Prefix + "/"})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return fmt.Errorf("list existing objects: %w", err)
		}
		s.count++
		if seq, _, ok := splitObjectName(s.cfg.Prefix, attrs.Name); ok && seq >= s.seq {
			s.seq = seq + 1
		}
	}
}

func (s *Store) objectName(seq int64, pageID string) string {
	return fmt.Sprintf("%s/%0*d_%s", s.cfg.Prefix, seqDigits, seq, pageID)
}

// splitObjectName recovers the sequence number and page id from an object
// name. Names that don't match the layout are skipped by callers.
func splitObjectName(prefix, name string) (int64, string, bool) {
	rest, ok := strings.CutPrefix(name, prefix+"/")
	if !ok || len(rest) < seqDigits+2 || rest[seqDigits] != '_' {
		return 0, "", false
	}
	seq, err := strconv.ParseInt(rest[:seqDigits], 10, 64)
	if err != nil {
		return 0, "", false
	}
	return seq, rest[seqDigits+1:], true
}

// Put implements pipeline.HarvestStore. GCS has no append and no unit cap to
// enforce; every record is its own immutable object. The sequence number is
// reserved before the upload starts, so concurrent Puts through one store
// never collide on a name; a failed upload leaves a gap in the sequence,
// which Replay tolerates. Sequence numbers are only unique within a store
// instance; separate instances sharing a prefix interleave their sequences
// and replay order across them is unspecified.
func (s *Store) Put(ctx context.Context, pageID string, content []byte) error {
	if pageID == "" {
		return fmt.Errorf("%w: empty page id", pipeline.ErrStoreWrite)
	}
	s.mu.Lock()
	name := s.objectName(s.seq, pageID)
	s.seq++
	s.mu.Unlock()

	w := s.client.Bucket(s.cfg.Bucket).Object(name).NewWriter(ctx)
	w.ContentType = "text/html"
	if _, err := w.Write(content); err != nil {
		if cerr := w.Close(); cerr != nil {
			s.logger.Warn("failed to close object writer after write failure",
				zap.String("object", name), zap.Error(cerr))
		}
		return fmt.Errorf("%w: write object %s: %v", pipeline.ErrStoreWrite, name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: finalize object %s: %v", pipeline.ErrStoreWrite, name, err)
	}

	s.mu.Lock()
	s.count++
	s.mu.Unlock()
	return nil
}

// Replay implements pipeline.HarvestStore. The zero-padded sequence prefix
// makes the bucket listing's lexicographic order the write order.
func (s *Store) Replay(ctx context.Context, fn func(pipeline.StoredPage) error) error {
	it := s.client.Bucket(s.cfg.Bucket).Objects(ctx, &storage.Query{Prefix: s.cfg.Prefix + "/"})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: list objects: %v", pipeline.ErrStoreRead, err)
		}
		_, pageID, ok := splitObjectName(s.cfg.Prefix, attrs.Name)
		if !ok {
			s.logger.Warn("skipping object outside the store layout",
				zap.String("object", attrs.Name))
			continue
		}
		content, err := s.readObject(ctx, attrs.Name)
		if err != nil {
			return err
		}
		if err := fn(pipeline.StoredPage{PageID: pageID, Content: content}); err != nil {
			return err
		}
	}
}

func (s *Store) readObject(ctx context.Context, name string) ([]byte, error) {
	r, err := s.client.Bucket(s.cfg.Bucket).Object(name).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: open object %s: %v", pipeline.ErrStoreRead, name, err)
	}
	defer func() {
		if cerr := r.Close(); cerr != nil {
			s.logger.Debug("failed to close object reader", zap.Error(cerr))
		}
	}()
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read object %s: %v", pipeline.ErrStoreRead, name, err)
	}
	return content, nil
}

// Len implements pipeline.HarvestStore.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
