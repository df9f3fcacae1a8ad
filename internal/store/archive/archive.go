// Package archive implements the local harvest store as a rolling sequence of
// zip archive units. Each unit holds fetched pages keyed by page id and is
// capped by the uncompressed size of its contents; once a write would cross
// the cap the store rolls to a fresh unit. Units are never rewritten, so a
// crawl can be replayed or resumed from whatever units exist on disk.
package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/webharvest/internal/metrics"
	"github.com/JakeFAU/webharvest/internal/pipeline"
)

// DefaultUnitCap bounds the uncompressed bytes per archive unit.
const DefaultUnitCap = 100 << 20

// Config controls the archive layout.
type Config struct {
	// Dir is the directory holding the archive units. Required; created
	// if absent.
	Dir string

	// Prefix names the units: <prefix>_<n>.zip (default "harvest").
	Prefix string

	// UnitCapBytes caps each unit's uncompressed size (default 100MB).
	UnitCapBytes int64
}

// Store implements pipeline.HarvestStore on local zip units.
type Store struct {
	cfg    Config
	logger *zap.Logger

	mu        sync.Mutex
	file      *os.File
	zw        *zip.Writer
	unit      int   // index of the open unit
	unitBytes int64 // uncompressed bytes written to the open unit
	sealed    []int // unit indexes already finalized, ascending
	count     int   // records across sealed and open units
}

// New scans dir for existing units and opens a store that continues the
// sequence after them. Existing units are counted into Len and replayed in
// order but never appended to.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("archive dir is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "harvest"
	}
	if cfg.UnitCapBytes <= 0 {
		cfg.UnitCapBytes = DefaultUnitCap
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}

	s := &Store{cfg: cfg, logger: logger}
	if err := s.rescan(); err != nil {
		return nil, err
	}
	metrics.SetArchiveUnits(len(s.sealed))
	return s, nil
}

// rescan indexes the units already on disk and positions the next unit index
// after the highest existing one.
func (s *Store) rescan() error {
	pattern := regexp.MustCompile("^" + regexp.QuoteMeta(s.cfg.Prefix) + `_(\d+)\.zip$`)
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return fmt.Errorf("scan archive dir: %w", err)
	}
	next := 0
	for _, entry := range entries {
		m := pattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		reader, err := zip.OpenReader(filepath.Join(s.cfg.Dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("open existing unit %s: %w", entry.Name(), err)
		}
		s.count += len(reader.File)
		if cerr := reader.Close(); cerr != nil {
			return fmt.Errorf("close existing unit %s: %w", entry.Name(), cerr)
		}
		s.sealed = append(s.sealed, n)
		if n >= next {
			next = n + 1
		}
	}
	sort.Ints(s.sealed)
	s.unit = next
	return nil
}

func (s *Store) unitPath(n int) string {
	return filepath.Join(s.cfg.Dir, fmt.Sprintf("%s_%d.zip", s.cfg.Prefix, n))
}

// Put implements pipeline.HarvestStore. The open unit rolls before the write
// when adding content would cross the cap; a record larger than the cap still
// gets written, alone in its own unit.
func (s *Store) Put(_ context.Context, pageID string, content []byte) error {
	if pageID == "" {
		return fmt.Errorf("%w: empty page id", pipeline.ErrStoreWrite)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.zw != nil && s.unitBytes+int64(len(content)) > s.cfg.UnitCapBytes {
		if err := s.sealLocked(); err != nil {
			return err
		}
	}
	if s.zw == nil {
		if err := s.openUnitLocked(); err != nil {
			return err
		}
	}

	w, err := s.zw.Create(pageID)
	if err != nil {
		return fmt.Errorf("%w: create entry %s: %v", pipeline.ErrStoreWrite, pageID, err)
	}
	if _, err := w.Write(content); err != nil {
		return fmt.Errorf("%w: write entry %s: %v", pipeline.ErrStoreWrite, pageID, err)
	}
	s.unitBytes += int64(len(content))
	s.count++
	return nil
}

func (s *Store) openUnitLocked() error {
	path := s.unitPath(s.unit)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open unit %s: %v", pipeline.ErrStoreWrite, path, err)
	}
	s.file = f
	s.zw = zip.NewWriter(f)
	s.unitBytes = 0
	s.logger.Info("opened archive unit", zap.String("path", path))
	return nil
}

// sealLocked finalizes the open unit and advances the sequence.
func (s *Store) sealLocked() error {
	if s.zw == nil {
		return nil
	}
	if err := s.zw.Close(); err != nil {
		return fmt.Errorf("%w: finalize unit %d: %v", pipeline.ErrStoreWrite, s.unit, err)
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("%w: close unit %d: %v", pipeline.ErrStoreWrite, s.unit, err)
	}
	s.zw = nil
	s.file = nil
	s.sealed = append(s.sealed, s.unit)
	s.unit++
	s.unitBytes = 0
	metrics.SetArchiveUnits(len(s.sealed))
	return nil
}

// Replay implements pipeline.HarvestStore. It seals the open unit so every
// record is readable, then walks all units in sequence order and each unit's
// entries in write order. Reading never mutates or removes the units.
func (s *Store) Replay(ctx context.Context, fn func(pipeline.StoredPage) error) error {
	s.mu.Lock()
	if err := s.sealLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	units := append([]int(nil), s.sealed...)
	s.mu.Unlock()

	for _, n := range units {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", pipeline.ErrStoreRead, err)
		}
		if err := s.replayUnit(n, fn); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) replayUnit(n int, fn func(pipeline.StoredPage) error) error {
	path := s.unitPath(n)
	reader, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("%w: open unit %s: %v", pipeline.ErrStoreRead, path, err)
	}
	defer func() {
		if cerr := reader.Close(); cerr != nil {
			s.logger.Debug("failed to close archive unit", zap.Error(cerr))
		}
	}()

	for _, f := range reader.File {
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("%w: open entry %s: %v", pipeline.ErrStoreRead, f.Name, err)
		}
		content, err := io.ReadAll(rc)
		if cerr := rc.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("%w: read entry %s: %v", pipeline.ErrStoreRead, f.Name, err)
		}
		if err := fn(pipeline.StoredPage{PageID: f.Name, Content: content}); err != nil {
			return err
		}
	}
	return nil
}

// Len implements pipeline.HarvestStore.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Units returns the number of units on disk, including the open one.
func (s *Store) Units() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.sealed)
	if s.zw != nil {
		n++
	}
	return n
}

// Close seals the open unit. The store remains usable for Replay afterwards;
// further Puts start a new unit.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sealLocked()
}
