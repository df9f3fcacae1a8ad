package extract

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/JakeFAU/webharvest/internal/pipeline"
)

// CSVStore appends records as CSV rows under a fixed header. The header is
// either configured up front or frozen from the first record's sorted keys;
// later records project onto it, with absent fields left empty and extra
// fields dropped.
type CSVStore struct {
	mu      sync.Mutex
	file    *os.File
	writer  *csv.Writer
	columns []string
}

// NewCSV opens path for appending. When columns is nil the header is derived
// from the first record written. A header row is only emitted for a new or
// empty file, so appending across runs doesn't repeat it.
func NewCSV(path string, columns []string) (*CSVStore, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open csv file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat csv file: %w", err)
	}

	s := &CSVStore{file: f, writer: csv.NewWriter(f)}
	if len(columns) > 0 {
		s.columns = append([]string(nil), columns...)
		if info.Size() == 0 {
			if err := s.writeHeaderLocked(); err != nil {
				_ = f.Close()
				return nil, err
			}
		}
	}
	return s, nil
}

func (s *CSVStore) writeHeaderLocked() error {
	if err := s.writer.Write(s.columns); err != nil {
		return fmt.Errorf("%w: write csv header: %v", pipeline.ErrStoreWrite, err)
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return fmt.Errorf("%w: flush csv header: %v", pipeline.ErrStoreWrite, err)
	}
	return nil
}

// Write implements pipeline.ExtractStore.
func (s *CSVStore) Write(ctx context.Context, records ...pipeline.Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	written := 0
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return written, fmt.Errorf("%w: %v", pipeline.ErrStoreWrite, err)
		}
		if s.columns == nil {
			for key := range rec {
				s.columns = append(s.columns, key)
			}
			sort.Strings(s.columns)
			if err := s.writeHeaderLocked(); err != nil {
				return written, err
			}
		}
		row := make([]string, len(s.columns))
		for i, col := range s.columns {
			if v, ok := rec[col]; ok && v != nil {
				row[i] = fmt.Sprintf("%v", v)
			}
		}
		if err := s.writer.Write(row); err != nil {
			return written, fmt.Errorf("%w: write csv row: %v", pipeline.ErrStoreWrite, err)
		}
		written++
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return written, fmt.Errorf("%w: flush csv rows: %v", pipeline.ErrStoreWrite, err)
	}
	return written, nil
}

// Close flushes buffered rows and closes the file.
func (s *CSVStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		_ = s.file.Close()
		return fmt.Errorf("flush csv: %w", err)
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close csv file: %w", err)
	}
	return nil
}
