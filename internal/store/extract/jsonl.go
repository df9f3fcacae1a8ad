// Package extract provides the structured-record sinks for the extract phase.
// Every sink is append-only: records accumulate across calls and across runs,
// and the extract phase's idempotence lives in the replay source, not here.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/JakeFAU/webharvest/internal/pipeline"
)

// JSONLStore appends one JSON object per line to a file. Lines are
// self-contained, so a partially written file from a crashed run is still
// consumable up to the last complete line.
type JSONLStore struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewJSONL opens path for appending, creating it if absent.
func NewJSONL(path string) (*JSONLStore, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open jsonl file: %w", err)
	}
	return &JSONLStore{file: f, enc: json.NewEncoder(f)}, nil
}

// Write implements pipeline.ExtractStore.
func (s *JSONLStore) Write(ctx context.Context, records ...pipeline.Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	written := 0
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return written, fmt.Errorf("%w: %v", pipeline.ErrStoreWrite, err)
		}
		if err := s.enc.Encode(rec); err != nil {
			return written, fmt.Errorf("%w: encode record: %v", pipeline.ErrStoreWrite, err)
		}
		written++
	}
	return written, nil
}

// Close flushes and closes the underlying file.
func (s *JSONLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close jsonl file: %w", err)
	}
	return nil
}
