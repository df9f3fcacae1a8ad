// Package memory implements the in-process queue variant: a FIFO deque plus a
// seen-set, suitable when browse and harvest run in one process. Pending items
// are volatile; durability of the seen-set depends on the injected backend.
package memory

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/webharvest/internal/pipeline"
	"github.com/JakeFAU/webharvest/internal/seenset"
)

// Queue is a strict-FIFO pending sequence with permanent dedup memory.
type Queue struct {
	name string
	seen seenset.Set

	mu      sync.Mutex
	items   []string
	pending map[string]int

	logger *zap.Logger
}

// New builds a queue. A nil seen falls back to a volatile in-memory set.
func New(name string, seen seenset.Set, logger *zap.Logger) *Queue {
	if seen == nil {
		seen = seenset.NewMemory()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		name:    name,
		seen:    seen,
		pending: make(map[string]int),
		logger:  logger,
	}
}

// Enqueue implements pipeline.Queue. Already-seen items are dropped silently.
func (q *Queue) Enqueue(ctx context.Context, item string) error {
	added, err := q.seen.Add(ctx, item)
	if err != nil {
		return fmt.Errorf("seen-set add: %w", err)
	}
	if !added {
		return nil
	}
	q.mu.Lock()
	q.items = append(q.items, item)
	q.pending[item]++
	q.mu.Unlock()
	q.logger.Debug("enqueued", zap.String("queue", q.name), zap.String("item", item))
	return nil
}

// ReEnqueue implements pipeline.Queue. It appends unconditionally and leaves
// the seen-set untouched.
func (q *Queue) ReEnqueue(_ context.Context, item string) error {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.pending[item]++
	q.mu.Unlock()
	q.logger.Debug("re-enqueued", zap.String("queue", q.name), zap.String("item", item))
	return nil
}

// Dequeue implements pipeline.Queue, returning ErrEmptyQueue when nothing is
// pending rather than a silent sentinel.
func (q *Queue) Dequeue(_ context.Context) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return "", pipeline.ErrEmptyQueue
	}
	item := q.items[0]
	q.items = q.items[1:]
	if q.pending[item] <= 1 {
		delete(q.pending, item)
	} else {
		q.pending[item]--
	}
	q.logger.Debug("dequeued", zap.String("queue", q.name), zap.String("item", item))
	return item, nil
}

// IsEmpty implements pipeline.Queue.
func (q *Queue) IsEmpty(_ context.Context) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0, nil
}

// Len implements pipeline.Queue. It counts pending items, not the seen-set.
func (q *Queue) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}

// Contains implements pipeline.Queue, answering pending membership.
func (q *Queue) Contains(_ context.Context, item string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.pending[item]
	return ok, nil
}

// Seen exposes the backing seen-set, mainly for tests and diagnostics.
func (q *Queue) Seen() seenset.Set { return q.seen }
