// Package seenset implements the permanent dedup memory backing a queue's
// seen-set: every item ever enqueued, distinct from the pending sequence.
// Backends range from a volatile in-process map to durable tables shared
// across producers.
package seenset

import (
	"context"
	"sync"
)

// Set records item identities. Add is the only mutator; the set never shrinks
// during a session.
type Set interface {
	// Add inserts item and reports whether it was newly inserted. For
	// shared backends the check-and-insert is atomic per call so two
	// producers racing on the same item see one true and one false.
	Add(ctx context.Context, item string) (bool, error)

	// Contains reports whether item was ever added.
	Contains(ctx context.Context, item string) (bool, error)

	// Len is the number of distinct items ever added.
	Len(ctx context.Context) (int, error)
}

// Memory is a volatile single-process Set.
type Memory struct {
	mu    sync.Mutex
	items map[string]struct{}
}

// NewMemory returns an empty in-memory set.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]struct{})}
}

// Add implements Set.
func (m *Memory) Add(_ context.Context, item string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[item]; ok {
		return false, nil
	}
	m.items[item] = struct{}{}
	return true, nil
}

// Contains implements Set.
func (m *Memory) Contains(_ context.Context, item string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[item]
	return ok, nil
}

// Len implements Set.
func (m *Memory) Len(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items), nil
}
