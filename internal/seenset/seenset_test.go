package seenset

import (
	"context"
	"testing"
)

func TestMemoryAddIsIdempotent(t *testing.T) {
	t.Parallel()

	s := NewMemory()
	ctx := context.Background()

	added, err := s.Add(ctx, "https://example.com/a")
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if !added {
		t.Fatal("expected first Add to report a new item")
	}

	added, err = s.Add(ctx, "https://example.com/a")
	if err != nil {
		t.Fatalf("Add() repeat error = %v", err)
	}
	if added {
		t.Fatal("expected repeated Add to report an existing item")
	}

	n, err := s.Len(ctx)
	if err != nil {
		t.Fatalf("Len() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 distinct item, got %d", n)
	}
}

func TestMemoryContains(t *testing.T) {
	t.Parallel()

	s := NewMemory()
	ctx := context.Background()

	ok, err := s.Contains(ctx, "missing")
	if err != nil {
		t.Fatalf("Contains() error = %v", err)
	}
	if ok {
		t.Fatal("expected empty set to not contain item")
	}

	if _, err := s.Add(ctx, "present"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	ok, err = s.Contains(ctx, "present")
	if err != nil {
		t.Fatalf("Contains() error = %v", err)
	}
	if !ok {
		t.Fatal("expected set to contain added item")
	}
}
