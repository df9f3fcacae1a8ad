package seenset

import (
	"context"
	"path/filepath"
	"testing"
)

func TestSQLiteAddAndRehydrate(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "seen.db")
	ctx := context.Background()

	s, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}

	added, err := s.Add(ctx, "https://example.com/a")
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if !added {
		t.Fatal("expected first Add to insert")
	}
	added, err = s.Add(ctx, "https://example.com/a")
	if err != nil {
		t.Fatalf("Add() repeat error = %v", err)
	}
	if added {
		t.Fatal("expected repeated Add to be ignored")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// Reopening must preserve the set: the seen-set is the durable half of
	// a resumable session.
	s, err = NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite() reopen error = %v", err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	}()

	ok, err := s.Contains(ctx, "https://example.com/a")
	if err != nil {
		t.Fatalf("Contains() error = %v", err)
	}
	if !ok {
		t.Fatal("expected item to survive a reopen")
	}
	ok, err = s.Contains(ctx, "https://example.com/never-added")
	if err != nil {
		t.Fatalf("Contains() unseen error = %v", err)
	}
	if ok {
		t.Fatal("expected unseen item to report absent without error")
	}
	n, err := s.Len(ctx)
	if err != nil {
		t.Fatalf("Len() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 item after reopen, got %d", n)
	}
}
