package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestSplitObjectName(t *testing.T) {
	t.Parallel()

	seq, pageID, ok := splitObjectName("harvest", "harvest/000000000007_abc123")
	require.True(t, ok)
	assert.Equal(t, int64(7), seq)
	assert.Equal(t, "abc123", pageID)

	// Page ids may themselves contain underscores.
	_, pageID, ok = splitObjectName("harvest", "harvest/000000000000_a_b_c")
	require.True(t, ok)
	assert.Equal(t, "a_b_c", pageID)

	for _, name := range []string{
		"harvest/short_abc",
		"other/000000000001_abc",
		"harvest/notanumber0_abc",
		"harvest/000000000001",
	} {
		_, _, ok := splitObjectName("harvest", name)
		assert.False(t, ok, "expected %q to be rejected", name)
	}
}

func TestObjectNamesSortInWriteOrder(t *testing.T) {
	t.Parallel()

	s := &Store{cfg: Config{Bucket: "b", Prefix: "harvest"}}
	var names []string
	for _, seq := range []int64{0, 1, 9, 10, 11, 99, 100, 1000000} {
		names = append(names, s.objectName(seq, "page"))
	}
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	assert.Equal(t, names, sorted, "lexicographic order must equal write order")
}

// uploadRecorder captures upload bodies from the fake server. Puts may run
// concurrently, so appends are guarded.
type uploadRecorder struct {
	mu      sync.Mutex
	entries []string
}

func (u *uploadRecorder) add(body string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.entries = append(u.entries, body)
}

func (u *uploadRecorder) all() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.entries...)
}

// newTestStore points a real storage client at a fake that answers the list
// call New makes and records uploads.
func newTestStore(t *testing.T, uploads *uploadRecorder) *Store {
	t.Helper()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/upload/storage/v1/b/test-bucket/o"):
			assert.Equal(t, "multipart", r.URL.Query().Get("uploadType"))
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			name := r.URL.Query().Get("name")
			if name == "" {
				// The object name rides inside the multipart
				// metadata part; the body always contains it.
				name = "unknown"
			}
			uploads.add(string(body))
			fmt.Fprintln(w, `{"name": "`+name+`"}`)
		case strings.Contains(r.URL.Path, "/b/test-bucket/o"):
			fmt.Fprintln(w, `{"items": []}`)
		default:
			http.NotFound(w, r)
		}
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(srv.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	s, err := New(context.Background(), client, Config{Bucket: "test-bucket"}, nil)
	require.NoError(t, err)
	return s
}

func TestPutUploadsSequencedObjects(t *testing.T) {
	t.Parallel()

	var uploads uploadRecorder
	s := newTestStore(t, &uploads)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "page-a", []byte("first body")))
	require.NoError(t, s.Put(ctx, "page-b", []byte("second body")))

	got := uploads.all()
	require.Len(t, got, 2)
	assert.Contains(t, got[0], "000000000000_page-a")
	assert.Contains(t, got[0], "first body")
	assert.Contains(t, got[1], "000000000001_page-b")
	assert.Contains(t, got[1], "second body")
	assert.Equal(t, 2, s.Len())
}

func TestConcurrentPutsReserveDistinctSequences(t *testing.T) {
	t.Parallel()

	var uploads uploadRecorder
	s := newTestStore(t, &uploads)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.Put(ctx, fmt.Sprintf("page-%d", i), []byte("body")))
		}(i)
	}
	wg.Wait()

	got := uploads.all()
	require.Len(t, got, workers)
	seen := make(map[string]bool)
	for _, body := range got {
		for seq := 0; seq < workers; seq++ {
			marker := fmt.Sprintf("%0*d_page-", seqDigits, seq)
			if strings.Contains(body, marker) {
				seen[marker] = true
			}
		}
	}
	assert.Len(t, seen, workers, "each upload must carry its own sequence number")
	assert.Equal(t, workers, s.Len())
}

func TestPutRejectsEmptyPageID(t *testing.T) {
	t.Parallel()

	var uploads uploadRecorder
	s := newTestStore(t, &uploads)
	require.Error(t, s.Put(context.Background(), "", []byte("x")))
	assert.Empty(t, uploads.all())
}
