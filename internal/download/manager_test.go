package download

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/JakeFAU/webharvest/internal/pipeline"
)

// scriptedTransport returns the queued statuses in order, then repeats the
// final one.
type scriptedTransport struct {
	statuses []int
	calls    int
}

func (t *scriptedTransport) RoundTrip(_ context.Context, url string, _ http.Header) (*pipeline.FetchResult, error) {
	idx := t.calls
	if idx >= len(t.statuses) {
		idx = len(t.statuses) - 1
	}
	t.calls++
	return &pipeline.FetchResult{
		URL:        url,
		StatusCode: t.statuses[idx],
		Body:       []byte(fmt.Sprintf("attempt %d", t.calls)),
	}, nil
}

func newTestManager(t *testing.T, cfg Config, transport Transport) (*Manager, *[]time.Duration) {
	t.Helper()
	cfg.BaseURL = "https://example.com"
	cfg.IgnoreRobots = true
	m, err := New(cfg, transport, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	var waits []time.Duration
	m.wait = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return m, &waits
}

func TestDownloadRetriesTransientStatuses(t *testing.T) {
	t.Parallel()

	transport := &scriptedTransport{statuses: []int{503, 503, 200}}
	m, waits := newTestManager(t, Config{MaxRetries: 5}, transport)

	res, err := m.Download(context.Background(), "/page")
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if res.StatusCode != 200 {
		t.Fatalf("expected status 200, got %d", res.StatusCode)
	}
	if transport.calls != 3 {
		t.Fatalf("expected success on third attempt, got %d attempts", transport.calls)
	}

	// The backoff schedule must be monotonically non-decreasing.
	if len(*waits) != 2 {
		t.Fatalf("expected 2 backoff waits, got %d", len(*waits))
	}
	for i := 1; i < len(*waits); i++ {
		if (*waits)[i] < (*waits)[i-1] {
			t.Fatalf("backoff decreased: %v", *waits)
		}
	}
}

func TestDownloadExhaustsRetryBudget(t *testing.T) {
	t.Parallel()

	transport := &scriptedTransport{statuses: []int{503}}
	m, _ := newTestManager(t, Config{MaxRetries: 2}, transport)

	_, err := m.Download(context.Background(), "/always-down")
	if !errors.Is(err, pipeline.ErrFetchFailed) {
		t.Fatalf("expected ErrFetchFailed, got %v", err)
	}
	if transport.calls != 3 {
		t.Fatalf("expected 3 attempts (1 + 2 retries), got %d", transport.calls)
	}
}

func TestDownloadReturnsNonRetryableStatus(t *testing.T) {
	t.Parallel()

	transport := &scriptedTransport{statuses: []int{404}}
	m, waits := newTestManager(t, Config{MaxRetries: 5}, transport)

	// 404 is not in the transient set: the caller gets the status and
	// body, not an error, and no retries burn.
	res, err := m.Download(context.Background(), "/missing")
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if res.StatusCode != 404 {
		t.Fatalf("expected status 404, got %d", res.StatusCode)
	}
	if transport.calls != 1 || len(*waits) != 0 {
		t.Fatalf("expected a single attempt with no backoff, got %d attempts", transport.calls)
	}
}

func TestDownloadRejectsOutOfScopeURL(t *testing.T) {
	t.Parallel()

	transport := &scriptedTransport{statuses: []int{200}}
	m, _ := newTestManager(t, Config{}, transport)

	_, err := m.Download(context.Background(), "https://other-site.com/page")
	if !errors.Is(err, pipeline.ErrScopeRejected) {
		t.Fatalf("expected ErrScopeRejected, got %v", err)
	}
	if transport.calls != 0 {
		t.Fatal("expected no network attempt for an out-of-scope URL")
	}
}

func TestDownloadResolvesRelativeURLs(t *testing.T) {
	t.Parallel()

	transport := &scriptedTransport{statuses: []int{200}}
	m, _ := newTestManager(t, Config{}, transport)

	res, err := m.Download(context.Background(), "/catalogue/page-2.html")
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if res.URL != "https://example.com/catalogue/page-2.html" {
		t.Fatalf("expected resolved absolute URL, got %q", res.URL)
	}
}

func TestBackoffSchedule(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, Config{
		BackoffFactor: 100 * time.Millisecond,
		BackoffMax:    350 * time.Millisecond,
	}, &scriptedTransport{statuses: []int{200}})

	got := []time.Duration{m.backoff(1), m.backoff(2), m.backoff(3), m.backoff(4)}
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		350 * time.Millisecond, // capped
		350 * time.Millisecond,
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("backoff(%d) = %v, want %v", i+1, got[i], want[i])
		}
	}
}

func TestNewRequiresBaseURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, &scriptedTransport{statuses: []int{200}}, nil)
	if err == nil {
		t.Fatal("expected construction to fail without a base URL")
	}
}

func TestSleepPacesRequests(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, Config{Delay: 20 * time.Millisecond}, &scriptedTransport{statuses: []int{200}})

	start := time.Now()
	// First wait draws the initial token; the second must be paced.
	if err := m.Sleep(context.Background()); err != nil {
		t.Fatalf("Sleep() error = %v", err)
	}
	if err := m.Sleep(context.Background()); err != nil {
		t.Fatalf("Sleep() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Fatalf("expected pacing of roughly one delay interval, elapsed %v", elapsed)
	}
}
