// Package download wraps a single network transport with the policy the
// phases rely on: scope and robots admission, retry with exponential backoff,
// and inter-request pacing. The three transport profiles (plain HTTP, Tor
// circuit, headless browser) satisfy one Transport interface so the Manager's
// contract is identical across them.
package download

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/webharvest/internal/metrics"
	"github.com/JakeFAU/webharvest/internal/pipeline"
)

// Transport issues exactly one request attempt. Retries, admission, and
// pacing all live above it in the Manager.
type Transport interface {
	RoundTrip(ctx context.Context, url string, headers http.Header) (*pipeline.FetchResult, error)
}

// Config enumerates every recognized download option. Zero values fall back
// to the defaults applied in New; invalid combinations fail construction.
type Config struct {
	// BaseURL is the authority the crawl is scoped to. Required.
	BaseURL string

	// UserAgent identifies the crawler to robots policies and servers.
	UserAgent string

	// MaxRetries bounds additional attempts after the first (default 10).
	MaxRetries int

	// BackoffFactor seeds the exponential schedule: the wait before
	// attempt n is BackoffFactor * 2^(n-1) (default 300ms).
	BackoffFactor time.Duration

	// BackoffMax caps any single backoff wait (default 5m).
	BackoffMax time.Duration

	// RetryOn is the transient status set (default 500, 502, 503, 504).
	RetryOn []int

	// Headers are sent with every request.
	Headers http.Header

	// Timeout bounds one request attempt (default 3s).
	Timeout time.Duration

	// Delay is the inter-request pacing interval (default 1s). A
	// robots-declared crawl-delay overrides it once discovered.
	Delay time.Duration

	// IgnoreRobots disables robots admission entirely.
	IgnoreRobots bool
}

func (c *Config) applyDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 10
	}
	if c.BackoffFactor <= 0 {
		c.BackoffFactor = 300 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 5 * time.Minute
	}
	if len(c.RetryOn) == 0 {
		c.RetryOn = []int{
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		}
	}
	if c.Timeout <= 0 {
		c.Timeout = 3 * time.Second
	}
	if c.Delay <= 0 {
		c.Delay = time.Second
	}
}

func (c Config) validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("download.base_url is required")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("download.max_retries must be >= 0")
	}
	return nil
}

// Manager implements pipeline.Downloader around one Transport.
type Manager struct {
	cfg       Config
	transport Transport
	robots    *robotsCache
	retryOn   map[int]struct{}
	limiter   *rate.Limiter
	logger    *zap.Logger

	// wait is injectable so tests can observe the backoff schedule
	// without sleeping through it.
	wait func(ctx context.Context, d time.Duration) error
}

// New validates the config and builds a Manager.
func New(cfg Config, transport Transport, logger *zap.Logger) (*Manager, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, fmt.Errorf("download transport is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		cfg:       cfg,
		transport: transport,
		retryOn:   make(map[int]struct{}, len(cfg.RetryOn)),
		limiter:   rate.NewLimiter(rate.Every(cfg.Delay), 1),
		logger:    logger,
		wait:      sleepCtx,
	}
	for _, code := range cfg.RetryOn {
		m.retryOn[code] = struct{}{}
	}
	if !cfg.IgnoreRobots {
		m.robots = newRobotsCache(cfg.UserAgent, logger)
	}
	return m, nil
}

// Download implements pipeline.Downloader. Out-of-scope and robots-forbidden
// URLs are rejected before any network attempt; transient failures retry with
// exponential backoff until the budget is spent, then surface ErrFetchFailed.
func (m *Manager) Download(ctx context.Context, rawURL string) (*pipeline.FetchResult, error) {
	target, err := pipeline.ResolveURL(m.cfg.BaseURL, rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", pipeline.ErrFetchFailed, rawURL, err)
	}
	if !pipeline.SameAuthority(m.cfg.BaseURL, target) {
		return nil, fmt.Errorf("%w: %s", pipeline.ErrScopeRejected, target)
	}
	if m.robots != nil {
		allowed, crawlDelay := m.robots.Check(ctx, target)
		if !allowed {
			return nil, fmt.Errorf("%w: %s", pipeline.ErrRobotsDisallowed, target)
		}
		if crawlDelay > 0 && crawlDelay != m.cfg.Delay {
			m.cfg.Delay = crawlDelay
			m.limiter.SetLimit(rate.Every(crawlDelay))
			m.logger.Info("robots crawl-delay overrides request delay",
				zap.Duration("delay", crawlDelay))
		}
	}

	var lastErr error
	for attempt := 0; attempt <= m.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := m.wait(ctx, m.backoff(attempt)); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", pipeline.ErrFetchFailed, target, err)
			}
			metrics.FetchRetried()
		}

		attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
		res, err := m.transport.RoundTrip(attemptCtx, target, m.cfg.Headers)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s: %v", pipeline.ErrFetchFailed, target, ctx.Err())
			}
			lastErr = err
			m.logger.Warn("fetch attempt failed",
				zap.String("url", target),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}
		if _, transient := m.retryOn[res.StatusCode]; transient {
			lastErr = fmt.Errorf("transient status %d", res.StatusCode)
			m.logger.Warn("fetch attempt returned transient status",
				zap.String("url", target),
				zap.Int("attempt", attempt+1),
				zap.Int("status", res.StatusCode))
			continue
		}
		metrics.PageFetched(res.StatusCode, len(res.Body))
		return res, nil
	}
	return nil, fmt.Errorf("%w: %s after %d attempts: %v",
		pipeline.ErrFetchFailed, target, m.cfg.MaxRetries+1, lastErr)
}

// Sleep implements pipeline.Downloader: it blocks for the configured
// inter-request delay (or the robots crawl-delay once one is discovered).
func (m *Manager) Sleep(ctx context.Context) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pacing wait: %w", err)
	}
	return nil
}

// backoff returns the wait before the given retry attempt (attempt >= 1).
// The schedule is monotonically non-decreasing by construction.
func (m *Manager) backoff(attempt int) time.Duration {
	d := m.cfg.BackoffFactor << (attempt - 1)
	if d > m.cfg.BackoffMax || d <= 0 {
		d = m.cfg.BackoffMax
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
