package download

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/webharvest/internal/pipeline"
)

// HeadlessConfig controls the browser-automation transport profile.
type HeadlessConfig struct {
	UserAgent string

	// NavigationTimeout bounds one navigation (default 45s). It is added
	// on top of SettleWait.
	NavigationTimeout time.Duration

	// SettleWait is how long the page gets to let dynamic content settle
	// after the DOM is ready, before content is considered final
	// (default 20s).
	SettleWait time.Duration
}

// HeadlessTransport renders pages in headless Chrome via chromedp and returns
// the settled DOM instead of the raw response body.
type HeadlessTransport struct {
	cfg         HeadlessConfig
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewHeadlessTransport starts a shared Chrome allocator; each RoundTrip gets
// its own tab.
func NewHeadlessTransport(cfg HeadlessConfig) (*HeadlessTransport, error) {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.SettleWait <= 0 {
		cfg.SettleWait = 20 * time.Second
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &HeadlessTransport{
		cfg:         cfg,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close tears down the Chrome allocator.
func (t *HeadlessTransport) Close() {
	t.allocCancel()
}

// RoundTrip implements Transport.
func (t *HeadlessTransport) RoundTrip(ctx context.Context, url string, headers http.Header) (*pipeline.FetchResult, error) {
	tabCtx, tabCancel := chromedp.NewContext(t.allocator)
	defer tabCancel()

	tabCtx, cancel := context.WithTimeout(tabCtx, t.cfg.NavigationTimeout+t.cfg.SettleWait)
	defer cancel()

	// Propagate the caller's cancelation into the tab context.
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	meta := newDocumentMeta()
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		t.setupAction(headers),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(t.cfg.SettleWait),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		return nil, fmt.Errorf("headless fetch %s: %w", url, err)
	}

	status := meta.status()
	if status == 0 {
		// No document response event observed; the navigation still
		// produced a DOM, so treat it as a success.
		status = http.StatusOK
	}
	if finalURL == "" {
		finalURL = url
	}
	return &pipeline.FetchResult{
		URL:        finalURL,
		StatusCode: status,
		Body:       []byte(html),
	}, nil
}

func (t *HeadlessTransport) setupAction(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if t.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(t.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			extra := make(network.Headers, len(headers))
			for key, values := range headers {
				if len(values) > 0 {
					extra[key] = values[0]
				}
			}
			if err := network.SetExtraHTTPHeaders(extra).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// documentMeta records the status of the main document response.
type documentMeta struct {
	mu         sync.Mutex
	statusCode int
}

func newDocumentMeta() *documentMeta {
	return &documentMeta{}
}

func (m *documentMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.statusCode = int(resp.Response.Status)
	m.mu.Unlock()
}

func (m *documentMeta) status() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusCode
}
