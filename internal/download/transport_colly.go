package download

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	collyproxy "github.com/gocolly/colly/v2/proxy"

	"github.com/JakeFAU/webharvest/internal/pipeline"
)

// CollyConfig controls the plain-HTTP transport profile.
type CollyConfig struct {
	UserAgent string
	Timeout   time.Duration
	// Proxies, when set, are rotated round-robin across requests.
	Proxies []string
}

// CollyTransport issues one HTTP GET per RoundTrip using a cloned Colly
// collector. Robots admission is deliberately disabled here; the Manager owns
// it so all three profiles share one policy path.
type CollyTransport struct {
	cfg  CollyConfig
	base *colly.Collector
}

// NewCollyTransport builds the transport.
func NewCollyTransport(cfg CollyConfig) (*CollyTransport, error) {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.WithTransport(newHTTPTransport())
	if len(cfg.Proxies) > 0 {
		switcher, err := collyproxy.RoundRobinProxySwitcher(cfg.Proxies...)
		if err != nil {
			return nil, fmt.Errorf("configure proxy rotation: %w", err)
		}
		c.SetProxyFunc(switcher)
	}
	return &CollyTransport{cfg: cfg, base: c}, nil
}

// RoundTrip implements Transport.
func (t *CollyTransport) RoundTrip(ctx context.Context, url string, headers http.Header) (*pipeline.FetchResult, error) {
	var (
		result   *pipeline.FetchResult
		fetchErr error
	)

	collector := t.base.Clone()
	if t.cfg.Timeout > 0 {
		collector.SetRequestTimeout(t.cfg.Timeout)
	}

	collector.OnRequest(func(r *colly.Request) {
		for key, values := range headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		result = &pipeline.FetchResult{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		// Colly reports non-2xx statuses here. A status is still a
		// result: the Manager decides whether it is transient.
		if r != nil && r.StatusCode > 0 {
			result = &pipeline.FetchResult{
				URL:        r.Request.URL.String(),
				StatusCode: r.StatusCode,
				Body:       append([]byte(nil), r.Body...),
			}
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if result != nil {
			return result, nil
		}
		if fetchErr != nil {
			return nil, fmt.Errorf("fetch %s: %w", url, fetchErr)
		}
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", url, err)
		}
		return nil, fmt.Errorf("fetch %s: no response received", url)
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
