package download

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/proxy"

	"github.com/JakeFAU/webharvest/internal/pipeline"
)

// maxBodyBytes bounds how much of a response body one fetch will buffer.
const maxBodyBytes = 32 << 20

// TorConfig controls the anonymized-circuit transport profile.
type TorConfig struct {
	// SocksAddr is the Tor daemon's SOCKS5 listener, e.g. "127.0.0.1:9050".
	SocksAddr string

	// ControlAddr is the Tor control port used to request fresh circuits.
	// When empty, rotation only rebuilds the client connection pool.
	ControlAddr string

	// ControlPassword authenticates against the control port.
	ControlPassword string

	// MaxCircuitRequests is how many requests ride one circuit before it
	// is rotated to avoid fingerprinting and per-exit rate limits
	// (default 50, negative disables rotation).
	MaxCircuitRequests int

	UserAgent string
}

// TorTransport routes requests through a Tor SOCKS5 proxy and rotates the
// circuit after a configured number of requests.
type TorTransport struct {
	cfg    TorConfig
	logger *zap.Logger

	mu       sync.Mutex
	client   *http.Client
	requests int

	// newClient and rotateCircuit are injectable for tests.
	newClient     func() (*http.Client, error)
	rotateCircuit func(ctx context.Context) error
}

// NewTorTransport dials nothing up front; the first RoundTrip builds the
// SOCKS client, so construction succeeds even before the daemon is up.
func NewTorTransport(cfg TorConfig, logger *zap.Logger) (*TorTransport, error) {
	if cfg.SocksAddr == "" {
		return nil, fmt.Errorf("tor socks address is required")
	}
	if cfg.MaxCircuitRequests == 0 {
		cfg.MaxCircuitRequests = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &TorTransport{cfg: cfg, logger: logger}
	t.newClient = t.buildClient
	t.rotateCircuit = t.signalNewCircuit
	return t, nil
}

// RoundTrip implements Transport.
func (t *TorTransport) RoundTrip(ctx context.Context, url string, headers http.Header) (*pipeline.FetchResult, error) {
	client, err := t.acquireClient(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if t.cfg.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.cfg.UserAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s via tor: %w", url, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			t.logger.Debug("failed to close response body", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body from %s: %w", url, err)
	}
	return &pipeline.FetchResult{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Body:       body,
	}, nil
}

// acquireClient returns the current SOCKS client, rotating the circuit first
// when the request budget for it is spent.
func (t *TorTransport) acquireClient(ctx context.Context) (*http.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil && t.cfg.MaxCircuitRequests > 0 && t.requests >= t.cfg.MaxCircuitRequests {
		t.logger.Info("rotating tor circuit",
			zap.Int("requests", t.requests))
		if err := t.rotateCircuit(ctx); err != nil {
			t.logger.Warn("circuit rotation failed; rebuilding client anyway", zap.Error(err))
		}
		t.client = nil
		t.requests = 0
	}
	if t.client == nil {
		client, err := t.newClient()
		if err != nil {
			return nil, fmt.Errorf("build tor client: %w", err)
		}
		t.client = client
	}
	t.requests++
	return t.client, nil
}

func (t *TorTransport) buildClient() (*http.Client, error) {
	dialer, err := proxy.SOCKS5("tcp", t.cfg.SocksAddr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("create socks5 dialer: %w", err)
	}
	contextDialer, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("socks5 dialer does not support context dialing")
	}
	transport := &http.Transport{
		DialContext:           contextDialer.DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
	return &http.Client{Transport: transport}, nil
}

// signalNewCircuit asks the Tor daemon for a fresh circuit via the control
// port (AUTHENTICATE + SIGNAL NEWNYM). New connections made after the signal
// ride new circuits; the caller discards the old connection pool.
func (t *TorTransport) signalNewCircuit(ctx context.Context) error {
	if t.cfg.ControlAddr == "" {
		return nil
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", t.cfg.ControlAddr)
	if err != nil {
		return fmt.Errorf("dial control port: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			t.logger.Debug("failed to close control connection", zap.Error(cerr))
		}
	}()
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return fmt.Errorf("set control deadline: %w", err)
		}
	}

	reader := bufio.NewReader(conn)
	commands := []string{
		fmt.Sprintf("AUTHENTICATE %q", t.cfg.ControlPassword),
		"SIGNAL NEWNYM",
	}
	for _, cmd := range commands {
		if _, err := fmt.Fprintf(conn, "%s\r\n", cmd); err != nil {
			return fmt.Errorf("send %s: %w", cmd, err)
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read %s reply: %w", cmd, err)
		}
		if !strings.HasPrefix(line, "250") {
			return fmt.Errorf("%s rejected: %s", cmd, strings.TrimSpace(line))
		}
	}
	_, _ = fmt.Fprint(conn, "QUIT\r\n")
	return nil
}
