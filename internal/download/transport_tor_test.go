package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTorTransportRotatesCircuitAfterBudget(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	tr, err := NewTorTransport(TorConfig{
		SocksAddr:          "127.0.0.1:9050",
		MaxCircuitRequests: 3,
	}, nil)
	if err != nil {
		t.Fatalf("NewTorTransport() error = %v", err)
	}

	var builds, rotations int
	tr.newClient = func() (*http.Client, error) {
		builds++
		return srv.Client(), nil
	}
	tr.rotateCircuit = func(context.Context) error {
		rotations++
		return nil
	}

	ctx := context.Background()
	for i := 0; i < 7; i++ {
		res, err := tr.RoundTrip(ctx, srv.URL, nil)
		if err != nil {
			t.Fatalf("RoundTrip() #%d error = %v", i+1, err)
		}
		if res.StatusCode != http.StatusOK {
			t.Fatalf("RoundTrip() #%d status = %d", i+1, res.StatusCode)
		}
	}

	// Seven requests on a budget of three: rotate after request 3 and
	// after request 6, rebuilding the client each time plus the initial
	// build.
	if rotations != 2 {
		t.Fatalf("expected 2 circuit rotations, got %d", rotations)
	}
	if builds != 3 {
		t.Fatalf("expected 3 client builds, got %d", builds)
	}
}

func TestTorTransportRequiresSocksAddr(t *testing.T) {
	t.Parallel()

	if _, err := NewTorTransport(TorConfig{}, nil); err == nil {
		t.Fatal("expected construction to fail without a SOCKS address")
	}
}

func TestTorTransportZeroBudgetNeverRotates(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tr, err := NewTorTransport(TorConfig{
		SocksAddr:          "127.0.0.1:9050",
		MaxCircuitRequests: -1,
	}, nil)
	if err != nil {
		t.Fatalf("NewTorTransport() error = %v", err)
	}

	var rotations int
	tr.newClient = func() (*http.Client, error) { return srv.Client(), nil }
	tr.rotateCircuit = func(context.Context) error {
		rotations++
		return nil
	}

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if _, err := tr.RoundTrip(ctx, srv.URL, nil); err != nil {
			t.Fatalf("RoundTrip() error = %v", err)
		}
	}
	if rotations != 0 {
		t.Fatalf("expected no rotations with rotation disabled, got %d", rotations)
	}
}
