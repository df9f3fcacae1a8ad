package ops

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webharvest/internal/metrics"
)

func TestHealthAndReadiness(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(New(nil, metrics.Handler(), nil).Handler())
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.NotEmpty(t, resp.Header.Get("X-Request-ID"), path)
		require.NoError(t, resp.Body.Close())
	}
}

func TestStatuszReportsSnapshot(t *testing.T) {
	t.Parallel()

	status := func() Status {
		return Status{
			RunID:        "0192f1e8-lab",
			Phase:        "harvest",
			BrowseDepth:  0,
			HarvestDepth: 12,
			StoredPages:  240,
		}
	}
	srv := httptest.NewServer(New(nil, metrics.Handler(), status).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/statusz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var got Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "harvest", got.Phase)
	assert.Equal(t, 12, got.HarvestDepth)
	assert.Equal(t, 240, got.StoredPages)
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	t.Parallel()

	metrics.PageBrowsed()
	srv := httptest.NewServer(New(nil, metrics.Handler(), nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")
}
