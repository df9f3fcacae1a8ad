package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "webharvest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
crawl:
  base_url: https://books.toscrape.com
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://books.toscrape.com", cfg.Crawl.BaseURL)
	assert.Equal(t, "http", cfg.Download.Profile)
	assert.Equal(t, 10, cfg.Download.MaxRetries)
	assert.Equal(t, 300*time.Millisecond, cfg.Download.BackoffFactor)
	assert.Equal(t, 3*time.Second, cfg.Download.Timeout)
	assert.Equal(t, time.Second, cfg.Download.Delay)
	assert.Equal(t, "memory", cfg.Queue.Backend)
	assert.Equal(t, "archive", cfg.Harvest.Backend)
	assert.Equal(t, int64(100<<20), cfg.Harvest.UnitCapBytes)
	assert.Equal(t, "jsonl", cfg.Extract.Backend)
	assert.Equal(t, ":8080", cfg.Ops.Addr)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
crawl:
  base_url: https://books.toscrape.com
  browse_selector: "ul.pager a"
  harvest_selector: "article.product_pod h3 a"
  stop_selector: "li.current:contains('Page 50')"
download:
  profile: tor
  max_retries: 5
  delay: 2s
  tor:
    socks_addr: "127.0.0.1:9150"
    control_addr: "127.0.0.1:9151"
queue:
  backend: pubsub
  seen_set: postgres
  postgres_dsn: postgres://crawler@db/webharvest
  pubsub:
    project_id: crawl-project
    browse_topic: browse
    browse_subscription: browse-sub
    harvest_topic: harvest
    harvest_subscription: harvest-sub
harvest:
  backend: gcs
  bucket: crawl-pages
extract:
  backend: postgres
  postgres_dsn: postgres://crawler@db/webharvest
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ul.pager a", cfg.Crawl.BrowseSelector)
	assert.Equal(t, "tor", cfg.Download.Profile)
	assert.Equal(t, 5, cfg.Download.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Download.Delay)
	assert.Equal(t, "127.0.0.1:9150", cfg.Download.Tor.SocksAddr)
	assert.Equal(t, 50, cfg.Download.Tor.MaxCircuitRequests)
	assert.Equal(t, "pubsub", cfg.Queue.Backend)
	assert.Equal(t, "crawl-project", cfg.Queue.PubSub.ProjectID)
	assert.Equal(t, "gcs", cfg.Harvest.Backend)
	assert.Equal(t, "crawl-pages", cfg.Harvest.Bucket)
	assert.Equal(t, "postgres", cfg.Extract.Backend)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
crawl:
  base_url: https://books.toscrape.com
`)
	t.Setenv("WEBHARVEST_DOWNLOAD_MAX_RETRIES", "3")
	t.Setenv("WEBHARVEST_DOWNLOAD_IGNORE_ROBOTS", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Download.MaxRetries)
	assert.True(t, cfg.Download.IgnoreRobots)
}

func TestValidateRejectsContradictions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		yaml string
	}{
		{"missing base url", `
download:
  profile: http
`},
		{"unknown profile", `
crawl:
  base_url: https://example.com
download:
  profile: carrier-pigeon
`},
		{"pubsub without resources", `
crawl:
  base_url: https://example.com
queue:
  backend: pubsub
`},
		{"sqlite without path", `
crawl:
  base_url: https://example.com
queue:
  seen_set: sqlite
`},
		{"gcs without bucket", `
crawl:
  base_url: https://example.com
harvest:
  backend: gcs
`},
		{"postgres extract without dsn", `
crawl:
  base_url: https://example.com
extract:
  backend: postgres
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(writeConfig(t, tc.yaml))
			assert.Error(t, err)
		})
	}
}
