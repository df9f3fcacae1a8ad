// Package config loads and validates crawler configuration via Viper.
// Settings come from an optional YAML file, overridden by WEBHARVEST_*
// environment variables (dots become underscores, e.g.
// WEBHARVEST_DOWNLOAD_MAX_RETRIES).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures every knob the pipeline recognizes.
type Config struct {
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	Download DownloadConfig `mapstructure:"download"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Harvest  HarvestConfig  `mapstructure:"harvest"`
	Extract  ExtractConfig  `mapstructure:"extract"`
	Ops      OpsConfig      `mapstructure:"ops"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// CrawlConfig scopes the crawl itself.
type CrawlConfig struct {
	// BaseURL is the site being crawled. Required.
	BaseURL string `mapstructure:"base_url"`

	// Initial, when set, seeds Browse instead of BaseURL.
	Initial string `mapstructure:"initial"`

	// BrowseSelector and HarvestSelector feed the stock anchor
	// extractors. HarvestSelf additionally marks every browsed page
	// harvestable.
	BrowseSelector  string `mapstructure:"browse_selector"`
	HarvestSelector string `mapstructure:"harvest_selector"`
	HarvestSelf     bool   `mapstructure:"harvest_self"`

	// StopSelector ends browsing at the first page matching it.
	StopSelector string `mapstructure:"stop_selector"`
}

// DownloadConfig selects and tunes the transport profile.
type DownloadConfig struct {
	// Profile is "http", "tor", or "headless".
	Profile string `mapstructure:"profile"`

	UserAgent     string        `mapstructure:"user_agent"`
	MaxRetries    int           `mapstructure:"max_retries"`
	BackoffFactor time.Duration `mapstructure:"backoff_factor"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Delay         time.Duration `mapstructure:"delay"`
	IgnoreRobots  bool          `mapstructure:"ignore_robots"`
	Proxies       []string      `mapstructure:"proxies"`

	Tor      TorConfig      `mapstructure:"tor"`
	Headless HeadlessConfig `mapstructure:"headless"`
}

// TorConfig tunes the anonymized-circuit profile.
type TorConfig struct {
	SocksAddr          string `mapstructure:"socks_addr"`
	ControlAddr        string `mapstructure:"control_addr"`
	ControlPassword    string `mapstructure:"control_password"`
	MaxCircuitRequests int    `mapstructure:"max_circuit_requests"`
}

// HeadlessConfig tunes the browser-rendering profile.
type HeadlessConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	SettleWait        time.Duration `mapstructure:"settle_wait"`
}

// QueueConfig selects the queue backend and the shared seen-set.
type QueueConfig struct {
	// Backend is "memory" or "pubsub".
	Backend string `mapstructure:"backend"`

	// SeenSet is "memory", "sqlite", or "postgres".
	SeenSet     string `mapstructure:"seen_set"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`

	PubSub PubSubConfig `mapstructure:"pubsub"`
}

// PubSubConfig names the Cloud Pub/Sub resources of the distributed queues.
type PubSubConfig struct {
	ProjectID           string `mapstructure:"project_id"`
	BrowseTopic         string `mapstructure:"browse_topic"`
	BrowseSubscription  string `mapstructure:"browse_subscription"`
	HarvestTopic        string `mapstructure:"harvest_topic"`
	HarvestSubscription string `mapstructure:"harvest_subscription"`
}

// HarvestConfig selects the harvest store backend.
type HarvestConfig struct {
	// Backend is "archive" or "gcs".
	Backend string `mapstructure:"backend"`

	Dir          string `mapstructure:"dir"`
	UnitCapBytes int64  `mapstructure:"unit_cap_bytes"`

	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// ExtractConfig selects the extract store backend.
type ExtractConfig struct {
	// Backend is "jsonl", "csv", or "postgres".
	Backend string `mapstructure:"backend"`

	Path    string   `mapstructure:"path"`
	Columns []string `mapstructure:"columns"`

	PostgresDSN string `mapstructure:"postgres_dsn"`
	Table       string `mapstructure:"table"`
}

// OpsConfig tunes the operational HTTP server.
type OpsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig selects the logger build.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load reads configuration from path (or the default search paths when path
// is empty) plus the environment, applies defaults, and validates.
func Load(path string) (Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("webharvest")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.webharvest")
		v.AddConfigPath("/etc/webharvest/")
	}

	setDefaults(v)

	v.SetEnvPrefix("WEBHARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		// No file is fine; defaults plus environment carry the day.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawl.browse_selector", "a")
	v.SetDefault("crawl.harvest_selector", "a")
	v.SetDefault("crawl.harvest_self", false)

	v.SetDefault("download.profile", "http")
	v.SetDefault("download.user_agent", "webharvest/1.0 (+https://github.com/JakeFAU/webharvest)")
	v.SetDefault("download.max_retries", 10)
	v.SetDefault("download.backoff_factor", "300ms")
	v.SetDefault("download.timeout", "3s")
	v.SetDefault("download.delay", "1s")
	v.SetDefault("download.ignore_robots", false)
	v.SetDefault("download.tor.socks_addr", "127.0.0.1:9050")
	v.SetDefault("download.tor.max_circuit_requests", 50)
	v.SetDefault("download.headless.navigation_timeout", "45s")
	v.SetDefault("download.headless.settle_wait", "20s")

	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.seen_set", "memory")

	v.SetDefault("harvest.backend", "archive")
	v.SetDefault("harvest.dir", "data/harvest")
	v.SetDefault("harvest.unit_cap_bytes", int64(100<<20))
	v.SetDefault("harvest.prefix", "harvest")

	v.SetDefault("extract.backend", "jsonl")
	v.SetDefault("extract.path", "data/records.jsonl")
	v.SetDefault("extract.table", "extracted_records")

	v.SetDefault("ops.addr", ":8080")
	v.SetDefault("logging.development", false)
}

// Validate fails fast on contradictions a phase would otherwise hit mid-run.
func (c Config) Validate() error {
	if c.Crawl.BaseURL == "" {
		return fmt.Errorf("crawl.base_url is required")
	}
	switch c.Download.Profile {
	case "http", "headless":
	case "tor":
		if c.Download.Tor.SocksAddr == "" {
			return fmt.Errorf("download.tor.socks_addr is required for the tor profile")
		}
	default:
		return fmt.Errorf("unknown download.profile %q", c.Download.Profile)
	}
	switch c.Queue.Backend {
	case "memory":
	case "pubsub":
		ps := c.Queue.PubSub
		if ps.ProjectID == "" || ps.BrowseTopic == "" || ps.BrowseSubscription == "" ||
			ps.HarvestTopic == "" || ps.HarvestSubscription == "" {
			return fmt.Errorf("queue.pubsub requires project_id, topics, and subscriptions")
		}
	default:
		return fmt.Errorf("unknown queue.backend %q", c.Queue.Backend)
	}
	switch c.Queue.SeenSet {
	case "memory":
	case "sqlite":
		if c.Queue.SQLitePath == "" {
			return fmt.Errorf("queue.sqlite_path is required for the sqlite seen-set")
		}
	case "postgres":
		if c.Queue.PostgresDSN == "" {
			return fmt.Errorf("queue.postgres_dsn is required for the postgres seen-set")
		}
	default:
		return fmt.Errorf("unknown queue.seen_set %q", c.Queue.SeenSet)
	}
	switch c.Harvest.Backend {
	case "archive":
		if c.Harvest.Dir == "" {
			return fmt.Errorf("harvest.dir is required for the archive backend")
		}
	case "gcs":
		if c.Harvest.Bucket == "" {
			return fmt.Errorf("harvest.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown harvest.backend %q", c.Harvest.Backend)
	}
	switch c.Extract.Backend {
	case "jsonl", "csv":
		if c.Extract.Path == "" {
			return fmt.Errorf("extract.path is required for the %s backend", c.Extract.Backend)
		}
	case "postgres":
		if c.Extract.PostgresDSN == "" {
			return fmt.Errorf("extract.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown extract.backend %q", c.Extract.Backend)
	}
	return nil
}
