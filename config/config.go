package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Source types understood by the fetcher registry.
const (
	TypeRSS      = "rss"
	TypeHomepage = "homepage"
	TypeReddit   = "reddit"
)

// Config holds all application configuration. A single value is built at
// startup and handed to every component; nothing reads configuration from
// globals after that.
type Config struct {
	LookbackHours   int            `yaml:"lookback_hours"`
	HTTPPort        int            `yaml:"http_port"`
	DataDir         string         `yaml:"data_dir"`
	StorePath       string         `yaml:"store_path"`
	RunLogPath      string         `yaml:"runlog_path"`
	DashboardDir    string         `yaml:"dashboard_dir"`
	FetchTimeoutSec int            `yaml:"fetch_timeout_secs"`
	RefreshCron     string         `yaml:"refresh_cron"`
	UserAgent       string         `yaml:"user_agent"`
	LogLevel        string         `yaml:"log_level"`
	Sources         []SourceConfig `yaml:"sources"`
	Mirror          MirrorConfig   `yaml:"mirror"`
}

// SourceConfig describes one ingestion source. Type selects the fetcher;
// the remaining fields apply per type and are zero when unused.
type SourceConfig struct {
	Name           string   `yaml:"name"`
	Type           string   `yaml:"type"`
	FeedURLs       []string `yaml:"feed_urls,omitempty"`
	ArchiveURL     string   `yaml:"archive_url,omitempty"`
	URL            string   `yaml:"url,omitempty"`
	Subreddits     []string `yaml:"subreddits,omitempty"`
	MinScore       int      `yaml:"min_score,omitempty"`
	Limit          int      `yaml:"limit,omitempty"`
	MaxArticles    int      `yaml:"max_articles,omitempty"`
	DefaultAuthor  string   `yaml:"default_author,omitempty"`
	DefaultSummary string   `yaml:"default_summary,omitempty"`
	Tags           []string `yaml:"tags,omitempty"`
}

// MirrorConfig configures the remote Postgres mirror. The mirror is
// disabled when DSN is empty; every other field has a default.
type MirrorConfig struct {
	DSN        string `yaml:"dsn"`
	BatchSize  int    `yaml:"batch_size"`
	TimeoutSec int    `yaml:"timeout_secs"`
	QueueSize  int    `yaml:"queue_size"`
}

// Defaults returns a Config with all default values set, including the
// three stock sources the dashboard ships with.
func Defaults() Config {
	return Config{
		LookbackHours:   24,
		HTTPPort:        3737,
		DataDir:         "./data",
		DashboardDir:    "./dashboard",
		FetchTimeoutSec: 15,
		RefreshCron:     "@every 6h",
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
			"(KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
		LogLevel: "info",
		Sources: []SourceConfig{
			{
				Name: "bensbites",
				Type: TypeRSS,
				FeedURLs: []string{
					"https://bensbites.com/feed",
					"https://www.bensbites.co/feed",
					"https://bensbites.beehiiv.com/feed",
					"https://www.bensbites.com/rss",
				},
				ArchiveURL:    "https://bensbites.beehiiv.com/archive",
				DefaultAuthor: "Ben Tossell",
				Tags:          []string{"AI", "Newsletter"},
			},
			{
				Name:           "therundown",
				Type:           TypeHomepage,
				URL:            "https://www.therundown.ai",
				MaxArticles:    10,
				DefaultAuthor:  "Zach Mink",
				DefaultSummary: "Daily AI briefing from The Rundown AI.",
				Tags:           []string{"AI", "Newsletter", "Daily Briefing"},
			},
			{
				Name:       "reddit",
				Type:       TypeReddit,
				Subreddits: []string{"artificial", "MachineLearning", "ArtificialIntelligence"},
				MinScore:   5,
				Limit:      25,
				Tags:       []string{"Reddit", "AI"},
			},
		},
		Mirror: MirrorConfig{
			BatchSize:  50,
			TimeoutSec: 15,
			QueueSize:  32,
		},
	}
}

// Load reads a YAML config file and returns a validated Config. A missing
// file is not an error; defaults apply so the daemon can start unconfigured.
// Environment variables AIPULSE_CONFIG, AIPULSE_STORE, AIPULSE_MIRROR_DSN,
// LOOKBACK_HOURS and DASHBOARD_PORT override file values.
func Load(path string) (Config, error) {
	if envPath := os.Getenv("AIPULSE_CONFIG"); envPath != "" {
		path = envPath
	}

	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file: %w", err)
	}

	if envStore := os.Getenv("AIPULSE_STORE"); envStore != "" {
		cfg.StorePath = envStore
	}
	if envDSN := os.Getenv("AIPULSE_MIRROR_DSN"); envDSN != "" {
		cfg.Mirror.DSN = envDSN
	}
	if envHours := os.Getenv("LOOKBACK_HOURS"); envHours != "" {
		n, err := strconv.Atoi(envHours)
		if err != nil {
			return Config{}, fmt.Errorf("parsing LOOKBACK_HOURS %q: %w", envHours, err)
		}
		cfg.LookbackHours = n
	}
	if envPort := os.Getenv("DASHBOARD_PORT"); envPort != "" {
		n, err := strconv.Atoi(envPort)
		if err != nil {
			return Config{}, fmt.Errorf("parsing DASHBOARD_PORT %q: %w", envPort, err)
		}
		cfg.HTTPPort = n
	}

	cfg.applyPathDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// applyPathDefaults derives file locations from DataDir for any path the
// file or environment did not set explicitly.
func (c *Config) applyPathDefaults() {
	if c.StorePath == "" {
		c.StorePath = filepath.Join(c.DataDir, "articles_store.json")
	}
	if c.RunLogPath == "" {
		c.RunLogPath = filepath.Join(c.DataDir, "runs.db")
	}
}

// Validate checks that values are usable.
func (c *Config) Validate() error {
	if c.LookbackHours <= 0 {
		return fmt.Errorf("lookback_hours must be positive, got %d", c.LookbackHours)
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("http_port must be 1-65535, got %d", c.HTTPPort)
	}
	if c.FetchTimeoutSec <= 0 {
		return fmt.Errorf("fetch_timeout_secs must be positive, got %d", c.FetchTimeoutSec)
	}
	if c.Mirror.BatchSize <= 0 {
		return fmt.Errorf("mirror batch_size must be positive, got %d", c.Mirror.BatchSize)
	}
	if c.Mirror.TimeoutSec <= 0 {
		return fmt.Errorf("mirror timeout_secs must be positive, got %d", c.Mirror.TimeoutSec)
	}
	if c.Mirror.QueueSize <= 0 {
		return fmt.Errorf("mirror queue_size must be positive, got %d", c.Mirror.QueueSize)
	}

	seen := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		if s.Name == "" {
			return fmt.Errorf("source with empty name")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate source name %q", s.Name)
		}
		seen[s.Name] = true

		switch s.Type {
		case TypeRSS:
			if len(s.FeedURLs) == 0 {
				return fmt.Errorf("source %q: rss type requires feed_urls", s.Name)
			}
		case TypeHomepage:
			if s.URL == "" {
				return fmt.Errorf("source %q: homepage type requires url", s.Name)
			}
		case TypeReddit:
			if len(s.Subreddits) == 0 {
				return fmt.Errorf("source %q: reddit type requires subreddits", s.Name)
			}
		default:
			return fmt.Errorf("source %q: unknown type %q", s.Name, s.Type)
		}
	}

	return nil
}

// Lookback returns the ingestion window as a duration. The same value
// bounds both scraper acceptance and the feed queries.
func (c *Config) Lookback() time.Duration {
	return time.Duration(c.LookbackHours) * time.Hour
}

// FetchTimeout returns the per-HTTP-call timeout for source fetches.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSec) * time.Second
}

// Enabled reports whether the remote mirror is configured.
func (m *MirrorConfig) Enabled() bool {
	return m.DSN != ""
}

// Timeout returns the per-call deadline for mirror operations.
func (m *MirrorConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutSec) * time.Second
}
