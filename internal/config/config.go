// Package config loads and validates fetcher configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/listinglab/pagepull/internal/fetch"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Workers      int                      `mapstructure:"workers"`
	PollInterval time.Duration            `mapstructure:"poll_interval"`
	GracePeriod  time.Duration            `mapstructure:"grace_period"`
	Logging      LoggingConfig            `mapstructure:"logging"`
	Server       ServerConfig             `mapstructure:"server"`
	Fetcher      FetcherConfig            `mapstructure:"fetcher"`
	Detector     DetectorConfig           `mapstructure:"detector"`
	Storage      StorageConfig            `mapstructure:"storage"`
	State        StateConfig              `mapstructure:"state"`
	Publish      PublishConfig            `mapstructure:"publish"`
	Websites     map[string]WebsiteConfig `mapstructure:"websites"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ServerConfig controls the status/metrics HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// FetcherConfig selects and tunes the page retrieval transport.
type FetcherConfig struct {
	// Mode is "http" for the lightweight client or "headless" for the
	// full browser.
	Mode        string        `mapstructure:"mode"`
	Timeout     time.Duration `mapstructure:"timeout"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
	MaxParallel int           `mapstructure:"max_parallel"`
	UserAgents  []string      `mapstructure:"user_agents"`
}

// DetectorConfig governs block/challenge classification thresholds.
type DetectorConfig struct {
	MinContentBytes   int      `mapstructure:"min_content_bytes"`
	BlockPhrases      []string `mapstructure:"block_phrases"`
	ChallengePhrases  []string `mapstructure:"challenge_phrases"`
	RequiredSelectors []string `mapstructure:"required_selectors"`
}

// StorageConfig selects where successful page bodies are persisted.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	OutputDir string `mapstructure:"output_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// StateConfig selects the ledger backend.
type StateConfig struct {
	Provider    string `mapstructure:"provider"`
	LedgerPath  string `mapstructure:"ledger_path"`
	FailurePath string `mapstructure:"failure_path"`
	DSN         string `mapstructure:"dsn"`
	Table       string `mapstructure:"table"`
}

// PublishConfig controls optional completion-event publishing.
type PublishConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// WebsiteConfig holds the pagination and pacing knobs for one website.
type WebsiteConfig struct {
	BaseURLTemplate      string        `mapstructure:"base_url_template"`
	FirstURL             string        `mapstructure:"first_url"`
	PageIncrement        int           `mapstructure:"page_increment"`
	LastPageNumber       int           `mapstructure:"last_page_number"`
	LinksCSV             string        `mapstructure:"links_csv"`
	LinksColumn          string        `mapstructure:"links_column"`
	MaxRetries           int           `mapstructure:"max_retries"`
	MinDelay             time.Duration `mapstructure:"min_delay"`
	MaxDelay             time.Duration `mapstructure:"max_delay"`
	CooldownEvery        int           `mapstructure:"cooldown_every"`
	CooldownInterval     time.Duration `mapstructure:"cooldown_interval"`
	SessionTimeout       time.Duration `mapstructure:"session_timeout"`
	RotateEveryNRequests int           `mapstructure:"rotate_every_n_requests"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PAGEPULL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
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
	v.SetDefault("workers", 4)
	v.SetDefault("poll_interval", "2s")
	v.SetDefault("grace_period", "15s")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)

	v.SetDefault("fetcher.mode", "http")
	v.SetDefault("fetcher.timeout", "60s")
	v.SetDefault("fetcher.nav_timeout", "45s")
	v.SetDefault("fetcher.max_parallel", 2)

	v.SetDefault("detector.min_content_bytes", 500)

	v.SetDefault("storage.provider", "fs")
	v.SetDefault("storage.output_dir", "data/raw_html")

	v.SetDefault("state.provider", "file")
	v.SetDefault("state.ledger_path", "data/state/ledger.json")
	v.SetDefault("state.failure_path", "data/state/failures.json")
	v.SetDefault("state.table", "page_tasks")

	v.SetDefault("publish.provider", "none")
}

// Validate checks that the configuration is complete enough to run.
// Incomplete configuration is fatal at startup.
func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be >= 1", fetch.ErrConfigMissing)
	}
	switch c.Fetcher.Mode {
	case "http", "headless":
	default:
		return fmt.Errorf("%w: fetcher.mode must be http or headless, got %q",
			fetch.ErrConfigMissing, c.Fetcher.Mode)
	}
	switch c.Storage.Provider {
	case "fs":
		if c.Storage.OutputDir == "" {
			return fmt.Errorf("%w: storage.output_dir", fetch.ErrConfigMissing)
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("%w: storage.gcs_bucket", fetch.ErrConfigMissing)
		}
	default:
		return fmt.Errorf("%w: storage.provider must be fs or gcs, got %q",
			fetch.ErrConfigMissing, c.Storage.Provider)
	}
	switch c.State.Provider {
	case "file":
		if c.State.LedgerPath == "" {
			return fmt.Errorf("%w: state.ledger_path", fetch.ErrConfigMissing)
		}
		if c.State.FailurePath == "" {
			return fmt.Errorf("%w: state.failure_path", fetch.ErrConfigMissing)
		}
	case "postgres":
		if c.State.DSN == "" {
			return fmt.Errorf("%w: state.dsn", fetch.ErrConfigMissing)
		}
		if c.State.FailurePath == "" {
			return fmt.Errorf("%w: state.failure_path", fetch.ErrConfigMissing)
		}
	default:
		return fmt.Errorf("%w: state.provider must be file or postgres, got %q",
			fetch.ErrConfigMissing, c.State.Provider)
	}
	if c.Publish.Provider == "pubsub" {
		if c.Publish.ProjectID == "" || c.Publish.Topic == "" {
			return fmt.Errorf("%w: publish.project_id and publish.topic", fetch.ErrConfigMissing)
		}
	}
	if len(c.Websites) == 0 {
		return fmt.Errorf("%w: at least one website", fetch.ErrConfigMissing)
	}
	for name, site := range c.Websites {
		if err := site.validate(); err != nil {
			return fmt.Errorf("website %q: %w", name, err)
		}
	}
	return nil
}

func (w WebsiteConfig) validate() error {
	if w.LinksCSV == "" {
		if w.BaseURLTemplate == "" && w.FirstURL == "" {
			return fmt.Errorf("%w: base_url_template or first_url (or links_csv)",
				fetch.ErrConfigMissing)
		}
		if w.LastPageNumber < 1 {
			return fmt.Errorf("%w: last_page_number", fetch.ErrConfigMissing)
		}
	}
	if w.MinDelay > w.MaxDelay && w.MaxDelay != 0 {
		return fmt.Errorf("min_delay %s exceeds max_delay %s", w.MinDelay, w.MaxDelay)
	}
	return nil
}

// Site returns the named website config with per-site defaults applied.
func (c Config) Site(name string) (WebsiteConfig, error) {
	site, ok := c.Websites[name]
	if !ok {
		return WebsiteConfig{}, fmt.Errorf("%w: website %q", fetch.ErrConfigMissing, name)
	}
	if site.MaxRetries <= 0 {
		site.MaxRetries = 3
	}
	if site.MinDelay <= 0 {
		site.MinDelay = time.Second
	}
	if site.MaxDelay < site.MinDelay {
		site.MaxDelay = 5 * time.Second
	}
	if site.CooldownEvery <= 0 {
		site.CooldownEvery = 10
	}
	if site.CooldownInterval <= 0 {
		site.CooldownInterval = 3 * time.Minute
	}
	if site.RotateEveryNRequests <= 0 {
		site.RotateEveryNRequests = 35
	}
	if site.LinksColumn == "" {
		site.LinksColumn = "@id"
	}
	return site, nil
}
