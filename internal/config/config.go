// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all pipeline configuration knobs loaded via Viper.
type Config struct {
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	Curate   CurateConfig   `mapstructure:"curate"`
	Output   OutputConfig   `mapstructure:"output"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// UpstreamConfig describes the listing and detail endpoints.
type UpstreamConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	ListingPath    string `mapstructure:"listing_path"`
	DetailPath     string `mapstructure:"detail_path"`
	Token          string `mapstructure:"token"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	PageSize       int    `mapstructure:"page_size"`
}

// CrawlConfig governs the crawl loop and its waits.
type CrawlConfig struct {
	SeedCursor              int64 `mapstructure:"seed_cursor"`
	TargetCount             int   `mapstructure:"target_count"`
	QuotaPaddingSeconds     int   `mapstructure:"quota_padding_seconds"`
	QuotaFallbackSeconds    int   `mapstructure:"quota_fallback_seconds"`
	ThrottleCooldownSeconds int   `mapstructure:"throttle_cooldown_seconds"`
	ServerBackoffSeconds    int   `mapstructure:"server_backoff_seconds"`
}

// CurateConfig holds the filter parameters.
type CurateConfig struct {
	// Cutoff is a date; entities must be created strictly after it.
	Cutoff string `mapstructure:"cutoff"`
}

// OutputConfig sets the local snapshot paths.
type OutputConfig struct {
	RawPath     string `mapstructure:"raw_path"`
	CuratedPath string `mapstructure:"curated_path"`
}

// StorageConfig selects the blob mirror for snapshots.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig controls the Prometheus endpoint served during a run.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Storage providers.
const (
	StorageNone   = "none"
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("USERDIR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The token is commonly provided under its conventional name.
	if err := v.BindEnv("upstream.token", "USERDIR_UPSTREAM_TOKEN", "GITHUB_TOKEN"); err != nil {
		return Config{}, fmt.Errorf("bind token env: %w", err)
	}

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
	v.SetDefault("upstream.base_url", "https://api.github.com")
	v.SetDefault("upstream.listing_path", "/users")
	v.SetDefault("upstream.detail_path", "/users")
	v.SetDefault("upstream.user_agent", "userdir-pipeline/0.1")
	v.SetDefault("upstream.timeout_seconds", 15)
	v.SetDefault("upstream.page_size", 30)
	v.SetDefault("crawl.seed_cursor", 0)
	v.SetDefault("crawl.target_count", 100)
	v.SetDefault("crawl.quota_padding_seconds", 1)
	v.SetDefault("crawl.quota_fallback_seconds", 60)
	v.SetDefault("crawl.throttle_cooldown_seconds", 60)
	v.SetDefault("crawl.server_backoff_seconds", 30)
	v.SetDefault("curate.cutoff", "2015-01-01")
	v.SetDefault("output.raw_path", "data/users.json")
	v.SetDefault("output.curated_path", "data/filtered_users.json")
	v.SetDefault("storage.provider", StorageNone)
	v.SetDefault("storage.prefix", "userdir")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "curated_users")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("upstream.base_url must be an absolute URL")
	}
	if c.Upstream.TimeoutSeconds <= 0 {
		return fmt.Errorf("upstream.timeout_seconds must be > 0")
	}
	if c.Upstream.PageSize <= 0 {
		return fmt.Errorf("upstream.page_size must be > 0")
	}
	if c.Crawl.SeedCursor < 0 {
		return fmt.Errorf("crawl.seed_cursor must be >= 0")
	}
	if c.Crawl.TargetCount < 0 {
		return fmt.Errorf("crawl.target_count must be >= 0")
	}
	if c.Crawl.QuotaPaddingSeconds < 0 || c.Crawl.QuotaFallbackSeconds <= 0 ||
		c.Crawl.ThrottleCooldownSeconds <= 0 || c.Crawl.ServerBackoffSeconds <= 0 {
		return fmt.Errorf("crawl wait settings must be > 0")
	}
	if _, err := c.CutoffTime(); err != nil {
		return err
	}
	if c.Output.RawPath == "" || c.Output.CuratedPath == "" {
		return fmt.Errorf("output.raw_path and output.curated_path are required")
	}
	if c.Output.RawPath == c.Output.CuratedPath {
		return fmt.Errorf("output.raw_path and output.curated_path must differ")
	}
	switch c.Storage.Provider {
	case StorageNone, StorageMemory:
	case StorageLocal:
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir must be set when storage.provider is local")
		}
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.provider is gcs")
		}
	default:
		return fmt.Errorf("storage.provider %q is not supported", c.Storage.Provider)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// CutoffTime parses curate.cutoff as a UTC date.
func (c Config) CutoffTime() (time.Time, error) {
	t, err := time.ParseInLocation(time.DateOnly, strings.TrimSpace(c.Curate.Cutoff), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("curate.cutoff must be a YYYY-MM-DD date: %w", err)
	}
	return t, nil
}

// Seconds converts a whole-second setting to a Duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
