// Package config loads and normalizes the bookbinder service configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// RetryBackoffMode selects the backoff curve for transient retries.
type RetryBackoffMode string

const (
	RetryBackoffFixed       RetryBackoffMode = "fixed"
	RetryBackoffLinear      RetryBackoffMode = "linear"
	RetryBackoffExponential RetryBackoffMode = "exponential"
)

// Config is the top-level service configuration.
type Config struct {
	DataDir string        `yaml:"data_dir"`
	Catalog CatalogConfig `yaml:"catalog"`
	Storage StorageConfig `yaml:"storage"`
	Queue   QueueConfig   `yaml:"queue"`
	Server  ServerConfig  `yaml:"server"`
	Events  EventsConfig  `yaml:"events"`
	Spool   SpoolConfig   `yaml:"spool"`
	Sweep   SweepConfig   `yaml:"sweep"`
	Logging LoggingConfig `yaml:"logging"`
}

// CatalogConfig locates the catalog database.
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// StorageConfig locates the content-addressed object store.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// QueueConfig tunes the generation worker pool and retry behavior.
type QueueConfig struct {
	Workers    int    `yaml:"workers"`
	MaxSize    int    `yaml:"max_size"`
	JobTimeout string `yaml:"job_timeout"`

	RetryBackoff      RetryBackoffMode `yaml:"retry_backoff"`
	RetryInitialDelay string           `yaml:"retry_initial_delay"`
	RetryMaxDelay     string           `yaml:"retry_max_delay"`
	MaxRetries        int              `yaml:"max_retries"`
}

// JobTimeoutDuration parses the job timeout, falling back to the default.
func (q QueueConfig) JobTimeoutDuration() time.Duration {
	if d, err := time.ParseDuration(q.JobTimeout); err == nil && d > 0 {
		return d
	}
	return 5 * time.Minute
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// EventsConfig configures the optional NATS lifecycle event publisher.
type EventsConfig struct {
	Enabled bool   `yaml:"enabled"`
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// SpoolConfig configures the inbox directory watcher for dataset uploads.
type SpoolConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// SweepConfig configures the periodic output retention sweep.
type SweepConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Interval  string `yaml:"interval"`
	Retention string `yaml:"retention"`
}

// IntervalDuration parses the sweep interval, falling back to hourly.
func (s SweepConfig) IntervalDuration() time.Duration {
	if d, err := time.ParseDuration(s.Interval); err == nil && d > 0 {
		return d
	}
	return time.Hour
}

// RetentionDuration parses the retention window, falling back to 30 days.
func (s SweepConfig) RetentionDuration() time.Duration {
	if d, err := time.ParseDuration(s.Retention); err == nil && d > 0 {
		return d
	}
	return 30 * 24 * time.Hour
}

// Default returns the baseline configuration before file and env overrides.
func Default() *Config {
	return &Config{
		DataDir: "./data",
		Catalog: CatalogConfig{Path: "./data/catalog.db"},
		Storage: StorageConfig{Path: "./data/objects"},
		Queue: QueueConfig{
			Workers:           2,
			MaxSize:           100,
			JobTimeout:        "5m",
			RetryBackoff:      RetryBackoffLinear,
			RetryInitialDelay: "1s",
			RetryMaxDelay:     "30s",
			MaxRetries:        2,
		},
		Server: ServerConfig{Enabled: true, Addr: ":8850"},
		Events: EventsConfig{Subject: "bookbinder.jobs"},
		Spool:  SpoolConfig{Dir: "./data/spool"},
		Sweep:  SweepConfig{Interval: "1h", Retention: "720h"},
		Logging: LoggingConfig{
			Level:  LogLevelInfo,
			Format: LogFormatText,
		},
	}
}

// Load reads configuration from path, layered over defaults, then applies
// environment overrides. A missing file is not an error; env-only setups are
// supported.
func Load(path string) (*Config, error) {
	// Best effort; absence of a .env file is the normal case.
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 - operator-supplied path
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("BOOKBINDER_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("BOOKBINDER_CATALOG_PATH"); v != "" {
		c.Catalog.Path = v
	}
	if v := os.Getenv("BOOKBINDER_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("BOOKBINDER_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("BOOKBINDER_NATS_URL"); v != "" {
		c.Events.NATSURL = v
		c.Events.Enabled = true
	}
	if v := os.Getenv("BOOKBINDER_QUEUE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Queue.Workers = n
		}
	}
	if v := os.Getenv("BOOKBINDER_LOG_LEVEL"); v != "" {
		c.Logging.Level = NormalizeLogLevel(v)
	}
	if v := os.Getenv("BOOKBINDER_LOG_FORMAT"); v != "" {
		c.Logging.Format = NormalizeLogFormat(v)
	}
}

func (c *Config) normalize() {
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 2
	}
	if c.Queue.MaxSize <= 0 {
		c.Queue.MaxSize = 100
	}
	switch c.Queue.RetryBackoff {
	case RetryBackoffFixed, RetryBackoffLinear, RetryBackoffExponential:
	default:
		c.Queue.RetryBackoff = RetryBackoffLinear
	}
	c.Logging.Level = NormalizeLogLevel(string(c.Logging.Level))
	c.Logging.Format = NormalizeLogFormat(string(c.Logging.Format))
}

func (c *Config) validate() error {
	if c.Catalog.Path == "" {
		return fmt.Errorf("catalog.path is required")
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	if c.Events.Enabled && c.Events.NATSURL == "" {
		return fmt.Errorf("events.nats_url is required when events are enabled")
	}
	if c.Spool.Enabled && c.Spool.Dir == "" {
		return fmt.Errorf("spool.dir is required when the spool watcher is enabled")
	}
	return nil
}
