package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Queue.Workers != 2 { t.Fatalf("default workers: %d", cfg.Queue.Workers) }
	if cfg.Queue.MaxSize != 100 { t.Fatalf("default max_size: %d", cfg.Queue.MaxSize) }
	if cfg.Queue.RetryBackoff != RetryBackoffLinear { t.Fatalf("default backoff: %v", cfg.Queue.RetryBackoff) }
	if cfg.Queue.MaxRetries != 2 { t.Fatalf("default max_retries: %d", cfg.Queue.MaxRetries) }
	if !cfg.Server.Enabled || cfg.Server.Addr != ":8850" { t.Fatalf("default server: %+v", cfg.Server) }
	if cfg.Events.Enabled { t.Fatal("events must default off") }
	if cfg.Logging.Level != LogLevelInfo { t.Fatalf("default log level: %v", cfg.Logging.Level) }
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil { t.Fatalf("Load error: %v", err) }
	if cfg.Queue.Workers != 2 { t.Fatalf("expected defaults, got workers=%d", cfg.Queue.Workers) }
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bookbinder.yaml")
	data := []byte(`
data_dir: /var/lib/bookbinder
queue:
  workers: 8
  job_timeout: 10m
  retry_backoff: exponential
  max_retries: 4
server:
  enabled: false
logging:
  level: debug
  format: json
`)
	if err := os.WriteFile(path, data, 0o600); err != nil { t.Fatalf("write config: %v", err) }

	cfg, err := Load(path)
	if err != nil { t.Fatalf("Load error: %v", err) }
	if cfg.DataDir != "/var/lib/bookbinder" { t.Fatalf("data_dir: %s", cfg.DataDir) }
	if cfg.Queue.Workers != 8 { t.Fatalf("workers: %d", cfg.Queue.Workers) }
	if cfg.Queue.JobTimeoutDuration() != 10*time.Minute { t.Fatalf("job_timeout: %v", cfg.Queue.JobTimeoutDuration()) }
	if cfg.Queue.RetryBackoff != RetryBackoffExponential { t.Fatalf("backoff: %v", cfg.Queue.RetryBackoff) }
	if cfg.Queue.MaxRetries != 4 { t.Fatalf("max_retries: %d", cfg.Queue.MaxRetries) }
	if cfg.Server.Enabled { t.Fatal("server should be disabled") }
	if cfg.Logging.Level != LogLevelDebug { t.Fatalf("log level: %v", cfg.Logging.Level) }
	if cfg.Logging.Format != LogFormatJSON { t.Fatalf("log format: %v", cfg.Logging.Format) }
	// Untouched sections keep their defaults.
	if cfg.Storage.Path != "./data/objects" { t.Fatalf("storage path: %s", cfg.Storage.Path) }
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("queue: [not a map"), 0o600); err != nil { t.Fatalf("write config: %v", err) }
	if _, err := Load(path); err == nil { t.Fatal("expected parse error") }
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BOOKBINDER_DATA_DIR", "/srv/bb")
	t.Setenv("BOOKBINDER_SERVER_ADDR", ":9999")
	t.Setenv("BOOKBINDER_QUEUE_WORKERS", "6")
	t.Setenv("BOOKBINDER_NATS_URL", "nats://localhost:4222")
	t.Setenv("BOOKBINDER_LOG_LEVEL", "DEBUG")

	cfg, err := Load("")
	if err != nil { t.Fatalf("Load error: %v", err) }
	if cfg.DataDir != "/srv/bb" { t.Fatalf("data_dir: %s", cfg.DataDir) }
	if cfg.Server.Addr != ":9999" { t.Fatalf("server addr: %s", cfg.Server.Addr) }
	if cfg.Queue.Workers != 6 { t.Fatalf("workers: %d", cfg.Queue.Workers) }
	if !cfg.Events.Enabled { t.Fatal("nats url in env must enable events") }
	if cfg.Events.NATSURL != "nats://localhost:4222" { t.Fatalf("nats url: %s", cfg.Events.NATSURL) }
	if cfg.Logging.Level != LogLevelDebug { t.Fatalf("log level: %v", cfg.Logging.Level) }
}

func TestEnvIgnoresInvalidWorkerCount(t *testing.T) {
	t.Setenv("BOOKBINDER_QUEUE_WORKERS", "banana")
	cfg, err := Load("")
	if err != nil { t.Fatalf("Load error: %v", err) }
	if cfg.Queue.Workers != 2 { t.Fatalf("workers: %d", cfg.Queue.Workers) }
}

func TestNormalizeClampsAndFallsBack(t *testing.T) {
	cfg := Default()
	cfg.Queue.Workers = -3
	cfg.Queue.MaxSize = 0
	cfg.Queue.RetryBackoff = "spiral"
	cfg.Logging.Level = "LOUD"
	cfg.normalize()
	if cfg.Queue.Workers != 2 { t.Fatalf("workers not clamped: %d", cfg.Queue.Workers) }
	if cfg.Queue.MaxSize != 100 { t.Fatalf("max_size not clamped: %d", cfg.Queue.MaxSize) }
	if cfg.Queue.RetryBackoff != RetryBackoffLinear { t.Fatalf("backoff fallback failed: %v", cfg.Queue.RetryBackoff) }
	if cfg.Logging.Level != LogLevelInfo { t.Fatalf("log level fallback failed: %v", cfg.Logging.Level) }
}

func TestValidateFailures(t *testing.T) {
	cfg := Default()
	cfg.Catalog.Path = ""
	if err := cfg.validate(); err == nil { t.Fatal("expected error for empty catalog path") }

	cfg = Default()
	cfg.Storage.Path = ""
	if err := cfg.validate(); err == nil { t.Fatal("expected error for empty storage path") }

	cfg = Default()
	cfg.Events.Enabled = true
	cfg.Events.NATSURL = ""
	if err := cfg.validate(); err == nil { t.Fatal("expected error for enabled events without nats url") }

	cfg = Default()
	cfg.Spool.Enabled = true
	cfg.Spool.Dir = ""
	if err := cfg.validate(); err == nil { t.Fatal("expected error for enabled spool without dir") }
}

func TestDurationFallbacks(t *testing.T) {
	q := QueueConfig{JobTimeout: "gibberish"}
	if q.JobTimeoutDuration() != 5*time.Minute { t.Fatalf("job timeout fallback: %v", q.JobTimeoutDuration()) }

	s := SweepConfig{Interval: "", Retention: "bad"}
	if s.IntervalDuration() != time.Hour { t.Fatalf("interval fallback: %v", s.IntervalDuration()) }
	if s.RetentionDuration() != 30*24*time.Hour { t.Fatalf("retention fallback: %v", s.RetentionDuration()) }
}
