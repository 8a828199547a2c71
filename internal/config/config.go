// Package config loads server configuration from environment variables (and
// an optional .env file), the same env/v11 + godotenv combination used
// across the rest of this codebase's service variants.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all runtime configuration for kvs-server.
type Config struct {
	Addr string `env:"KVS_ADDR" envDefault:"127.0.0.1:4000"`

	// Engine selects the storage backend: "log" for the log-structured
	// engine, "embedded" for the boltdb-backed one.
	Engine             string `env:"KVS_ENGINE" envDefault:"log"`
	DataDir            string `env:"KVS_DATA_DIR" envDefault:"./data"`
	Fsync              bool   `env:"KVS_FSYNC" envDefault:"false"`
	CompactionBytes    uint64 `env:"KVS_COMPACTION_BYTES" envDefault:"1048576"`
	MaxValueBytes      int    `env:"KVS_MAX_VALUE_BYTES" envDefault:"1048576"`

	// PoolWorkers is the fixed number of worker goroutines the dispatcher
	// pool starts at construction, matching the protocol's "n worker
	// threads (default 4)" sizing.
	PoolWorkers int `env:"KVS_POOL_WORKERS" envDefault:"4"`

	MaxConnections int `env:"KVS_MAX_CONNECTIONS" envDefault:"1000"`
	MaxGoroutines  int `env:"KVS_MAX_GOROUTINES" envDefault:"4000"`

	MaxRequestsPerSec int `env:"KVS_MAX_REQUESTS_PER_SEC" envDefault:"5000"`

	CPURejectThreshold float64       `env:"KVS_CPU_REJECT_THRESHOLD" envDefault:"90.0"`
	CPUPauseThreshold  float64       `env:"KVS_CPU_PAUSE_THRESHOLD" envDefault:"95.0"`
	MemoryLimitBytes   int64         `env:"KVS_MEMORY_LIMIT_BYTES" envDefault:"1073741824"`
	MonitorInterval    time.Duration `env:"KVS_MONITOR_INTERVAL" envDefault:"15s"`

	MetricsAddr string `env:"KVS_METRICS_ADDR" envDefault:":9090"`

	// NotifyURL, when set, points at a NATS server that receives a
	// best-effort publish on every mutation and compaction. Empty disables
	// notification entirely.
	NotifyURL     string `env:"KVS_NOTIFY_URL" envDefault:""`
	NotifySubject string `env:"KVS_NOTIFY_SUBJECT" envDefault:"kvs.events"`

	LogLevel  string `env:"KVS_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"KVS_LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from an optional .env file and the environment.
// Priority: environment variables > .env file > struct defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("KVS_ADDR is required")
	}
	if c.Engine != "log" && c.Engine != "embedded" {
		return fmt.Errorf("KVS_ENGINE must be log or embedded, got %q", c.Engine)
	}
	if c.PoolWorkers < 1 {
		return fmt.Errorf("KVS_POOL_WORKERS must be > 0, got %d", c.PoolWorkers)
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("KVS_MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	if c.CPURejectThreshold < 0 || c.CPURejectThreshold > 100 {
		return fmt.Errorf("KVS_CPU_REJECT_THRESHOLD must be 0-100, got %.1f", c.CPURejectThreshold)
	}
	if c.CPUPauseThreshold < 0 || c.CPUPauseThreshold > 100 {
		return fmt.Errorf("KVS_CPU_PAUSE_THRESHOLD must be 0-100, got %.1f", c.CPUPauseThreshold)
	}
	if c.CPUPauseThreshold < c.CPURejectThreshold {
		return fmt.Errorf("KVS_CPU_PAUSE_THRESHOLD (%.1f) must be >= KVS_CPU_REJECT_THRESHOLD (%.1f)",
			c.CPUPauseThreshold, c.CPURejectThreshold)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("KVS_LOG_LEVEL must be one of debug, info, warn, error (got %s)", c.LogLevel)
	}
	validFormats := map[string]bool{"json": true, "pretty": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("KVS_LOG_FORMAT must be one of json, pretty (got %s)", c.LogFormat)
	}
	return nil
}

// LogConfig records the resolved configuration at startup.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("addr", c.Addr).
		Str("engine", c.Engine).
		Str("data_dir", c.DataDir).
		Bool("fsync", c.Fsync).
		Uint64("compaction_bytes", c.CompactionBytes).
		Int("pool_workers", c.PoolWorkers).
		Int("max_connections", c.MaxConnections).
		Int("max_goroutines", c.MaxGoroutines).
		Int("max_requests_per_sec", c.MaxRequestsPerSec).
		Float64("cpu_reject_threshold", c.CPURejectThreshold).
		Float64("cpu_pause_threshold", c.CPUPauseThreshold).
		Str("metrics_addr", c.MetricsAddr).
		Bool("notify_enabled", c.NotifyURL != "").
		Msg("configuration loaded")
}
