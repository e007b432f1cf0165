// Package config loads and validates the YAML-backed configuration for a
// kvstore process: read the file, unmarshal, apply defaults, validate.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig configures the admin gRPC surface (health check and
// reflection only; the persistence core itself is an embedded library, not
// a network service).
type ServerConfig struct {
	NodeID          string        `yaml:"node_id"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Config is the complete configuration for a kvstore process.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Revision  RevisionConfig  `yaml:"revision"`
	Scan      ScanConfig      `yaml:"scan"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// StorageConfig controls where revision files live and how a revFile is
// sized on creation.
type StorageConfig struct {
	DataDir           string  `yaml:"data_dir"`
	NumVBuckets       int     `yaml:"num_vbuckets"`
	MaxDiskUsage      float64 `yaml:"max_disk_usage"`
	BloomFilterFP     float64 `yaml:"bloom_filter_fp"`
	ExpectedItemsHint int     `yaml:"expected_items_hint"`
	OpenRetryAttempts int     `yaml:"open_retry_attempts"`
}

// RevisionConfig controls compaction triggering and the deferred-deletion
// worker pool that unlinks superseded revision files.
type RevisionConfig struct {
	CompactionTriggerFragmentation float64 `yaml:"compaction_trigger_fragmentation"`
	DeletionWorkers                int     `yaml:"deletion_workers"`
	DeletionQueueSize               int     `yaml:"deletion_queue_size"`
}

// ScanConfig bounds the range-scan engine.
type ScanConfig struct {
	MaxConcurrentScans int `yaml:"max_concurrent_scans"`
}

// MetricsConfig controls the Prometheus exporter.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig reads filePath, applies defaults for anything unset, and
// validates the result.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 50052
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "/var/lib/kvstore"
	}
	if cfg.Storage.NumVBuckets == 0 {
		cfg.Storage.NumVBuckets = 1024
	}
	if cfg.Storage.MaxDiskUsage == 0 {
		cfg.Storage.MaxDiskUsage = 0.9
	}
	if cfg.Storage.BloomFilterFP == 0 {
		cfg.Storage.BloomFilterFP = 0.01
	}
	if cfg.Storage.ExpectedItemsHint == 0 {
		cfg.Storage.ExpectedItemsHint = 100000
	}
	if cfg.Storage.OpenRetryAttempts == 0 {
		cfg.Storage.OpenRetryAttempts = 2
	}

	if cfg.Revision.CompactionTriggerFragmentation == 0 {
		cfg.Revision.CompactionTriggerFragmentation = 0.5
	}
	if cfg.Revision.DeletionWorkers == 0 {
		cfg.Revision.DeletionWorkers = 2
	}
	if cfg.Revision.DeletionQueueSize == 0 {
		cfg.Revision.DeletionQueueSize = 64
	}

	if cfg.Scan.MaxConcurrentScans == 0 {
		cfg.Scan.MaxConcurrentScans = 100
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate checks invariants setDefaults cannot repair on its own.
func (c *Config) Validate() error {
	if c.Server.NodeID == "" {
		return fmt.Errorf("server.node_id is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Storage.MaxDiskUsage <= 0 || c.Storage.MaxDiskUsage > 1 {
		return fmt.Errorf("storage.max_disk_usage must be in (0, 1]")
	}
	if c.Storage.NumVBuckets < 1 || c.Storage.NumVBuckets > 65536 {
		return fmt.Errorf("storage.num_vbuckets must be between 1 and 65536")
	}
	if c.Storage.BloomFilterFP <= 0 || c.Storage.BloomFilterFP >= 1 {
		return fmt.Errorf("storage.bloom_filter_fp must be in (0, 1)")
	}
	return nil
}
