// Package config loads the pagestore configuration: built-in defaults, an
// optional YAML file, then PAGESTORE_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	EnvPrefix = "PAGESTORE_"
	// EnvFile names the YAML file read by Load when no path is given.
	EnvFile = EnvPrefix + "CONFIG"
)

type (
	Config struct {
		Log        LogConfig        `yaml:"log"`
		Store      StoreConfig      `yaml:"store"`
		Snapshot   SnapshotConfig   `yaml:"snapshot"`
		Projection ProjectionConfig `yaml:"projection"`
		Retry      RetryConfig      `yaml:"retry"`
		Cache      CacheConfig      `yaml:"cache"`
		Metrics    MetricsConfig    `yaml:"metrics"`
		Workload   WorkloadConfig   `yaml:"workload"`
	}

	LogConfig struct {
		Level  string `yaml:"level" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" validate:"oneof=text json"`
	}

	StoreConfig struct {
		Driver string `yaml:"driver" validate:"oneof=memory sqlite postgres nats"`
		// DSN of the sqlite file or the postgres database.
		DSN  string     `yaml:"dsn" validate:"required_if=Driver sqlite,required_if=Driver postgres"`
		NATS NATSConfig `yaml:"nats"`
	}

	NATSConfig struct {
		// URL defaults to $NATS_URL.
		URL              string `yaml:"url"`
		Stream           string `yaml:"stream"`
		SubjectPrefix    string `yaml:"subject_prefix"`
		SnapshotBucket   string `yaml:"snapshot_bucket" validate:"required"`
		CheckpointBucket string `yaml:"checkpoint_bucket" validate:"required"`
	}

	SnapshotConfig struct {
		Enabled bool   `yaml:"enabled"`
		Every   uint64 `yaml:"every" validate:"gte=1"`
	}

	ProjectionConfig struct {
		Mode         string        `yaml:"mode" validate:"oneof=sync async"`
		PollInterval time.Duration `yaml:"poll_interval" validate:"gt=0"`
		BatchSize    int           `yaml:"batch_size" validate:"gte=1"`
	}

	RetryConfig struct {
		MaxAttempts int `yaml:"max_attempts" validate:"gte=1,lte=100"`
	}

	CacheConfig struct {
		// PageStates bounds the page views cached by GetState.
		PageStates int `yaml:"page_states" validate:"gte=0"`
	}

	MetricsConfig struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr" validate:"required_if=Enabled true"`
	}

	// WorkloadConfig drives cmd/pageload.
	WorkloadConfig struct {
		Pages       int `yaml:"pages" validate:"gte=1"`
		Updates     int `yaml:"updates" validate:"gte=0"`
		Blocks      int `yaml:"blocks" validate:"gte=0"`
		Concurrency int `yaml:"concurrency" validate:"gte=1"`
	}
)

func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Store: StoreConfig{
			Driver: "memory",
			NATS: NATSConfig{
				Stream:           "PAGESTORE_ES",
				SubjectPrefix:    "pagestore.es",
				SnapshotBucket:   "pagestore_snapshots",
				CheckpointBucket: "pagestore_checkpoints",
			},
		},
		Snapshot:   SnapshotConfig{Enabled: true, Every: 50},
		Projection: ProjectionConfig{Mode: "sync", PollInterval: 250 * time.Millisecond, BatchSize: 500},
		Retry:      RetryConfig{MaxAttempts: 3},
		Cache:      CacheConfig{PageStates: 1024},
		Metrics:    MetricsConfig{Addr: ":9090"},
		Workload:   WorkloadConfig{Pages: 100, Updates: 10, Blocks: 3, Concurrency: 4},
	}
}

// Load reads path, or the file named by PAGESTORE_CONFIG when path is
// empty, applies the environment and validates the result. Without a file
// only defaults and the environment are used.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = getEnv(EnvFile, "")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := Parse(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Parse decodes YAML onto cfg. Unknown keys are rejected.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Log.Level = getEnv(EnvPrefix+"LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv(EnvPrefix+"LOG_FORMAT", c.Log.Format)

	c.Store.Driver = getEnv(EnvPrefix+"STORE_DRIVER", c.Store.Driver)
	c.Store.DSN = getEnv(EnvPrefix+"STORE_DSN", c.Store.DSN)
	c.Store.NATS.URL = getEnv(EnvPrefix+"NATS_URL", c.Store.NATS.URL)
	c.Store.NATS.Stream = getEnv(EnvPrefix+"NATS_STREAM", c.Store.NATS.Stream)
	c.Store.NATS.SubjectPrefix = getEnv(EnvPrefix+"NATS_SUBJECT_PREFIX", c.Store.NATS.SubjectPrefix)
	c.Store.NATS.SnapshotBucket = getEnv(EnvPrefix+"NATS_SNAPSHOT_BUCKET", c.Store.NATS.SnapshotBucket)
	c.Store.NATS.CheckpointBucket = getEnv(EnvPrefix+"NATS_CHECKPOINT_BUCKET", c.Store.NATS.CheckpointBucket)

	c.Snapshot.Enabled = getEnvBool(EnvPrefix+"SNAPSHOT_ENABLED", c.Snapshot.Enabled)
	c.Snapshot.Every = uint64(getEnvInt(EnvPrefix+"SNAPSHOT_EVERY", int(c.Snapshot.Every)))

	c.Projection.Mode = getEnv(EnvPrefix+"PROJECTION_MODE", c.Projection.Mode)
	c.Projection.PollInterval = getEnvDuration(EnvPrefix+"PROJECTION_POLL_INTERVAL", c.Projection.PollInterval)
	c.Projection.BatchSize = getEnvInt(EnvPrefix+"PROJECTION_BATCH_SIZE", c.Projection.BatchSize)

	c.Retry.MaxAttempts = getEnvInt(EnvPrefix+"RETRY_MAX_ATTEMPTS", c.Retry.MaxAttempts)

	c.Cache.PageStates = getEnvInt(EnvPrefix+"CACHE_PAGE_STATES", c.Cache.PageStates)

	c.Metrics.Enabled = getEnvBool(EnvPrefix+"METRICS_ENABLED", c.Metrics.Enabled)
	c.Metrics.Addr = getEnv(EnvPrefix+"METRICS_ADDR", c.Metrics.Addr)

	c.Workload.Pages = getEnvInt(EnvPrefix+"WORKLOAD_PAGES", c.Workload.Pages)
	c.Workload.Updates = getEnvInt(EnvPrefix+"WORKLOAD_UPDATES", c.Workload.Updates)
	c.Workload.Blocks = getEnvInt(EnvPrefix+"WORKLOAD_BLOCKS", c.Workload.Blocks)
	c.Workload.Concurrency = getEnvInt(EnvPrefix+"WORKLOAD_CONCURRENCY", c.Workload.Concurrency)
}
