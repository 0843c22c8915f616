package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	defaults "github.com/xtxerr/vigil/config"
	"github.com/xtxerr/vigil/internal/errors"
)

// Config represents the complete daemon configuration.
type Config struct {
	// DataDir is the root directory for all storage files.
	DataDir string `yaml:"data_dir"`

	// Store configures the bounded store and archiver.
	Store StoreConfig `yaml:"store"`

	// Ingestion configures the WAL and batch flusher.
	Ingestion IngestionConfig `yaml:"ingestion"`

	// Collector configures sample acquisition.
	Collector CollectorConfig `yaml:"collector"`

	// Thresholds configures the classifier's rule file.
	Thresholds ThresholdsConfig `yaml:"thresholds"`

	// Predictor configures the trend predictor.
	Predictor PredictorConfig `yaml:"predictor"`

	// Sinks configures where alerts and forecasts are written.
	Sinks SinksConfig `yaml:"sinks"`

	// Telemetry configures the metrics endpoint.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Logging configures the process logger.
	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig configures the bounded store.
type StoreConfig struct {
	// Backend is the store implementation: duckdb or memory.
	Backend string `yaml:"backend"`

	// DSN is the DuckDB data source. Defaults to {DataDir}/vigil.duckdb.
	// An explicit empty string is not distinguishable from unset; use
	// backend memory for an ephemeral store.
	DSN string `yaml:"dsn"`

	// MaxEntries is the active store capacity.
	MaxEntries int `yaml:"max_entries"`

	// CompactionPolicy is overflow or batch.
	CompactionPolicy string `yaml:"compaction_policy"`

	// ArchiveLevel is the zstd level of archived blobs: fastest, default, better, best.
	ArchiveLevel string `yaml:"archive_level"`
}

// IngestionConfig configures the ingestion pipeline.
type IngestionConfig struct {
	// BatchSize is the number of samples that seals a batch.
	BatchSize int `yaml:"batch_size"`

	// WAL configures the Write-Ahead Log.
	WAL WALConfig `yaml:"wal"`

	// Flush configures flush behavior.
	Flush FlushConfig `yaml:"flush"`

	// DrainTimeout bounds the final flush during shutdown.
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

// WALConfig configures the Write-Ahead Log.
type WALConfig struct {
	// Dir is the WAL directory. Defaults to {DataDir}/wal.
	Dir string `yaml:"dir"`

	// SyncMode is the sync mode: async, sync, fsync.
	SyncMode string `yaml:"sync_mode"`

	// MaxSegmentSize is the maximum segment size before rotation.
	MaxSegmentSize int64 `yaml:"max_segment_size"`
}

// FlushConfig configures flush behavior.
type FlushConfig struct {
	// Interval is the maximum age of a non-empty unsealed batch.
	Interval time.Duration `yaml:"interval"`

	// Retry configures commit retries.
	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig configures bounded exponential backoff.
type RetryConfig struct {
	MaxAttempts     uint          `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Multiplier      float64       `yaml:"multiplier"`
}

// CollectorConfig configures sample acquisition.
type CollectorConfig struct {
	// Interval is the time between collections.
	Interval time.Duration `yaml:"interval"`

	// DiskPath is the mount point whose free space is reported.
	DiskPath string `yaml:"disk_path"`
}

// ThresholdsConfig configures the classifier's rule file.
type ThresholdsConfig struct {
	// Path is the threshold YAML file. Empty uses the built-in table.
	Path string `yaml:"path"`

	// ReloadInterval is how often the file's mod time is checked.
	ReloadInterval time.Duration `yaml:"reload_interval"`
}

// PredictorConfig configures the trend predictor.
type PredictorConfig struct {
	// Enabled turns the predictor loop on.
	Enabled bool `yaml:"enabled"`

	// Interval is the time between forecast cycles.
	Interval time.Duration `yaml:"interval"`

	// Estimator is ema, diffar or linear.
	Estimator string `yaml:"estimator"`

	// Window is the number of most recent committed samples used per forecast.
	Window int `yaml:"window"`

	// Alpha and TrendPct configure the ema estimator.
	Alpha    float64 `yaml:"alpha"`
	TrendPct float64 `yaml:"trend_pct"`

	// P and Q configure the diffar estimator.
	P int `yaml:"p"`
	Q int `yaml:"q"`

	// LinearMinSamples is the shortest history the linear estimator fits.
	LinearMinSamples int `yaml:"linear_min_samples"`

	// AwaitTimeout bounds the wait for the sample that scores a forecast.
	AwaitTimeout time.Duration `yaml:"await_timeout"`
}

// SinksConfig configures alert and forecast outputs.
type SinksConfig struct {
	Alerts    SinkConfig `yaml:"alerts"`
	Forecasts SinkConfig `yaml:"forecasts"`

	// AlertQueueSize is the capacity of the alert dispatch queue.
	AlertQueueSize int `yaml:"alert_queue_size"`
}

// SinkConfig configures a single sink.
type SinkConfig struct {
	// Kind is jsonl, duckdb or discard.
	Kind string `yaml:"kind"`

	// Path is the output file for jsonl sinks.
	Path string `yaml:"path"`
}

// TelemetryConfig configures the metrics endpoint.
type TelemetryConfig struct {
	// Listen is the address serving /metrics. Empty disables the endpoint.
	Listen string `yaml:"listen"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load loads configuration from a YAML file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML configuration over the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w: %w", errors.ErrInvalidConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: defaults.DefaultDataDir,
		Store: StoreConfig{
			Backend:          defaults.DefaultStoreBackend,
			MaxEntries:       defaults.DefaultMaxEntries,
			CompactionPolicy: defaults.DefaultCompactionPolicy,
			ArchiveLevel:     defaults.DefaultArchiveLevel,
		},
		Ingestion: IngestionConfig{
			BatchSize: defaults.DefaultBatchSize,
			WAL: WALConfig{
				SyncMode:       defaults.DefaultWALSyncMode,
				MaxSegmentSize: defaults.DefaultWALMaxSegmentSize,
			},
			Flush: FlushConfig{
				Interval: defaults.DefaultFlushInterval,
				Retry: RetryConfig{
					MaxAttempts:     defaults.DefaultMaxRetries,
					InitialInterval: defaults.DefaultRetryInitialInterval,
					MaxInterval:     defaults.DefaultRetryMaxInterval,
					Multiplier:      defaults.DefaultRetryMultiplier,
				},
			},
			DrainTimeout: defaults.DefaultDrainTimeout,
		},
		Collector: CollectorConfig{
			Interval: defaults.DefaultCollectorInterval,
			DiskPath: "/",
		},
		Thresholds: ThresholdsConfig{
			ReloadInterval: defaults.DefaultThresholdReloadInterval,
		},
		Predictor: PredictorConfig{
			Enabled:          true,
			Interval:         defaults.DefaultPredictorInterval,
			Estimator:        defaults.DefaultPredictorEstimator,
			Window:           defaults.DefaultPredictorWindow,
			Alpha:            defaults.DefaultEMAAlpha,
			TrendPct:         defaults.DefaultEMATrendPct,
			P:                defaults.DefaultDiffARP,
			Q:                defaults.DefaultDiffARQ,
			LinearMinSamples: defaults.DefaultLinearMinSamples,
			AwaitTimeout:     defaults.DefaultAwaitTimeout,
		},
		Sinks: SinksConfig{
			Alerts:         SinkConfig{Kind: "jsonl", Path: "alerts.jsonl"},
			Forecasts:      SinkConfig{Kind: "jsonl", Path: "forecasts.jsonl"},
			AlertQueueSize: defaults.DefaultAlertQueueSize,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
