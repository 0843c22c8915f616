package config

import (
	"fmt"
	"os"
	"path/filepath"

	defaults "github.com/xtxerr/vigil/config"
	"github.com/xtxerr/vigil/internal/errors"
	"github.com/xtxerr/vigil/internal/logging"
	"github.com/xtxerr/vigil/internal/storage/archive"
	"github.com/xtxerr/vigil/internal/storage/compaction"
)

// Validate checks the configuration for errors.
// Every problem is reported; the result classifies as a configuration error.
func (c *Config) Validate() error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, errors.NewMissingField("data_dir"))
	}

	if err := c.Store.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}

	if err := c.Ingestion.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("ingestion: %w", err))
	}

	if c.Collector.Interval <= 0 {
		errs = append(errs, errors.NewValidation("collector.interval", "must be positive"))
	}

	if c.Thresholds.ReloadInterval < 0 {
		errs = append(errs, errors.NewValidation("thresholds.reload_interval", "must be non-negative"))
	}

	if err := c.Predictor.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("predictor: %w", err))
	}

	if err := c.Sinks.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("sinks: %w", err))
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, errors.NewInvalidValue("logging.level", c.Logging.Level, "must be debug, info, warn or error"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the store configuration.
func (c *StoreConfig) Validate() error {
	var errs []error

	switch c.Backend {
	case "duckdb", "memory":
	default:
		errs = append(errs, errors.NewInvalidValue("backend", c.Backend, "must be duckdb or memory"))
	}

	if c.MaxEntries <= 0 {
		errs = append(errs, errors.NewValidation("max_entries", "must be positive"))
	}

	if _, err := compaction.ParsePolicy(c.CompactionPolicy); err != nil {
		errs = append(errs, err)
	}

	if _, err := archive.ParseLevel(c.ArchiveLevel); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the ingestion configuration.
func (c *IngestionConfig) Validate() error {
	var errs []error

	if c.BatchSize <= 0 {
		errs = append(errs, errors.NewValidation("batch_size", "must be positive"))
	}

	switch c.WAL.SyncMode {
	case "async", "sync", "fsync", "":
	default:
		errs = append(errs, errors.NewInvalidValue("wal.sync_mode", c.WAL.SyncMode, "must be one of: async, sync, fsync"))
	}

	if c.WAL.MaxSegmentSize < 0 {
		errs = append(errs, errors.NewValidation("wal.max_segment_size", "must be non-negative"))
	}

	if c.Flush.Interval <= 0 {
		errs = append(errs, errors.NewValidation("flush.interval", "must be positive"))
	}

	r := c.Flush.Retry
	if r.MaxAttempts == 0 {
		errs = append(errs, errors.NewValidation("flush.retry.max_attempts", "must be positive"))
	}
	if r.InitialInterval <= 0 {
		errs = append(errs, errors.NewValidation("flush.retry.initial_interval", "must be positive"))
	}
	if r.MaxInterval < r.InitialInterval {
		errs = append(errs, errors.NewValidation("flush.retry.max_interval", "must be >= initial_interval"))
	}
	if r.Multiplier < 1 {
		errs = append(errs, errors.NewValidation("flush.retry.multiplier", "must be >= 1"))
	}

	if c.DrainTimeout <= 0 {
		errs = append(errs, errors.NewValidation("drain_timeout", "must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the predictor configuration.
func (c *PredictorConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	var errs []error

	if c.Interval <= 0 {
		errs = append(errs, errors.NewValidation("interval", "must be positive"))
	}
	if c.AwaitTimeout <= 0 {
		errs = append(errs, errors.NewValidation("await_timeout", "must be positive"))
	}
	if c.Window <= 0 {
		errs = append(errs, errors.NewValidation("window", "must be positive"))
	}

	switch c.Estimator {
	case "ema":
		if c.Alpha <= 0 || c.Alpha > 1 {
			errs = append(errs, errors.NewInvalidValue("alpha", c.Alpha, "must be in (0, 1]"))
		}
	case "diffar":
		if c.P < 1 {
			errs = append(errs, errors.NewValidation("p", "must be >= 1"))
		}
		if c.Q < 1 {
			errs = append(errs, errors.NewValidation("q", "must be >= 1"))
		}
		if c.Window > 0 && c.Window <= max(c.P, c.Q) {
			errs = append(errs, errors.NewValidation("window", "must exceed max(p, q)"))
		}
	case "linear":
		if c.LinearMinSamples < 2 {
			errs = append(errs, errors.NewValidation("linear_min_samples", "must be >= 2"))
		}
		if c.Window > 0 && c.Window < c.LinearMinSamples {
			errs = append(errs, errors.NewValidation("window", "must be >= linear_min_samples"))
		}
	default:
		errs = append(errs, errors.NewInvalidValue("estimator", c.Estimator, "must be ema, diffar or linear"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the sinks configuration.
func (c *SinksConfig) Validate() error {
	var errs []error

	for name, s := range map[string]SinkConfig{"alerts": c.Alerts, "forecasts": c.Forecasts} {
		switch s.Kind {
		case "jsonl":
			if s.Path == "" {
				errs = append(errs, errors.NewMissingField(name+".path"))
			}
		case "duckdb", "discard":
		default:
			errs = append(errs, errors.NewInvalidValue(name+".kind", s.Kind, "must be jsonl, duckdb or discard"))
		}
	}

	if c.AlertQueueSize <= 0 {
		errs = append(errs, errors.NewValidation("alert_queue_size", "must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.WALDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// WALDir returns the WAL directory path.
func (c *Config) WALDir() string {
	if c.Ingestion.WAL.Dir != "" {
		return c.Ingestion.WAL.Dir
	}
	return filepath.Join(c.DataDir, "wal")
}

// StoreDSN returns the DuckDB data source for the bounded store.
func (c *Config) StoreDSN() string {
	if c.Store.DSN != "" {
		return c.Store.DSN
	}
	return filepath.Join(c.DataDir, defaults.DefaultStoreFile)
}
