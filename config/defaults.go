// Package config provides configuration defaults for the vigil daemon.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml.
package config

import "time"

// =============================================================================
// Storage Defaults
// =============================================================================

const (
	// DefaultDataDir is the root directory for WAL segments and the store file.
	// Override via config: data_dir
	DefaultDataDir = "/var/lib/vigil"

	// DefaultStoreBackend selects the bounded store implementation.
	// Override via config: store.backend
	DefaultStoreBackend = "duckdb"

	// DefaultStoreFile is the DuckDB file name under data_dir.
	// Override via config: store.dsn
	DefaultStoreFile = "vigil.duckdb"

	// DefaultMaxEntries is the active store capacity. Rows beyond it are archived.
	// Override via config: store.max_entries
	DefaultMaxEntries = 9

	// DefaultCompactionPolicy groups the overflow into a single archived record.
	// Override via config: store.compaction_policy
	DefaultCompactionPolicy = "overflow"

	// DefaultArchiveLevel is the zstd level of archived blobs.
	// Override via config: store.archive_level
	DefaultArchiveLevel = "default"
)

// =============================================================================
// Ingestion Defaults
// =============================================================================

const (
	// DefaultBatchSize is the number of samples that seals a batch.
	// Override via config: ingestion.batch_size
	DefaultBatchSize = 3

	// DefaultFlushInterval is the maximum age of an unsealed, non-empty batch.
	// Override via config: ingestion.flush.interval
	DefaultFlushInterval = 10 * time.Second

	// DefaultMaxRetries is the number of commit attempts per batch and round.
	// Override via config: ingestion.flush.retry.max_attempts
	DefaultMaxRetries = 5

	// DefaultRetryInitialInterval is the first backoff delay.
	// Override via config: ingestion.flush.retry.initial_interval
	DefaultRetryInitialInterval = 100 * time.Millisecond

	// DefaultRetryMaxInterval caps a single backoff delay.
	// Override via config: ingestion.flush.retry.max_interval
	DefaultRetryMaxInterval = 5 * time.Second

	// DefaultRetryMultiplier grows the backoff delay between attempts.
	// Override via config: ingestion.flush.retry.multiplier
	DefaultRetryMultiplier = 2.0

	// DefaultWALSyncMode flushes each append to the OS before it returns.
	// Override via config: ingestion.wal.sync_mode
	DefaultWALSyncMode = "sync"

	// DefaultWALMaxSegmentSize is the segment rotation size.
	// Override via config: ingestion.wal.max_segment_size
	DefaultWALMaxSegmentSize = 16 * 1024 * 1024

	// DefaultDrainTimeout bounds the final flush during shutdown.
	// Override via config: ingestion.drain_timeout
	DefaultDrainTimeout = 30 * time.Second
)

// =============================================================================
// Collector Defaults
// =============================================================================

const (
	// DefaultCollectorInterval is the time between host samples.
	// Override via config: collector.interval
	DefaultCollectorInterval = 5 * time.Second
)

// =============================================================================
// Threshold Defaults
// =============================================================================

const (
	// DefaultThresholdReloadInterval is how often the threshold file's mod time is checked.
	// Override via config: thresholds.reload_interval
	DefaultThresholdReloadInterval = 5 * time.Second

	// DefaultAlertQueueSize is the capacity of the alert dispatch queue.
	// When full, alerts are dropped and counted.
	// Override via config: sinks.alert_queue_size
	DefaultAlertQueueSize = 1024
)

// =============================================================================
// Predictor Defaults
// =============================================================================

const (
	// DefaultPredictorInterval is the time between forecast cycles.
	// Override via config: predictor.interval
	DefaultPredictorInterval = 30 * time.Second

	// DefaultPredictorEstimator is the forecasting method: ema, diffar or linear.
	// Override via config: predictor.estimator
	DefaultPredictorEstimator = "ema"

	// DefaultPredictorWindow is the number of committed samples fed to the estimator.
	// Override via config: predictor.window
	DefaultPredictorWindow = 9

	// DefaultEMAAlpha is the smoothing factor of the EMA estimator.
	// Override via config: predictor.alpha
	DefaultEMAAlpha = 0.5

	// DefaultEMATrendPct is the growth factor applied to the smoothed value.
	// Override via config: predictor.trend_pct
	DefaultEMATrendPct = 0.10

	// DefaultDiffARP and DefaultDiffARQ are the autoregressive and moving-average orders.
	// Override via config: predictor.p, predictor.q
	DefaultDiffARP = 2
	DefaultDiffARQ = 2

	// DefaultLinearMinSamples is the shortest history the linear estimator fits.
	// Override via config: predictor.linear_min_samples
	DefaultLinearMinSamples = 3

	// DefaultAwaitTimeout bounds the wait for the sample that scores a forecast.
	// Override via config: predictor.await_timeout
	DefaultAwaitTimeout = 2 * time.Minute
)
