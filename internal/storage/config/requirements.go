package config

import (
	"fmt"
	"time"
)

// Requirements represents calculated resource requirements.
type Requirements struct {
	// Throughput
	SamplesPerSecond float64
	SamplesPerDay    int64

	// Storage
	ActiveStoreBytes     int64
	WALPeakBytes         int64
	ArchiveBytesPerDay   int64
	ArchivedRowsPerDay   int64
	ArchiveRecordsPerDay int64

	// Forecasts
	ForecastsPerDay int64
}

// Constants for calculations
const (
	// Bytes per active row in DuckDB (timestamp, metric, value, batch id, order)
	bytesPerActiveRow = 80

	// Bytes per WAL record (header + entry with a uuid batch id)
	bytesPerWALRecord = 8 + 8 + 8 + 2 + 8 + 8 + 2 + 36

	// Bytes per archived sample after protobuf framing and zstd
	bytesPerArchivedSample = 12

	// metricsPerTick is the number of samples the host collector emits per tick.
	metricsPerTick = 5
)

// CalculateRequirements estimates steady-state resource use for the configuration.
func (c *Config) CalculateRequirements() Requirements {
	r := Requirements{}

	if c.Collector.Interval > 0 {
		r.SamplesPerSecond = metricsPerTick / c.Collector.Interval.Seconds()
	}
	r.SamplesPerDay = int64(r.SamplesPerSecond * 86400)

	r.ActiveStoreBytes = int64(c.Store.MaxEntries) * bytesPerActiveRow

	// The WAL holds at most the open batch plus batches awaiting commit
	// during one flush interval.
	perInterval := int64(r.SamplesPerSecond * c.Ingestion.Flush.Interval.Seconds())
	r.WALPeakBytes = (int64(c.Ingestion.BatchSize) + perInterval) * bytesPerWALRecord

	// Once full, every committed sample eventually pushes one sample out.
	r.ArchivedRowsPerDay = r.SamplesPerDay
	r.ArchiveBytesPerDay = r.ArchivedRowsPerDay * bytesPerArchivedSample
	// Each full batch overflows by its own size, so either policy writes
	// one record per committed batch.
	if c.Ingestion.BatchSize > 0 {
		r.ArchiveRecordsPerDay = r.ArchivedRowsPerDay / int64(c.Ingestion.BatchSize)
	}

	if c.Predictor.Enabled && c.Predictor.Interval > 0 {
		r.ForecastsPerDay = int64(24*time.Hour/c.Predictor.Interval) * metricsPerTick
	}

	return r
}

// FormatRequirements returns a human-readable summary of requirements.
func (r *Requirements) FormatRequirements() string {
	return fmt.Sprintf(`Resource Requirements
=====================

Throughput:
  Samples/sec:       %.2f
  Samples/day:       %s

Storage:
  Active Store:      %s
  WAL Peak:          %s
  Archive/day:       %s
  Archived rows/day: %s
  Archive recs/day:  %s

Predictor:
  Forecasts/day:     %s
`,
		r.SamplesPerSecond,
		formatNumber(r.SamplesPerDay),
		formatBytes(r.ActiveStoreBytes),
		formatBytes(r.WALPeakBytes),
		formatBytes(r.ArchiveBytesPerDay),
		formatNumber(r.ArchivedRowsPerDay),
		formatNumber(r.ArchiveRecordsPerDay),
		formatNumber(r.ForecastsPerDay),
	)
}

// formatBytes formats bytes as a human-readable string.
func formatBytes(b int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatNumber formats a number with thousand separators.
func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	if n < 1000000000 {
		return fmt.Sprintf("%.1fM", float64(n)/1000000)
	}
	return fmt.Sprintf("%.1fB", float64(n)/1000000000)
}
