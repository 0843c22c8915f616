package types

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/xtxerr/vigil/internal/errors"
)

// MetricType identifies which host measurement a sample carries.
type MetricType string

const (
	MetricCPU     MetricType = "cpu"
	MetricMemory  MetricType = "memory"
	MetricDisk    MetricType = "disk"
	MetricNetSent MetricType = "net_sent"
	MetricNetRecv MetricType = "net_recv"
)

// AllMetricTypes returns every supported metric type in a stable order.
func AllMetricTypes() []MetricType {
	return []MetricType{MetricCPU, MetricMemory, MetricDisk, MetricNetSent, MetricNetRecv}
}

// Valid reports whether m is one of the supported metric types.
func (m MetricType) Valid() bool {
	switch m {
	case MetricCPU, MetricMemory, MetricDisk, MetricNetSent, MetricNetRecv:
		return true
	default:
		return false
	}
}

// String returns the metric type name.
func (m MetricType) String() string {
	return string(m)
}

// ParseMetricType parses a metric type name.
func ParseMetricType(s string) (MetricType, error) {
	m := MetricType(s)
	if !m.Valid() {
		return "", fmt.Errorf("%q: %w", s, errors.ErrUnknownMetric)
	}
	return m, nil
}

// Sample represents a single measurement from a collector.
// Samples are values; once created they are never modified in place.
type Sample struct {
	// TimestampMs is the Unix timestamp in milliseconds.
	TimestampMs int64

	// Metric is the measured quantity.
	Metric MetricType

	// Value is the measurement.
	Value float64

	// BatchID is stamped by the ingestion service when the sample joins a batch.
	BatchID string
}

// NewSample creates a sample taken at ts.
func NewSample(ts time.Time, metric MetricType, value float64) Sample {
	return Sample{
		TimestampMs: ts.UnixMilli(),
		Metric:      metric,
		Value:       value,
	}
}

// TimestampTime returns the timestamp as a time.Time.
func (s *Sample) TimestampTime() time.Time {
	return time.UnixMilli(s.TimestampMs)
}

// Key returns the replay identity of the sample: timestamp, metric type and batch.
func (s *Sample) Key() string {
	return strconv.FormatInt(s.TimestampMs, 10) + "|" + string(s.Metric) + "|" + s.BatchID
}

// WithBatch returns a copy of s assigned to batchID.
func (s Sample) WithBatch(batchID string) Sample {
	s.BatchID = batchID
	return s
}

// Validate checks that the sample can be persisted.
func (s *Sample) Validate() error {
	if !s.Metric.Valid() {
		return errors.NewMalformed("sample", fmt.Errorf("metric %q: %w", s.Metric, errors.ErrUnknownMetric))
	}
	if s.TimestampMs <= 0 {
		return errors.NewMalformed("sample", fmt.Errorf("timestamp %d", s.TimestampMs))
	}
	if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
		return errors.NewMalformed("sample", fmt.Errorf("value %v", s.Value))
	}
	return nil
}

// Entry is a sample as recorded in the write-ahead log.
type Entry struct {
	Seq    uint64
	Sample Sample
}

// ArchivedRecord is an immutable group of samples evicted from the active store.
type ArchivedRecord struct {
	ID          int64
	ArchivedAt  time.Time
	SampleCount int
	Blob        []byte
}
