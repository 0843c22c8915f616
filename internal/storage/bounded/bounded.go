// Package bounded implements the capacity-bounded sample store and its archiver.
//
// Every committed batch is inserted in a single transaction that also moves
// the oldest rows into archived records whenever the active row count would
// exceed the configured capacity. Readers never observe the store above
// capacity or a half-finished compaction.
//
// Commits are idempotent: a batch whose id is already in the commit ledger is
// skipped, and a row whose (timestamp, metric, batch id) key already exists is
// not inserted twice.
package bounded

import (
	"context"
	"sort"

	"github.com/xtxerr/vigil/internal/errors"
	"github.com/xtxerr/vigil/internal/storage/archive"
	"github.com/xtxerr/vigil/internal/storage/compaction"
	"github.com/xtxerr/vigil/internal/storage/types"
)

// Backend is a bounded store implementation.
type Backend interface {
	// Insert commits a sealed batch and compacts overflow, atomically.
	Insert(ctx context.Context, batch *types.Batch) (InsertResult, error)

	// Count returns the number of active rows.
	Count(ctx context.Context) (int, error)

	// Query returns the most recent active samples in ascending time order.
	Query(ctx context.Context, q Query) ([]types.Sample, error)

	// Archives returns all archived records in creation order.
	Archives(ctx context.Context) ([]types.ArchivedRecord, error)

	// ArchivedSampleCount returns the number of samples held in archived records.
	ArchivedSampleCount(ctx context.Context) (int, error)

	// Close releases the backend.
	Close() error
}

// Query selects active samples.
type Query struct {
	// Metric restricts results to one metric type. Empty selects all.
	Metric types.MetricType

	// SinceMs excludes samples at or before this Unix millisecond timestamp.
	SinceMs int64

	// Limit keeps only the most recent samples. Zero means no limit.
	Limit int
}

// InsertResult describes the effect of one Insert.
type InsertResult struct {
	// AlreadyCommitted is set when the batch id was found in the commit ledger.
	AlreadyCommitted bool

	Inserted   int // new active rows
	Duplicates int // rows skipped because their key already existed
	Rejected   int // malformed samples skipped

	ArchiveRecords int // archived records created
	Archived       int // samples moved into those records

	ActiveCount int // active rows after the commit
}

// Config configures a bounded store.
type Config struct {
	// Backend is duckdb or memory.
	Backend string

	// DSN is the DuckDB data source. Empty opens an in-memory database.
	DSN string

	// MaxEntries is the active row capacity.
	MaxEntries int

	// BatchSize sizes archive chunks under the batch compaction policy.
	BatchSize int

	// Policy groups overflow into archived records.
	Policy compaction.Policy

	// Codec encodes archived samples.
	Codec *archive.Codec
}

func (c *Config) validate() error {
	v := errors.NewValidationErrors()
	if c.MaxEntries <= 0 {
		v.AddField("max_entries", "must be positive")
	}
	if c.Codec == nil {
		v.AddMissing("codec")
	}
	if c.Policy == "" {
		c.Policy = compaction.PolicyOverflow
	}
	return v.Err()
}

// Open creates the backend selected by cfg.Backend.
func Open(cfg Config) (Backend, error) {
	switch cfg.Backend {
	case "", "duckdb":
		return OpenDuckDB(cfg)
	case "memory":
		return NewMemory(cfg)
	default:
		return nil, errors.NewInvalidValue("backend", cfg.Backend, "must be duckdb or memory")
	}
}

// prepareRows validates batch samples and removes duplicate keys within the batch.
// The returned samples keep batch order.
func prepareRows(batch *types.Batch) (rows []types.Sample, rejected, duplicates int) {
	samples := batch.Samples()
	seen := make(map[string]struct{}, len(samples))
	rows = make([]types.Sample, 0, len(samples))

	for _, s := range samples {
		if err := s.Validate(); err != nil {
			rejected++
			continue
		}
		key := s.Key()
		if _, ok := seen[key]; ok {
			duplicates++
			continue
		}
		seen[key] = struct{}{}
		rows = append(rows, s)
	}
	return rows, rejected, duplicates
}

// activeRow is a sample with its insertion order.
type activeRow struct {
	sample types.Sample
	ins    int64
}

// sortOldest orders rows by timestamp, then insertion order.
func sortOldest(rows []activeRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].sample.TimestampMs != rows[j].sample.TimestampMs {
			return rows[i].sample.TimestampMs < rows[j].sample.TimestampMs
		}
		return rows[i].ins < rows[j].ins
	})
}
