// Package storage holds the durable side of vigil: a bounded time-series
// store fed through a write-ahead log.
//
// Architecture:
//
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│  Ingestion  │────▶│     WAL     │────▶│    Batch    │
//	│   Service   │     │ (segments)  │     │   Flusher   │
//	└─────────────┘     └─────────────┘     └─────────────┘
//	                                               │
//	                                               ▼
//	                    ┌─────────────┐     ┌─────────────┐
//	                    │   Archive   │◀────│   Bounded   │
//	                    │  (zstd/pb)  │     │    Store    │
//	                    └─────────────┘     └─────────────┘
//
// Subpackages:
//   - types: samples and batches
//   - wal: append-only segments, replay and truncation after commit
//   - ingestion: batching, sealing on size or interval, commit hooks
//   - bounded: capacity-limited store with DuckDB and in-memory backends
//   - compaction: how the overflow collapses into archived records
//   - archive: compressed encoding of archived records
//   - parquet: export of the archive for offline analysis
//   - config: YAML configuration and resource estimates
package storage
