// Package types defines the core data types used throughout the storage system.
//
// Key types:
//   - Sample: a single measurement of one metric type
//   - Entry: a Sample plus its WAL sequence number
//   - Batch: an ordered accumulator of entries, sealed before commit
//   - ArchivedRecord: a compressed group of samples evicted from the active store
package types
