// Package parquet exports archived samples to Parquet files for offline
// analysis. Each row carries the sample and the archive record it came from.
package parquet
