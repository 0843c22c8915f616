package parquet

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/vigil/internal/errors"
	"github.com/xtxerr/vigil/internal/storage/types"
)

// Options configures an ArchiveWriter.
type Options struct {
	// Compression is one of zstd, snappy, gzip or none.
	Compression string

	// RowGroupSize caps the rows per row group. Zero keeps the library default.
	RowGroupSize int64
}

// DefaultOptions returns zstd compression with 64k-row groups.
func DefaultOptions() Options {
	return Options{
		Compression:  "zstd",
		RowGroupSize: 64 * 1024,
	}
}

func codecFor(name string) (compress.Codec, error) {
	switch name {
	case "zstd", "":
		return &parquet.Zstd, nil
	case "snappy":
		return &parquet.Snappy, nil
	case "gzip":
		return &parquet.Gzip, nil
	case "none":
		return &parquet.Uncompressed, nil
	default:
		return nil, errors.NewInvalidValue("compression", name, "must be zstd, snappy, gzip or none")
	}
}

// ArchiveRow is one archived sample.
type ArchiveRow struct {
	RecordID     int64   `parquet:"record_id"`
	ArchivedAtMs int64   `parquet:"archived_at_ms"`
	TimestampMs  int64   `parquet:"timestamp_ms"`
	Metric       string  `parquet:"metric,dict"`
	Value        float64 `parquet:"value"`
	BatchID      string  `parquet:"batch_id,dict"`
}

// Sample returns the sample the row was exported from.
func (r ArchiveRow) Sample() types.Sample {
	return types.Sample{
		TimestampMs: r.TimestampMs,
		Metric:      types.MetricType(r.Metric),
		Value:       r.Value,
		BatchID:     r.BatchID,
	}
}

// ArchiveWriter appends archive records to a Parquet file.
type ArchiveWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *parquet.GenericWriter[ArchiveRow]
	rows   int64
	closed bool
}

// NewArchiveWriter creates the file at path, replacing any existing one.
func NewArchiveWriter(path string, opts Options) (*ArchiveWriter, error) {
	codec, err := codecFor(opts.Compression)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(err, "create export directory")
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "create export file")
	}

	wopts := []parquet.WriterOption{parquet.Compression(codec)}
	if opts.RowGroupSize > 0 {
		wopts = append(wopts, parquet.MaxRowsPerRowGroup(opts.RowGroupSize))
	}

	return &ArchiveWriter{
		file:   f,
		writer: parquet.NewGenericWriter[ArchiveRow](f, wopts...),
	}, nil
}

// WriteRecord writes the decoded samples of rec.
func (w *ArchiveWriter) WriteRecord(rec types.ArchivedRecord, samples []types.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.ErrClosed
	}

	rows := make([]ArchiveRow, len(samples))
	archivedAt := rec.ArchivedAt.UnixMilli()
	for i, s := range samples {
		rows[i] = ArchiveRow{
			RecordID:     rec.ID,
			ArchivedAtMs: archivedAt,
			TimestampMs:  s.TimestampMs,
			Metric:       string(s.Metric),
			Value:        s.Value,
			BatchID:      s.BatchID,
		}
	}

	n, err := w.writer.Write(rows)
	w.rows += int64(n)
	if err != nil {
		return errors.Wrapf(err, "write archive record %d", rec.ID)
	}
	return nil
}

// Rows returns the number of rows written so far.
func (w *ArchiveWriter) Rows() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows
}

// Close flushes the footer and closes the file. It is safe to call twice.
func (w *ArchiveWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return errors.Wrap(err, "finish parquet file")
	}
	return w.file.Close()
}
