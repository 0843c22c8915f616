package parquet

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/xtxerr/vigil/internal/errors"
	"github.com/xtxerr/vigil/internal/storage/types"
)

func archived(id int64, n int) (types.ArchivedRecord, []types.Sample) {
	rec := types.ArchivedRecord{ID: id, ArchivedAt: time.UnixMilli(1700000000000 + id), SampleCount: n}
	samples := make([]types.Sample, n)
	for i := range samples {
		samples[i] = types.Sample{
			TimestampMs: 1700000000000 + int64(i)*1000,
			Metric:      types.MetricCPU,
			Value:       float64(id*100) + float64(i),
			BatchID:     fmt.Sprintf("b%d", id),
		}
	}
	return rec, samples
}

func TestArchiveWriteAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "archive.parquet")

	w, err := NewArchiveWriter(path, DefaultOptions())
	if err != nil {
		t.Fatalf("NewArchiveWriter: %v", err)
	}

	rec1, s1 := archived(1, 3)
	rec2, s2 := archived(2, 2)
	for _, r := range []struct {
		rec     types.ArchivedRecord
		samples []types.Sample
	}{{rec1, s1}, {rec2, s2}} {
		if err := w.WriteRecord(r.rec, r.samples); err != nil {
			t.Fatalf("WriteRecord %d: %v", r.rec.ID, err)
		}
	}
	if w.Rows() != 5 {
		t.Errorf("expected 5 rows, got %d", w.Rows())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rows, err := ReadArchive(path)
	if err != nil {
		t.Fatalf("ReadArchive: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("expected 5 rows, got %d", len(rows))
	}
	if rows[0].ArchivedAtMs != rec1.ArchivedAt.UnixMilli() {
		t.Errorf("archived_at not kept: %+v", rows[0])
	}

	grouped := Samples(rows)
	if len(grouped[1]) != 3 || len(grouped[2]) != 2 {
		t.Fatalf("unexpected grouping: %v", grouped)
	}
	for i, s := range grouped[1] {
		if s != s1[i] {
			t.Errorf("record 1 sample %d: got %+v, want %+v", i, s, s1[i])
		}
	}
}

func TestCompression(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"zstd", false},
		{"snappy", false},
		{"gzip", false},
		{"none", false},
		{"", false},
		{"brotli", true},
	}

	dir := t.TempDir()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "c-"+tt.name+".parquet")
			w, err := NewArchiveWriter(path, Options{Compression: tt.name})
			if tt.wantErr {
				if !errors.IsConfiguration(err) {
					t.Fatalf("expected configuration error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewArchiveWriter: %v", err)
			}

			rec, samples := archived(9, 10)
			if err := w.WriteRecord(rec, samples); err != nil {
				t.Fatalf("WriteRecord: %v", err)
			}
			if err := w.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			rows, err := ReadArchive(path)
			if err != nil || len(rows) != 10 {
				t.Errorf("read back %d rows, %v", len(rows), err)
			}
		})
	}
}

func TestLargeExport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "large.parquet")

	w, err := NewArchiveWriter(path, Options{Compression: "zstd", RowGroupSize: 1000})
	if err != nil {
		t.Fatalf("NewArchiveWriter: %v", err)
	}
	for id := int64(1); id <= 4; id++ {
		rec, samples := archived(id, 2500)
		if err := w.WriteRecord(rec, samples); err != nil {
			t.Fatalf("WriteRecord: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rows, err := ReadArchive(path)
	if err != nil {
		t.Fatalf("ReadArchive: %v", err)
	}
	if len(rows) != 10000 {
		t.Fatalf("expected 10000 rows, got %d", len(rows))
	}
	if last := rows[9999]; last.RecordID != 4 || last.Value != 400+2499 {
		t.Errorf("unexpected last row %+v", last)
	}
}

func TestWriteAfterClose(t *testing.T) {
	w, err := NewArchiveWriter(filepath.Join(t.TempDir(), "closed.parquet"), DefaultOptions())
	if err != nil {
		t.Fatalf("NewArchiveWriter: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	rec, samples := archived(1, 1)
	if err := w.WriteRecord(rec, samples); !errors.Is(err, errors.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestReadArchive_Missing(t *testing.T) {
	if _, err := ReadArchive(filepath.Join(t.TempDir(), "nope.parquet")); err == nil {
		t.Error("expected an error for a missing file")
	}
}
