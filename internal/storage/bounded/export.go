package bounded

import (
	"context"
	"fmt"

	"github.com/xtxerr/vigil/internal/storage/archive"
	"github.com/xtxerr/vigil/internal/storage/parquet"
)

// ExportArchive decodes every archived record and writes its samples to a
// Parquet file at path. It returns the number of rows written.
func ExportArchive(ctx context.Context, b Backend, codec *archive.Codec, path string, opts parquet.Options) (int64, error) {
	records, err := b.Archives(ctx)
	if err != nil {
		return 0, err
	}

	w, err := parquet.NewArchiveWriter(path, opts)
	if err != nil {
		return 0, err
	}

	for i := range records {
		if err := ctx.Err(); err != nil {
			w.Close()
			return 0, err
		}

		samples, err := codec.Decode(records[i].Blob)
		if err != nil {
			w.Close()
			return 0, fmt.Errorf("archive record %d: %w", records[i].ID, err)
		}
		if err := w.WriteRecord(records[i], samples); err != nil {
			w.Close()
			return 0, err
		}
	}

	if err := w.Close(); err != nil {
		return 0, err
	}
	return w.Rows(), nil
}
