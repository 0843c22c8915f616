package parquet

import (
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/vigil/internal/errors"
	"github.com/xtxerr/vigil/internal/storage/types"
)

const readChunk = 4096

// ReadArchive reads every row of an exported archive file in file order.
func ReadArchive(path string) ([]ArchiveRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open export file")
	}
	defer f.Close()

	r := parquet.NewGenericReader[ArchiveRow](f)
	defer r.Close()

	total := r.NumRows()
	rows := make([]ArchiveRow, 0, total)
	buf := make([]ArchiveRow, readChunk)

	for int64(len(rows)) < total {
		n, err := r.Read(buf)
		rows = append(rows, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.NewMalformed("parquet rows", err)
		}
	}
	return rows, nil
}

// Samples groups the samples of rows by archive record id.
func Samples(rows []ArchiveRow) map[int64][]types.Sample {
	out := make(map[int64][]types.Sample)
	for _, r := range rows {
		out[r.RecordID] = append(out[r.RecordID], r.Sample())
	}
	return out
}
