package pipeline

import (
	"fmt"

	"github.com/xtxerr/vigil/internal/storage/archive"
	"github.com/xtxerr/vigil/internal/storage/bounded"
	"github.com/xtxerr/vigil/internal/storage/compaction"
	"github.com/xtxerr/vigil/internal/storage/config"
	"github.com/xtxerr/vigil/internal/threshold"
)

// OpenStore creates the data directories and opens the configured bounded
// store. The caller closes both the store and the codec.
func OpenStore(cfg *config.Config) (bounded.Backend, *archive.Codec, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, nil, err
	}

	level, err := archive.ParseLevel(cfg.Store.ArchiveLevel)
	if err != nil {
		return nil, nil, err
	}
	policy, err := compaction.ParsePolicy(cfg.Store.CompactionPolicy)
	if err != nil {
		return nil, nil, err
	}

	codec, err := archive.NewCodec(level)
	if err != nil {
		return nil, nil, fmt.Errorf("create archive codec: %w", err)
	}

	store, err := bounded.Open(bounded.Config{
		Backend:    cfg.Store.Backend,
		DSN:        cfg.StoreDSN(),
		MaxEntries: cfg.Store.MaxEntries,
		BatchSize:  cfg.Ingestion.BatchSize,
		Policy:     policy,
		Codec:      codec,
	})
	if err != nil {
		codec.Close()
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return store, codec, nil
}

// LoadClassifier builds the classifier from the configured threshold file,
// or from the built-in table when no file is set. The watcher is nil without
// a file.
func LoadClassifier(cfg *config.Config) (*threshold.Classifier, *threshold.Watcher, error) {
	path := cfg.Thresholds.Path
	if path == "" {
		return threshold.NewClassifier(threshold.DefaultTable()), nil, nil
	}

	table, err := threshold.LoadFile(path)
	if err != nil {
		return nil, nil, err
	}

	c := threshold.NewClassifier(table)
	return c, threshold.NewWatcher(path, cfg.Thresholds.ReloadInterval, c), nil
}
