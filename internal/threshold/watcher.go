package threshold

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/xtxerr/vigil/internal/logging"
)

// Watcher reloads a threshold file into a Classifier when the file changes.
// An invalid file is logged and the previous table stays active.
type Watcher struct {
	path       string
	interval   time.Duration
	classifier *Classifier
	log        *slog.Logger

	modTime time.Time
	size    int64
}

// NewWatcher creates a watcher for path. The current state of the file is
// taken as already loaded.
func NewWatcher(path string, interval time.Duration, c *Classifier) *Watcher {
	w := &Watcher{
		path:       path,
		interval:   interval,
		classifier: c,
		log:        logging.Component("classifier"),
	}
	if info, err := os.Stat(path); err == nil {
		w.modTime = info.ModTime()
		w.size = info.Size()
	}
	return w
}

// Check reloads the file if its modification time or size changed.
// It reports whether a new table was installed.
func (w *Watcher) Check() (bool, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return false, err
	}
	if info.ModTime().Equal(w.modTime) && info.Size() == w.size {
		return false, nil
	}

	// Remember the attempt so an invalid file is not reparsed every tick.
	w.modTime = info.ModTime()
	w.size = info.Size()

	table, err := LoadFile(w.path)
	if err != nil {
		return false, err
	}

	w.classifier.Swap(table)
	return true, nil
}

// Run polls the file until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if w.interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			reloaded, err := w.Check()
			if err != nil {
				w.log.Warn("threshold reload failed, keeping previous table", "path", w.path, "error", err)
				continue
			}
			if reloaded {
				w.log.Info("thresholds reloaded", "path", w.path, "table", w.classifier.Table().String())
			}
		}
	}
}
