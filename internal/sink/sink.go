// Package sink writes alerts and finalized forecasts to append-only outputs.
//
// Three kinds are available: JSON-lines files, DuckDB tables and in-memory
// rings. Alerts reach their sink through a Dispatcher so classification
// never waits on I/O.
package sink

import (
	"context"
	"database/sql"
	"path/filepath"

	"github.com/xtxerr/vigil/internal/errors"
	"github.com/xtxerr/vigil/internal/predict"
	"github.com/xtxerr/vigil/internal/storage/config"
	"github.com/xtxerr/vigil/internal/threshold"
)

// AlertSink persists alerts.
type AlertSink interface {
	WriteAlert(ctx context.Context, a threshold.Alert) error
	Close() error
}

// ForecastSink persists finalized forecasts.
type ForecastSink interface {
	WriteForecast(ctx context.Context, f predict.Forecast) error
	Close() error
}

// Discard accepts and drops everything.
var Discard discard

type discard struct{}

func (discard) WriteAlert(context.Context, threshold.Alert) error     { return nil }
func (discard) WriteForecast(context.Context, predict.Forecast) error { return nil }
func (discard) Close() error                                          { return nil }

// OpenAlertSink builds the alert sink described by cfg. Relative jsonl paths
// resolve under dataDir; duckdb sinks write through db.
func OpenAlertSink(ctx context.Context, cfg config.SinkConfig, dataDir string, db *sql.DB) (AlertSink, error) {
	switch cfg.Kind {
	case "jsonl":
		return NewJSONLAlertSink(resolve(dataDir, cfg.Path))
	case "duckdb":
		if db == nil {
			return nil, errors.Wrap(errors.ErrInvalidConfig, "alerts: duckdb sink needs a database")
		}
		return NewDuckDBAlertSink(ctx, db)
	case "discard":
		return Discard, nil
	default:
		return nil, errors.NewInvalidValue("sinks.alerts.kind", cfg.Kind, "unknown sink kind")
	}
}

// OpenForecastSink builds the forecast sink described by cfg.
func OpenForecastSink(ctx context.Context, cfg config.SinkConfig, dataDir string, db *sql.DB) (ForecastSink, error) {
	switch cfg.Kind {
	case "jsonl":
		return NewJSONLForecastSink(resolve(dataDir, cfg.Path))
	case "duckdb":
		if db == nil {
			return nil, errors.Wrap(errors.ErrInvalidConfig, "forecasts: duckdb sink needs a database")
		}
		return NewDuckDBForecastSink(ctx, db)
	case "discard":
		return Discard, nil
	default:
		return nil, errors.NewInvalidValue("sinks.forecasts.kind", cfg.Kind, "unknown sink kind")
	}
}

func resolve(dir, path string) string {
	if filepath.IsAbs(path) || dir == "" {
		return path
	}
	return filepath.Join(dir, path)
}
