package sink

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xtxerr/vigil/internal/errors"
	"github.com/xtxerr/vigil/internal/predict"
	"github.com/xtxerr/vigil/internal/storage/types"
	"github.com/xtxerr/vigil/internal/threshold"
)

// DuckDBAlertSink appends alerts to the system_alerts table.
// It does not own the connection.
type DuckDBAlertSink struct {
	db *sql.DB
}

// NewDuckDBAlertSink creates system_alerts if needed.
func NewDuckDBAlertSink(ctx context.Context, db *sql.DB) (*DuckDBAlertSink, error) {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS system_alerts (
		ts     TIMESTAMP NOT NULL,
		metric VARCHAR   NOT NULL,
		level  INTEGER   NOT NULL,
		color  VARCHAR   NOT NULL,
		value  DOUBLE    NOT NULL
	)`)
	if err != nil {
		return nil, fmt.Errorf("create system_alerts: %w", err)
	}
	return &DuckDBAlertSink{db: db}, nil
}

func (s *DuckDBAlertSink) WriteAlert(ctx context.Context, a threshold.Alert) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO system_alerts (ts, metric, level, color, value) VALUES (?, ?, ?, ?, ?)`,
		a.Timestamp.UTC(), string(a.Metric), a.Level, a.Color, a.Value,
	)
	if err != nil {
		return errors.NewTransient("insert alert", err)
	}
	return nil
}

// Alerts returns the stored alerts oldest first.
func (s *DuckDBAlertSink) Alerts(ctx context.Context) ([]threshold.Alert, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, metric, level, color, value FROM system_alerts ORDER BY ts`)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []threshold.Alert
	for rows.Next() {
		var (
			a      threshold.Alert
			metric string
		)
		if err := rows.Scan(&a.Timestamp, &metric, &a.Level, &a.Color, &a.Value); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Metric = types.MetricType(metric)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *DuckDBAlertSink) Close() error { return nil }

// DuckDBForecastSink appends forecasts to the predicted_metrics table.
// It does not own the connection.
type DuckDBForecastSink struct {
	db *sql.DB
}

// NewDuckDBForecastSink creates predicted_metrics if needed.
func NewDuckDBForecastSink(ctx context.Context, db *sql.DB) (*DuckDBForecastSink, error) {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS predicted_metrics (
		generated_at      TIMESTAMP NOT NULL,
		metric            VARCHAR   NOT NULL,
		predicted_value   DOUBLE    NOT NULL,
		basis_window_size INTEGER   NOT NULL,
		estimator         VARCHAR   NOT NULL,
		error_vs_actual   DOUBLE,
		actual_value      DOUBLE,
		actual_at         TIMESTAMP
	)`)
	if err != nil {
		return nil, fmt.Errorf("create predicted_metrics: %w", err)
	}
	return &DuckDBForecastSink{db: db}, nil
}

func (s *DuckDBForecastSink) WriteForecast(ctx context.Context, f predict.Forecast) error {
	var actualAt *time.Time
	if f.ActualAt != nil {
		t := f.ActualAt.UTC()
		actualAt = &t
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO predicted_metrics
			(generated_at, metric, predicted_value, basis_window_size, estimator, error_vs_actual, actual_value, actual_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.GeneratedAt.UTC(), string(f.Metric), f.Predicted, f.BasisWindow, f.Estimator,
		f.Error, f.Actual, actualAt,
	)
	if err != nil {
		return errors.NewTransient("insert forecast", err)
	}
	return nil
}

// Forecasts returns the stored forecasts oldest first.
func (s *DuckDBForecastSink) Forecasts(ctx context.Context) ([]predict.Forecast, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		generated_at, metric, predicted_value, basis_window_size, estimator,
		error_vs_actual, actual_value, actual_at
	FROM predicted_metrics ORDER BY generated_at`)
	if err != nil {
		return nil, fmt.Errorf("query forecasts: %w", err)
	}
	defer rows.Close()

	var out []predict.Forecast
	for rows.Next() {
		var (
			f        predict.Forecast
			metric   string
			errVal   sql.NullFloat64
			actual   sql.NullFloat64
			actualAt sql.NullTime
		)
		if err := rows.Scan(&f.GeneratedAt, &metric, &f.Predicted, &f.BasisWindow, &f.Estimator,
			&errVal, &actual, &actualAt); err != nil {
			return nil, fmt.Errorf("scan forecast: %w", err)
		}
		f.Metric = types.MetricType(metric)
		if errVal.Valid {
			f.Error = &errVal.Float64
		}
		if actual.Valid {
			f.Actual = &actual.Float64
		}
		if actualAt.Valid {
			f.ActualAt = &actualAt.Time
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *DuckDBForecastSink) Close() error { return nil }
