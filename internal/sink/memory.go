package sink

import (
	"context"

	"github.com/xtxerr/vigil/internal/predict"
	"github.com/xtxerr/vigil/internal/threshold"
)

// MemoryAlertSink keeps the most recent alerts in a ring.
type MemoryAlertSink struct {
	ring *Ring[threshold.Alert]
}

// NewMemoryAlertSink keeps up to capacity alerts.
func NewMemoryAlertSink(capacity int) *MemoryAlertSink {
	return &MemoryAlertSink{ring: NewRing[threshold.Alert](capacity)}
}

func (s *MemoryAlertSink) WriteAlert(ctx context.Context, a threshold.Alert) error {
	s.ring.PushOverwrite(a)
	return nil
}

// Alerts returns the retained alerts oldest first.
func (s *MemoryAlertSink) Alerts() []threshold.Alert {
	return s.ring.Snapshot()
}

func (s *MemoryAlertSink) Close() error { return nil }

// MemoryForecastSink keeps the most recent forecasts in a ring.
type MemoryForecastSink struct {
	ring *Ring[predict.Forecast]
}

// NewMemoryForecastSink keeps up to capacity forecasts.
func NewMemoryForecastSink(capacity int) *MemoryForecastSink {
	return &MemoryForecastSink{ring: NewRing[predict.Forecast](capacity)}
}

func (s *MemoryForecastSink) WriteForecast(ctx context.Context, f predict.Forecast) error {
	s.ring.PushOverwrite(f)
	return nil
}

// Forecasts returns the retained forecasts oldest first.
func (s *MemoryForecastSink) Forecasts() []predict.Forecast {
	return s.ring.Snapshot()
}

func (s *MemoryForecastSink) Close() error { return nil }
