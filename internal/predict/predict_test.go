package predict

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"github.com/xtxerr/vigil/internal/errors"
	"github.com/xtxerr/vigil/internal/logging"
	"github.com/xtxerr/vigil/internal/storage/bounded"
	"github.com/xtxerr/vigil/internal/storage/config"
	"github.com/xtxerr/vigil/internal/storage/types"
	"github.com/xtxerr/vigil/internal/telemetry"
	vtesting "github.com/xtxerr/vigil/internal/testing"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestEMA(t *testing.T) {
	tests := []struct {
		name   string
		ema    EMA
		values []float64
		want   float64
	}{
		{"single value", EMA{Alpha: 0.5, TrendPct: 0.1}, []float64{10}, 11},
		{"half alpha", EMA{Alpha: 0.5, TrendPct: 0.1}, []float64{10, 20}, 16.5},
		{"alpha one is latest value", EMA{Alpha: 1, TrendPct: 0.1}, []float64{10, 50, 30}, 33},
		{"no trend", EMA{Alpha: 0.5, TrendPct: 0}, []float64{4, 8, 8}, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.ema.Forecast(tt.values)
			if err != nil {
				t.Fatalf("Forecast: %v", err)
			}
			if !near(got, tt.want) {
				t.Errorf("Forecast(%v) = %v, want %v", tt.values, got, tt.want)
			}
		})
	}
}

func TestEMA_SmallAlphaStaysNearFirst(t *testing.T) {
	ema := EMA{Alpha: 1e-6, TrendPct: 0.1}
	got, err := ema.Forecast([]float64{20, 90, 90, 90, 90})
	if err != nil {
		t.Fatalf("Forecast: %v", err)
	}
	if math.Abs(got-22) > 0.01 {
		t.Errorf("expected forecast pinned near 20*1.1, got %v", got)
	}
}

func TestEMA_Insufficient(t *testing.T) {
	_, err := EMA{Alpha: 0.5}.Forecast(nil)
	if !errors.IsInsufficientData(err) {
		t.Errorf("expected insufficient data, got %v", err)
	}
}

func TestDiffAR(t *testing.T) {
	d := DiffAR{P: 2, Q: 2}

	if d.MinSamples() != 3 {
		t.Errorf("MinSamples = %d, want 3", d.MinSamples())
	}

	got, err := d.Forecast([]float64{1, 2, 4, 7})
	if err != nil {
		t.Fatalf("Forecast: %v", err)
	}
	// Differences 1, 2, 3; AR = 3 + 2; MA = 0.
	if !near(got, 12) {
		t.Errorf("Forecast = %v, want 12", got)
	}

	if _, err := d.Forecast([]float64{1, 2}); !errors.IsInsufficientData(err) {
		t.Errorf("expected insufficient data for 2 samples, got %v", err)
	}
}

func TestLinear(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
	}{
		{"rising line", []float64{1, 2, 3}, 4},
		{"flat", []float64{5, 5, 5, 5}, 5},
		{"falling line", []float64{90, 80, 70}, 60},
		{"least squares", []float64{2, 4, 7}, 28.0 / 3},
	}

	l := Linear{MinPoints: 3}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := l.Forecast(tt.values)
			if err != nil {
				t.Fatalf("Forecast: %v", err)
			}
			if !near(got, tt.want) {
				t.Errorf("Forecast(%v) = %v, want %v", tt.values, got, tt.want)
			}
		})
	}
}

func TestLinear_MinSamples(t *testing.T) {
	if got := (Linear{}).MinSamples(); got != 2 {
		t.Errorf("MinSamples = %d, want at least 2", got)
	}
	if _, err := (Linear{MinPoints: 3}).Forecast([]float64{1, 2}); !errors.IsInsufficientData(err) {
		t.Errorf("expected insufficient data, got %v", err)
	}
}

func TestEstimatorFromConfig(t *testing.T) {
	cfg := config.DefaultConfig().Predictor

	cfg.Estimator = "ema"
	e, err := EstimatorFromConfig(cfg)
	if err != nil || e.Name() != "ema" {
		t.Errorf("ema: %v, %v", e, err)
	}

	cfg.Estimator = "diffar"
	e, err = EstimatorFromConfig(cfg)
	if err != nil || e.Name() != "diffar" {
		t.Errorf("diffar: %v, %v", e, err)
	}

	cfg.Estimator = "linear"
	e, err = EstimatorFromConfig(cfg)
	if err != nil || e.Name() != "linear" || e.MinSamples() != cfg.LinearMinSamples {
		t.Errorf("linear: %v, %v", e, err)
	}

	cfg.Estimator = "prophet"
	if _, err := EstimatorFromConfig(cfg); !errors.IsConfiguration(err) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

// fakeHistory serves samples per metric and can fail for selected metrics.
type fakeHistory struct {
	mu      sync.Mutex
	samples map[types.MetricType][]types.Sample
	fail    map[types.MetricType]bool
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{
		samples: make(map[types.MetricType][]types.Sample),
		fail:    make(map[types.MetricType]bool),
	}
}

func (h *fakeHistory) add(samples ...types.Sample) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range samples {
		h.samples[s.Metric] = append(h.samples[s.Metric], s)
	}
}

func (h *fakeHistory) Query(ctx context.Context, q bounded.Query) ([]types.Sample, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail[q.Metric] {
		return nil, errors.NewTransient("query", errors.New("store unavailable"))
	}
	out := h.samples[q.Metric]
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return append([]types.Sample(nil), out...), nil
}

type recordingSink struct {
	mu        sync.Mutex
	forecasts []Forecast
	err       error
}

func (s *recordingSink) WriteForecast(ctx context.Context, f Forecast) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.forecasts = append(s.forecasts, f)
	return nil
}

func (s *recordingSink) all() []Forecast {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Forecast(nil), s.forecasts...)
}

func newTestPredictor(h HistoryReader, sink ForecastSink) *Predictor {
	return New(h, EMA{Alpha: 1, TrendPct: 0.1}, sink, Options{
		Metrics:      []types.MetricType{types.MetricCPU},
		Window:       9,
		Interval:     time.Minute,
		AwaitTimeout: time.Minute,
	})
}

func TestPredictor_StateMachine(t *testing.T) {
	ctx := context.Background()
	history := newFakeHistory()
	sink := &recordingSink{}
	p := newTestPredictor(history, sink)

	now := vtesting.BaseTime.Add(time.Hour)

	// No history yet.
	results, err := p.RunCycle(ctx, now)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(results) != 1 || !results[0].Pending || results[0].Required != 1 {
		t.Fatalf("expected a pending result, got %+v", results)
	}
	if p.State(types.MetricCPU) != StateCollecting {
		t.Errorf("expected collecting, got %s", p.State(types.MetricCPU))
	}

	history.add(vtesting.Samples(types.MetricCPU, 40, 50)...)

	results, err = p.RunCycle(ctx, now)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if results[0].Forecast == nil || !near(results[0].Forecast.Predicted, 55) {
		t.Fatalf("expected forecast of 55, got %+v", results[0])
	}
	if results[0].Forecast.BasisWindow != 2 {
		t.Errorf("expected basis window 2, got %d", results[0].Forecast.BasisWindow)
	}
	if p.State(types.MetricCPU) != StateAwaitingActual {
		t.Errorf("expected awaiting_actual, got %s", p.State(types.MetricCPU))
	}

	// A second cycle does not replace the awaiting forecast.
	results, _ = p.RunCycle(ctx, now.Add(time.Second))
	if results[0].Forecast != nil || results[0].State != StateAwaitingActual {
		t.Errorf("awaiting metric should not forecast again: %+v", results[0])
	}

	// Samples older than the forecast do not score it.
	old := types.NewSample(now.Add(-time.Second), types.MetricCPU, 99)
	if n := p.Observe([]types.Sample{old}); n != 0 {
		t.Errorf("old sample scored %d forecasts", n)
	}

	actual := types.NewSample(now.Add(5*time.Second), types.MetricCPU, 52)
	other := types.NewSample(now.Add(5*time.Second), types.MetricMemory, 10)
	if n := p.Observe([]types.Sample{other, actual}); n != 1 {
		t.Fatalf("expected 1 scored forecast, got %d", n)
	}
	if p.State(types.MetricCPU) != StateIdle {
		t.Errorf("expected idle after evaluation, got %s", p.State(types.MetricCPU))
	}

	if err := p.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	got := sink.all()
	if len(got) != 1 {
		t.Fatalf("expected 1 forecast written, got %d", len(got))
	}
	if got[0].Error == nil || !near(*got[0].Error, 3) || *got[0].Actual != 52 {
		t.Errorf("unexpected scored forecast: %+v", got[0])
	}

	summary := p.ErrorStats().Summary(types.MetricCPU)
	if summary.Count != 1 || !near(summary.MAE, 3) {
		t.Errorf("unexpected error summary: %+v", summary)
	}

	// The sketch quantiles are exported as gauges.
	if got := testutil.ToFloat64(telemetry.ForecastErrorQuantile.WithLabelValues("cpu", "0.5")); math.Abs(got-3) > 0.05 {
		t.Errorf("expected exported p50 near 3, got %v", got)
	}
	if all := p.ErrorStats().Summaries(); len(all) != 1 || all[types.MetricCPU].Count != 1 {
		t.Errorf("unexpected summaries: %+v", all)
	}
}

func TestPredictor_ExpireStale(t *testing.T) {
	ctx := context.Background()
	history := newFakeHistory()
	history.add(vtesting.Samples(types.MetricCPU, 10)...)
	sink := &recordingSink{}
	p := newTestPredictor(history, sink)

	now := vtesting.BaseTime.Add(time.Hour)
	if _, err := p.RunCycle(ctx, now); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if n := p.ExpireStale(now.Add(30 * time.Second)); n != 0 {
		t.Errorf("expired %d forecasts before the timeout", n)
	}
	if n := p.ExpireStale(now.Add(time.Minute)); n != 1 {
		t.Fatalf("expected 1 expired forecast, got %d", n)
	}
	if err := p.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	got := sink.all()
	if len(got) != 1 || got[0].Error != nil {
		t.Errorf("expected one unscored forecast, got %+v", got)
	}
	if p.State(types.MetricCPU) != StateIdle {
		t.Errorf("expected idle, got %s", p.State(types.MetricCPU))
	}
}

func TestPredictor_ReadErrorIsolated(t *testing.T) {
	history := newFakeHistory()
	history.add(vtesting.Samples(types.MetricCPU, 10, 20)...)
	history.fail[types.MetricMemory] = true

	p := New(history, EMA{Alpha: 0.5}, &recordingSink{}, Options{
		Metrics:      []types.MetricType{types.MetricMemory, types.MetricCPU},
		AwaitTimeout: time.Minute,
	})

	results, err := p.RunCycle(context.Background(), vtesting.BaseTime.Add(time.Hour))
	if !errors.IsTransient(err) {
		t.Errorf("expected transient error, got %v", err)
	}
	if len(results) != 1 || results[0].Metric != types.MetricCPU || results[0].Forecast == nil {
		t.Errorf("cpu should still be forecast: %+v", results)
	}
}

func TestPredictor_LogsCarryMetric(t *testing.T) {
	var buf bytes.Buffer
	logging.InitWriter(&buf, slog.LevelDebug, true)
	defer logging.InitWithHandler(slog.NewTextHandler(io.Discard, nil))

	history := newFakeHistory()
	history.fail[types.MetricMemory] = true

	p := New(history, EMA{Alpha: 0.5}, &recordingSink{}, Options{
		Metrics:      []types.MetricType{types.MetricMemory, types.MetricDisk},
		AwaitTimeout: time.Minute,
	})
	p.RunCycle(context.Background(), vtesting.BaseTime.Add(time.Hour))

	out := buf.String()
	for _, want := range []string{
		`"msg":"forecast cycle failed"`,
		`"metric":"memory"`,
		`"msg":"collecting history"`,
		`"metric":"disk"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s:\n%s", want, out)
		}
	}
}

func TestPredictor_DrainKeepsRejectedForecasts(t *testing.T) {
	ctx := context.Background()
	history := newFakeHistory()
	history.add(vtesting.Samples(types.MetricCPU, 10)...)
	sink := &recordingSink{err: errors.NewTransient("write", errors.New("disk full"))}
	p := newTestPredictor(history, sink)

	now := vtesting.BaseTime.Add(time.Hour)
	p.RunCycle(ctx, now)
	p.ExpireStale(now.Add(time.Hour))

	if err := p.Drain(ctx); err == nil {
		t.Fatal("expected sink error")
	}

	sink.mu.Lock()
	sink.err = nil
	sink.mu.Unlock()

	if err := p.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(sink.all()) != 1 {
		t.Errorf("forecast should be written once the sink recovers")
	}
}

func TestPredictor_Run(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	history := newFakeHistory()
	history.add(vtesting.Samples(types.MetricCPU, 10, 20, 30)...)
	sink := &recordingSink{}

	p := New(history, DiffAR{P: 2, Q: 2}, sink, Options{
		Metrics:      []types.MetricType{types.MetricCPU},
		Interval:     5 * time.Millisecond,
		AwaitTimeout: time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	err := vtesting.Eventually(2*time.Second, 5*time.Millisecond, func() bool { return len(sink.all()) >= 1 })
	cancel()
	if err != nil {
		t.Fatalf("no forecast written: %v", err)
	}
	if runErr := <-done; runErr != nil {
		t.Errorf("Run: %v", runErr)
	}

	f := sink.all()[0]
	if f.Estimator != "diffar" || !near(f.Predicted, 50) {
		t.Errorf("unexpected forecast: %+v", f)
	}
}

func TestErrorStats(t *testing.T) {
	stats := NewErrorStats()
	for i := 1; i <= 100; i++ {
		stats.Add(types.MetricDisk, float64(i))
	}
	stats.Add(types.MetricDisk, math.NaN())

	s := stats.Summary(types.MetricDisk)
	if s.Count != 100 {
		t.Fatalf("expected 100 errors, got %d", s.Count)
	}
	if !near(s.MAE, 50.5) || s.Min != 1 || s.Max != 100 {
		t.Errorf("unexpected summary: %+v", s)
	}
	if math.Abs(s.P50-50) > 2 || math.Abs(s.P99-99) > 3 {
		t.Errorf("quantiles out of tolerance: p50=%v p99=%v", s.P50, s.P99)
	}

	if got := stats.Summary(types.MetricCPU); got.Count != 0 {
		t.Errorf("unknown metric should be empty: %+v", got)
	}
	if m := stats.Metrics(); len(m) != 1 || m[0] != types.MetricDisk {
		t.Errorf("unexpected metrics: %v", m)
	}
}
