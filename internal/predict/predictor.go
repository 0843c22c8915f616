package predict

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/xtxerr/vigil/internal/errors"
	"github.com/xtxerr/vigil/internal/logging"
	"github.com/xtxerr/vigil/internal/storage/bounded"
	"github.com/xtxerr/vigil/internal/storage/types"
	"github.com/xtxerr/vigil/internal/telemetry"
)

// State is the forecasting state of one metric.
type State int

const (
	StateIdle State = iota
	StateCollecting
	StateForecasting
	StateAwaitingActual
	StateEvaluating
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCollecting:
		return "collecting"
	case StateForecasting:
		return "forecasting"
	case StateAwaitingActual:
		return "awaiting_actual"
	case StateEvaluating:
		return "evaluating"
	default:
		return "unknown"
	}
}

// Forecast is one prediction, finalized once scored or expired.
type Forecast struct {
	Metric      types.MetricType `json:"metric"`
	Predicted   float64          `json:"predicted_value"`
	GeneratedAt time.Time        `json:"generated_at"`
	BasisWindow int              `json:"basis_window_size"`
	Estimator   string           `json:"estimator"`

	// Set when a later sample scored the forecast; nil when it expired.
	Error    *float64   `json:"error_vs_actual,omitempty"`
	Actual   *float64   `json:"actual_value,omitempty"`
	ActualAt *time.Time `json:"actual_at,omitempty"`
}

// Result reports what one cycle did for one metric.
type Result struct {
	Metric types.MetricType
	State  State

	// Pending is set when the history was too short to forecast.
	Pending   bool
	Available int
	Required  int

	// Forecast is set when a new forecast was generated.
	Forecast *Forecast
}

// HistoryReader reads committed samples. bounded.Backend satisfies it.
type HistoryReader interface {
	Query(ctx context.Context, q bounded.Query) ([]types.Sample, error)
}

// ForecastSink receives finalized forecasts.
type ForecastSink interface {
	WriteForecast(ctx context.Context, f Forecast) error
}

// Options configures a Predictor.
type Options struct {
	// Metrics are forecast independently, in this order.
	Metrics []types.MetricType

	// Window caps the history read per forecast. Zero reads everything.
	Window int

	// Interval is the period of Run.
	Interval time.Duration

	// AwaitTimeout bounds the wait for the sample that scores a forecast.
	AwaitTimeout time.Duration
}

type metricState struct {
	state    State
	awaiting *Forecast
}

// Predictor runs the per-metric state machine
// Idle → Collecting → Forecasting → AwaitingActual → Evaluating → Idle.
type Predictor struct {
	mu sync.Mutex

	history   HistoryReader
	estimator Estimator
	sink      ForecastSink
	opts      Options
	log       *slog.Logger

	states map[types.MetricType]*metricState
	ready  []Forecast
	stats  *ErrorStats

	readyCh chan struct{}
}

// New creates a predictor reading from history and writing to sink.
func New(history HistoryReader, estimator Estimator, sink ForecastSink, opts Options) *Predictor {
	if len(opts.Metrics) == 0 {
		opts.Metrics = types.AllMetricTypes()
	}

	states := make(map[types.MetricType]*metricState, len(opts.Metrics))
	for _, m := range opts.Metrics {
		states[m] = &metricState{state: StateIdle}
	}

	return &Predictor{
		history:   history,
		estimator: estimator,
		sink:      sink,
		opts:      opts,
		log:       logging.Component("predictor"),
		states:    states,
		stats:     NewErrorStats(),
		readyCh:   make(chan struct{}, 1),
	}
}

// State returns the current state of metric.
func (p *Predictor) State(metric types.MetricType) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ms, ok := p.states[metric]; ok {
		return ms.state
	}
	return StateIdle
}

// ErrorStats returns the accumulated forecast errors.
func (p *Predictor) ErrorStats() *ErrorStats {
	return p.stats
}

// RunCycle forecasts every metric that is not awaiting an actual.
// Read errors are logged per metric and returned joined; other metrics proceed.
func (p *Predictor) RunCycle(ctx context.Context, now time.Time) ([]Result, error) {
	var (
		results []Result
		errs    []error
	)

	for _, metric := range p.opts.Metrics {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		mctx := logging.ContextWithMetric(ctx, string(metric))
		res, err := p.cycleMetric(mctx, metric, now)
		if err != nil {
			logging.FromContext(mctx, p.log).Warn("forecast cycle failed", "error", err)
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}

	return results, errors.Join(errs...)
}

func (p *Predictor) cycleMetric(ctx context.Context, metric types.MetricType, now time.Time) (Result, error) {
	p.mu.Lock()
	ms := p.states[metric]
	if ms.state == StateAwaitingActual {
		p.mu.Unlock()
		return Result{Metric: metric, State: StateAwaitingActual}, nil
	}
	p.mu.Unlock()

	samples, err := p.history.Query(ctx, bounded.Query{Metric: metric, Limit: p.opts.Window})
	if err != nil {
		return Result{}, errors.Wrapf(err, "read %s history", metric)
	}

	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = s.Value
	}

	res := Result{Metric: metric, Available: len(values), Required: p.estimator.MinSamples()}

	predicted, err := p.estimator.Forecast(values)
	if err != nil {
		if !errors.IsInsufficientData(err) {
			return Result{}, err
		}
		p.mu.Lock()
		ms.state = StateCollecting
		p.mu.Unlock()

		telemetry.Forecasts.WithLabelValues(p.estimator.Name(), telemetry.OutcomePending).Inc()
		logging.FromContext(ctx, p.log).Debug("collecting history",
			"available", res.Available,
			"required", res.Required,
		)
		res.State = StateCollecting
		res.Pending = true
		return res, nil
	}

	f := &Forecast{
		Metric:      metric,
		Predicted:   predicted,
		GeneratedAt: now,
		BasisWindow: len(values),
		Estimator:   p.estimator.Name(),
	}

	p.mu.Lock()
	ms.state = StateAwaitingActual
	ms.awaiting = f
	p.mu.Unlock()

	telemetry.Forecasts.WithLabelValues(p.estimator.Name(), telemetry.OutcomeForecast).Inc()
	logging.FromContext(ctx, p.log).Debug("forecast generated", "predicted", predicted, "basis", len(values))

	out := *f
	res.State = StateForecasting
	res.Forecast = &out
	return res, nil
}

// Observe scores awaiting forecasts with committed samples. The first sample
// of a metric newer than the forecast's generation time is its actual.
// It returns the number of forecasts scored; they are written by Drain.
func (p *Predictor) Observe(samples []types.Sample) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	scored := 0
	for _, s := range samples {
		ms, ok := p.states[s.Metric]
		if !ok || ms.state != StateAwaitingActual || ms.awaiting == nil {
			continue
		}
		if s.TimestampMs <= ms.awaiting.GeneratedAt.UnixMilli() {
			continue
		}

		ms.state = StateEvaluating
		f := *ms.awaiting
		absErr := math.Abs(f.Predicted - s.Value)
		actual := s.Value
		actualAt := s.TimestampTime()
		f.Error = &absErr
		f.Actual = &actual
		f.ActualAt = &actualAt

		exportSummary(s.Metric, p.stats.Add(s.Metric, absErr))
		telemetry.ForecastError.WithLabelValues(string(s.Metric)).Observe(absErr)
		telemetry.Forecasts.WithLabelValues(f.Estimator, telemetry.OutcomeEvaluated).Inc()

		p.ready = append(p.ready, f)
		ms.awaiting = nil
		ms.state = StateIdle
		scored++
	}

	if scored > 0 {
		p.signalReady()
	}
	return scored
}

// ExpireStale finalizes forecasts that waited longer than the await timeout
// without an error score. It returns the number expired.
func (p *Predictor) ExpireStale(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	expired := 0
	for _, metric := range p.opts.Metrics {
		ms := p.states[metric]
		if ms.state != StateAwaitingActual || ms.awaiting == nil {
			continue
		}
		if now.Sub(ms.awaiting.GeneratedAt) < p.opts.AwaitTimeout {
			continue
		}

		p.ready = append(p.ready, *ms.awaiting)
		telemetry.Forecasts.WithLabelValues(ms.awaiting.Estimator, telemetry.OutcomeExpired).Inc()
		p.log.Info("forecast expired without actual", "metric", metric, "generated_at", ms.awaiting.GeneratedAt)

		ms.awaiting = nil
		ms.state = StateIdle
		expired++
	}

	if expired > 0 {
		p.signalReady()
	}
	return expired
}

func (p *Predictor) signalReady() {
	select {
	case p.readyCh <- struct{}{}:
	default:
	}
}

// Drain writes finalized forecasts to the sink in order. A forecast the sink
// rejects stays queued with the ones after it.
func (p *Predictor) Drain(ctx context.Context) error {
	p.mu.Lock()
	ready := p.ready
	p.ready = nil
	p.mu.Unlock()

	for i, f := range ready {
		if err := p.sink.WriteForecast(ctx, f); err != nil {
			p.mu.Lock()
			p.ready = append(ready[i:], p.ready...)
			p.mu.Unlock()
			telemetry.SinkErrors.WithLabelValues("forecasts").Inc()
			return errors.Wrapf(err, "write %s forecast", f.Metric)
		}
	}
	return nil
}

// Run forecasts on every tick and writes finalized forecasts as they become
// ready. It returns when ctx is cancelled.
func (p *Predictor) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logErrorSummaries()
			return nil
		case now := <-ticker.C:
			p.ExpireStale(now)
			if _, err := p.RunCycle(ctx, now); err != nil && ctx.Err() == nil {
				p.log.Warn("forecast cycle incomplete", "error", err)
			}
			p.drainAndLog(ctx)
		case <-p.readyCh:
			p.drainAndLog(ctx)
		}
	}
}

func (p *Predictor) drainAndLog(ctx context.Context) {
	if err := p.Drain(ctx); err != nil && ctx.Err() == nil {
		p.log.Warn("forecast sink write failed", "error", err)
	}
}

func (p *Predictor) logErrorSummaries() {
	for _, metric := range p.stats.Metrics() {
		s := p.stats.Summary(metric)
		p.log.Info("forecast error summary",
			"metric", metric,
			"count", s.Count,
			"mae", s.MAE,
			"p50", s.P50,
			"p90", s.P90,
			"p99", s.P99,
		)
	}
}
