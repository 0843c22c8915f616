package predict

import (
	"math"
	"sort"
	"sync"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/xtxerr/vigil/internal/storage/types"
	"github.com/xtxerr/vigil/internal/telemetry"
)

// ErrorSummary describes the absolute forecast errors seen for one metric.
type ErrorSummary struct {
	Count int64
	MAE   float64
	Min   float64
	Max   float64
	P50   float64
	P90   float64
	P99   float64
}

// errorAggregate keeps running statistics and a DDSketch of absolute errors.
type errorAggregate struct {
	count  int64
	sum    float64
	min    float64
	max    float64
	sketch *ddsketch.DDSketch
}

func newErrorAggregate(accuracy float64) *errorAggregate {
	agg := &errorAggregate{
		min: math.MaxFloat64,
		max: -math.MaxFloat64,
	}

	sketch, err := ddsketch.NewDefaultDDSketch(accuracy)
	if err == nil {
		agg.sketch = sketch
	}
	return agg
}

func (a *errorAggregate) add(v float64) {
	a.count++
	a.sum += v
	if v < a.min {
		a.min = v
	}
	if v > a.max {
		a.max = v
	}
	if a.sketch != nil {
		a.sketch.Add(v)
	}
}

func (a *errorAggregate) summary() ErrorSummary {
	s := ErrorSummary{Count: a.count}
	if a.count == 0 {
		return s
	}

	s.MAE = a.sum / float64(a.count)
	s.Min = a.min
	s.Max = a.max

	if a.sketch != nil {
		s.P50, _ = a.sketch.GetValueAtQuantile(0.50)
		s.P90, _ = a.sketch.GetValueAtQuantile(0.90)
		s.P99, _ = a.sketch.GetValueAtQuantile(0.99)
	}
	return s
}

// ErrorStats accumulates forecast errors per metric. It is safe for concurrent use.
type ErrorStats struct {
	mu       sync.Mutex
	accuracy float64
	metrics  map[types.MetricType]*errorAggregate
}

// NewErrorStats creates error statistics with 1% relative quantile accuracy.
func NewErrorStats() *ErrorStats {
	return &ErrorStats{
		accuracy: 0.01,
		metrics:  make(map[types.MetricType]*errorAggregate),
	}
}

// Add records one absolute error for metric and returns the updated summary.
func (e *ErrorStats) Add(metric types.MetricType, absErr float64) ErrorSummary {
	if math.IsNaN(absErr) || math.IsInf(absErr, 0) {
		return e.Summary(metric)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	agg, ok := e.metrics[metric]
	if !ok {
		agg = newErrorAggregate(e.accuracy)
		e.metrics[metric] = agg
	}
	agg.add(math.Abs(absErr))
	return agg.summary()
}

// Summary returns the statistics for metric.
func (e *ErrorStats) Summary(metric types.MetricType) ErrorSummary {
	e.mu.Lock()
	defer e.mu.Unlock()

	agg, ok := e.metrics[metric]
	if !ok {
		return ErrorSummary{}
	}
	return agg.summary()
}

// Summaries returns the statistics of every metric with at least one error.
func (e *ErrorStats) Summaries() map[types.MetricType]ErrorSummary {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[types.MetricType]ErrorSummary, len(e.metrics))
	for m, agg := range e.metrics {
		out[m] = agg.summary()
	}
	return out
}

// Metrics returns the metrics with at least one recorded error.
func (e *ErrorStats) Metrics() []types.MetricType {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]types.MetricType, 0, len(e.metrics))
	for m := range e.metrics {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func exportSummary(metric types.MetricType, s ErrorSummary) {
	g := telemetry.ForecastErrorQuantile
	m := string(metric)
	g.WithLabelValues(m, "0.5").Set(s.P50)
	g.WithLabelValues(m, "0.9").Set(s.P90)
	g.WithLabelValues(m, "0.99").Set(s.P99)
}
