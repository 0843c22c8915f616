// Package predict forecasts the next value of each metric from committed history
// and scores every forecast against the sample that follows it.
package predict

import (
	"fmt"

	"github.com/xtxerr/vigil/internal/errors"
	"github.com/xtxerr/vigil/internal/storage/config"
)

// Estimator forecasts the next value of a series.
type Estimator interface {
	// Name identifies the estimator in logs and forecast records.
	Name() string

	// MinSamples is the shortest history Forecast accepts.
	MinSamples() int

	// Forecast returns the predicted next value of values, oldest first.
	// It returns an error wrapping ErrInsufficientData for a short history.
	Forecast(values []float64) (float64, error)
}

func insufficient(name string, have, need int) error {
	return errors.Wrapf(errors.ErrInsufficientData, "%s: have %d samples, need %d", name, have, need)
}

// EMA is an exponential moving average scaled by a fixed trend:
//
//	m[0] = x[0]
//	m[i] = Alpha*x[i] + (1-Alpha)*m[i-1]
//	forecast = m[last] * (1 + TrendPct)
type EMA struct {
	Alpha    float64
	TrendPct float64
}

func (e EMA) Name() string { return "ema" }

func (e EMA) MinSamples() int { return 1 }

func (e EMA) Forecast(values []float64) (float64, error) {
	if len(values) < e.MinSamples() {
		return 0, insufficient(e.Name(), len(values), e.MinSamples())
	}

	m := values[0]
	for _, x := range values[1:] {
		m = e.Alpha*x + (1-e.Alpha)*m
	}
	return m * (1 + e.TrendPct), nil
}

// DiffAR approximates an ARIMA(p,1,q) forecast without fitting it. The AR
// term is the sum of the last P first differences; residuals start at zero
// and are never updated, so the MA term over the last Q residuals is zero.
type DiffAR struct {
	P int
	Q int
}

func (d DiffAR) Name() string { return "diffar" }

// MinSamples is max(P, Q) + 1.
func (d DiffAR) MinSamples() int { return max(d.P, d.Q) + 1 }

func (d DiffAR) Forecast(values []float64) (float64, error) {
	if len(values) < d.MinSamples() {
		return 0, insufficient(d.Name(), len(values), d.MinSamples())
	}

	diffs := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		diffs[i-1] = values[i] - values[i-1]
	}

	var ar float64
	for i := 1; i <= d.P && i <= len(diffs); i++ {
		ar += diffs[len(diffs)-i]
	}

	residuals := make([]float64, len(diffs))
	var ma float64
	for i := 1; i <= d.Q && i <= len(residuals); i++ {
		ma += residuals[len(residuals)-i]
	}

	return values[len(values)-1] + ar + ma, nil
}

// Linear extrapolates the least-squares line through values, taken at
// indices 0..n-1, to index n.
type Linear struct {
	MinPoints int
}

func (l Linear) Name() string { return "linear" }

// MinSamples is MinPoints, and never less than two.
func (l Linear) MinSamples() int { return max(l.MinPoints, 2) }

func (l Linear) Forecast(values []float64) (float64, error) {
	n := len(values)
	if n < l.MinSamples() {
		return 0, insufficient(l.Name(), n, l.MinSamples())
	}

	var sx, sy, sxx, sxy float64
	for i, y := range values {
		x := float64(i)
		sx += x
		sy += y
		sxx += x * x
		sxy += x * y
	}

	fn := float64(n)
	slope := (fn*sxy - sx*sy) / (fn*sxx - sx*sx)
	intercept := (sy - slope*sx) / fn
	return slope*fn + intercept, nil
}

// EstimatorFromConfig builds the estimator selected by cfg.Estimator.
func EstimatorFromConfig(cfg config.PredictorConfig) (Estimator, error) {
	switch cfg.Estimator {
	case "ema":
		return EMA{Alpha: cfg.Alpha, TrendPct: cfg.TrendPct}, nil
	case "diffar":
		return DiffAR{P: cfg.P, Q: cfg.Q}, nil
	case "linear":
		return Linear{MinPoints: cfg.LinearMinSamples}, nil
	default:
		return nil, errors.NewInvalidValue("predictor.estimator", cfg.Estimator,
			fmt.Sprintf("must be %s, %s or %s", EMA{}.Name(), DiffAR{}.Name(), Linear{}.Name()))
	}
}
