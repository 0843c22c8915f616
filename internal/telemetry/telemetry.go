// Package telemetry exposes pipeline counters to Prometheus.
//
// Collectors register with the default registry at init. Components update
// them directly; vigild serves them through Handler when telemetry.listen is set.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SamplesIngested = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vigil_samples_ingested_total",
		Help: "Total number of samples appended to the WAL",
	})

	WALAppendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vigil_wal_append_errors_total",
		Help: "Total number of failed WAL appends",
	})

	WALMalformedRecords = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vigil_wal_malformed_records_total",
		Help: "Total number of WAL records skipped during replay",
	})

	WALTornTails = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vigil_wal_torn_tails_total",
		Help: "Total number of incomplete records found at a segment tail",
	})

	BatchesCommitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vigil_batches_committed_total",
		Help: "Total number of batches committed to the bounded store",
	})

	BatchesReplayed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vigil_batches_replayed_total",
		Help: "Total number of batches rebuilt from the WAL at startup",
	})

	CommitRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vigil_commit_retries_total",
		Help: "Total number of retried batch commits",
	})

	CommitFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vigil_commit_failures_total",
		Help: "Total number of batch commits that exhausted their retries",
	})

	RejectedSamples = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vigil_rejected_samples_total",
		Help: "Total number of malformed samples skipped at commit",
	})

	ActiveRows = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vigil_active_rows",
		Help: "Current number of rows in the active store",
	})

	ArchivedSamples = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vigil_archived_samples_total",
		Help: "Total number of samples moved into archived records",
	})

	ArchiveRecords = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vigil_archive_records_total",
		Help: "Total number of archived records created",
	})

	Alerts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_alerts_total",
		Help: "Total number of alerts emitted by metric and color",
	}, []string{"metric", "color"})

	AlertsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vigil_alerts_dropped_total",
		Help: "Total number of alerts dropped because the dispatch queue was full",
	})

	SinkErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_sink_errors_total",
		Help: "Total number of failed sink writes",
	}, []string{"sink"})

	Forecasts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_forecasts_total",
		Help: "Total number of predictor results by estimator and outcome",
	}, []string{"estimator", "outcome"})

	ForecastError = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vigil_forecast_abs_error",
		Help:    "Absolute error between a forecast and the observed value",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100},
	}, []string{"metric"})

	ForecastErrorQuantile = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vigil_forecast_abs_error_quantile",
		Help: "Quantiles of the absolute forecast error since startup, from a DDSketch",
	}, []string{"metric", "quantile"})
)

// Forecast outcomes.
const (
	OutcomePending   = "pending"
	OutcomeForecast  = "forecast"
	OutcomeEvaluated = "evaluated"
	OutcomeExpired   = "expired"
)

func init() {
	prometheus.MustRegister(SamplesIngested)
	prometheus.MustRegister(WALAppendErrors)
	prometheus.MustRegister(WALMalformedRecords)
	prometheus.MustRegister(WALTornTails)
	prometheus.MustRegister(BatchesCommitted)
	prometheus.MustRegister(BatchesReplayed)
	prometheus.MustRegister(CommitRetries)
	prometheus.MustRegister(CommitFailures)
	prometheus.MustRegister(RejectedSamples)
	prometheus.MustRegister(ActiveRows)
	prometheus.MustRegister(ArchivedSamples)
	prometheus.MustRegister(ArchiveRecords)
	prometheus.MustRegister(Alerts)
	prometheus.MustRegister(AlertsDropped)
	prometheus.MustRegister(SinkErrors)
	prometheus.MustRegister(Forecasts)
	prometheus.MustRegister(ForecastError)
	prometheus.MustRegister(ForecastErrorQuantile)
}

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
