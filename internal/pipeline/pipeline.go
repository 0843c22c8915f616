// Package pipeline wires sample collection, durable ingestion, threshold
// classification and trend prediction into one runnable unit.
//
// Data flow:
//
//	collector → ingestion (WAL → batch → bounded store) → predictor.Observe
//	          ↘ classifier → dispatcher → alert sink
//	bounded store → predictor (own ticker) → forecast sink
package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/vigil/internal/collector"
	"github.com/xtxerr/vigil/internal/errors"
	"github.com/xtxerr/vigil/internal/logging"
	"github.com/xtxerr/vigil/internal/predict"
	"github.com/xtxerr/vigil/internal/sink"
	"github.com/xtxerr/vigil/internal/storage/bounded"
	"github.com/xtxerr/vigil/internal/storage/config"
	"github.com/xtxerr/vigil/internal/storage/ingestion"
	"github.com/xtxerr/vigil/internal/storage/types"
	"github.com/xtxerr/vigil/internal/threshold"
)

// finalDrainTimeout bounds the forecast and alert writes after ingestion stops.
const finalDrainTimeout = 5 * time.Second

// Options holds the collaborators of a Pipeline.
type Options struct {
	Config *config.Config

	// Store is the bounded store. The pipeline does not close it.
	Store bounded.Backend

	// Classifier is required. Watcher is optional.
	Classifier *threshold.Classifier
	Watcher    *threshold.Watcher

	// Collector is optional; without it samples arrive through IngestSamples.
	Collector collector.Collector

	// Sinks default to sink.Discard. The pipeline does not close them.
	Alerts    sink.AlertSink
	Forecasts sink.ForecastSink
}

// Pipeline is the running instance state. It holds no globals.
type Pipeline struct {
	config *config.Config
	log    *slog.Logger

	ingest     *ingestion.Service
	classifier *threshold.Classifier
	watcher    *threshold.Watcher
	dispatcher *sink.Dispatcher
	predictor  *predict.Predictor
	collector  collector.Collector

	running   atomic.Bool
	startedAt atomic.Int64 // unix nanoseconds

	collections   atomic.Int64
	collectErrors atomic.Int64
}

// New assembles a pipeline. Nothing runs until Run.
func New(opts Options) (*Pipeline, error) {
	if opts.Config == nil {
		return nil, errors.NewMissingField("config")
	}
	if opts.Store == nil {
		return nil, errors.NewMissingField("store")
	}
	if opts.Classifier == nil {
		return nil, errors.NewMissingField("classifier")
	}
	if opts.Alerts == nil {
		opts.Alerts = sink.Discard
	}
	if opts.Forecasts == nil {
		opts.Forecasts = sink.Discard
	}

	cfg := opts.Config

	ing, err := ingestion.New(cfg, opts.Store)
	if err != nil {
		return nil, errors.Wrap(err, "create ingestion")
	}

	p := &Pipeline{
		config:     cfg,
		log:        logging.Component("pipeline"),
		ingest:     ing,
		classifier: opts.Classifier,
		watcher:    opts.Watcher,
		dispatcher: sink.NewDispatcher(opts.Alerts, cfg.Sinks.AlertQueueSize),
		collector:  opts.Collector,
	}

	if cfg.Predictor.Enabled {
		est, err := predict.EstimatorFromConfig(cfg.Predictor)
		if err != nil {
			return nil, err
		}
		p.predictor = predict.New(opts.Store, est, opts.Forecasts, predict.Options{
			Window:       cfg.Predictor.Window,
			Interval:     cfg.Predictor.Interval,
			AwaitTimeout: cfg.Predictor.AwaitTimeout,
		})

		// Forecasts are scored only against committed samples.
		ing.OnCommit(func(batch *types.Batch, _ bounded.InsertResult) {
			p.predictor.Observe(batch.Samples())
		})
	}

	return p, nil
}

// Run starts ingestion, replaying the WAL, and runs the collector loop, the
// alert dispatcher, the predictor and the threshold watcher until ctx is
// cancelled or one of them fails. Ingestion is then drained before Run returns.
// A Pipeline runs once.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return errors.ErrAlreadyRunning
	}
	defer p.running.Store(false)

	p.startedAt.Store(time.Now().UnixNano())

	if err := p.ingest.Start(ctx); err != nil {
		return errors.Wrap(err, "start ingestion")
	}

	p.log.Info("pipeline started",
		"batch_size", p.config.Ingestion.BatchSize,
		"max_entries", p.config.Store.MaxEntries,
		"predictor", p.predictor != nil,
		"collector", p.collector != nil,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return p.dispatcher.Run(gctx) })

	if p.predictor != nil {
		g.Go(func() error { return p.predictor.Run(gctx) })
	}
	if p.watcher != nil {
		g.Go(func() error { return p.watcher.Run(gctx) })
	}
	if p.collector != nil {
		g.Go(func() error { return p.collectLoop(gctx) })
	}

	runErr := g.Wait()

	stopCtx := context.WithoutCancel(ctx)
	stopErr := p.ingest.Stop(stopCtx)

	// Commits made while stopping may have scored forecasts.
	drainCtx, cancel := context.WithTimeout(stopCtx, finalDrainTimeout)
	defer cancel()
	if p.predictor != nil {
		if err := p.predictor.Drain(drainCtx); err != nil {
			p.log.Warn("forecasts not written at shutdown", "error", err)
		}
	}
	p.dispatcher.Flush(drainCtx)

	p.log.Info("pipeline stopped", "uptime", p.uptime())
	return errors.Join(runErr, stopErr)
}

// collectLoop collects on every tick until ctx is cancelled or a replay is exhausted.
func (p *Pipeline) collectLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.config.Collector.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			samples, err := p.collector.Collect(ctx)
			if errors.Is(err, collector.ErrExhausted) {
				p.log.Info("collector exhausted", "collections", p.collections.Load())
				return nil
			}
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				p.collectErrors.Add(1)
				p.log.Warn("collection failed", "error", err)
				continue
			}
			p.collections.Add(1)

			if err := p.IngestSamples(ctx, samples); err != nil && ctx.Err() == nil {
				p.log.Warn("samples not ingested", "error", err)
			}
		}
	}
}

// IngestSamples appends samples to the WAL and classifies each one.
// Malformed samples are logged and skipped. The first other failure stops
// the call; samples before it are durable.
func (p *Pipeline) IngestSamples(ctx context.Context, samples []types.Sample) error {
	for _, s := range samples {
		if _, err := p.ingest.Ingest(ctx, s); err != nil {
			if errors.IsMalformed(err) {
				p.log.Warn("malformed sample skipped", "metric", s.Metric, "error", err)
				continue
			}
			return err
		}

		if alert, ok := p.classifier.Evaluate(s); ok {
			p.dispatcher.Emit(alert)
		}
	}
	return nil
}

// Flush seals the open batch so it commits without waiting for the timer.
func (p *Pipeline) Flush() {
	p.ingest.Flush()
}

// Predictor returns the predictor, or nil when disabled.
func (p *Pipeline) Predictor() *predict.Predictor {
	return p.predictor
}

// IsRunning reports whether Run is active.
func (p *Pipeline) IsRunning() bool {
	return p.running.Load()
}

// Stats returns current statistics.
func (p *Pipeline) Stats() Stats {
	st := Stats{
		Running:       p.running.Load(),
		Collections:   p.collections.Load(),
		CollectErrors: p.collectErrors.Load(),
		Ingestion:     p.ingest.Stats(),
		Dispatcher:    p.dispatcher.Stats(),
	}
	if st.Running {
		st.Uptime = p.uptime()
	}
	if p.predictor != nil {
		st.ForecastErrors = p.predictor.ErrorStats().Summaries()
	}
	return st
}

func (p *Pipeline) uptime() time.Duration {
	return time.Since(time.Unix(0, p.startedAt.Load()))
}

// Stats holds pipeline statistics.
type Stats struct {
	Running       bool
	Uptime        time.Duration
	Collections   int64
	CollectErrors int64
	Ingestion     ingestion.ServiceStats
	Dispatcher    sink.DispatcherStats

	// ForecastErrors is nil when the predictor is disabled.
	ForecastErrors map[types.MetricType]predict.ErrorSummary
}
