// vigild collects host metrics into a bounded durable store, classifies every
// sample against threshold rules and forecasts the next value of each metric.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/vigil/internal/collector"
	verrors "github.com/xtxerr/vigil/internal/errors"
	"github.com/xtxerr/vigil/internal/logging"
	"github.com/xtxerr/vigil/internal/pipeline"
	"github.com/xtxerr/vigil/internal/sink"
	"github.com/xtxerr/vigil/internal/storage/bounded"
	"github.com/xtxerr/vigil/internal/storage/config"
	"github.com/xtxerr/vigil/internal/storage/parquet"
	"github.com/xtxerr/vigil/internal/telemetry"
)

// Version is set at build time via ldflags
var Version = "dev"

type flags struct {
	configPath     string
	thresholdsPath string
	dataDir        string
	logLevel       string
	logJSON        bool
	requirements   bool
	exportPath     string
}

func main() {
	var f flags
	flag.StringVar(&f.configPath, "config", "", "config file path (built-in defaults when empty)")
	flag.StringVar(&f.thresholdsPath, "thresholds", "", "threshold rules file (overrides config)")
	flag.StringVar(&f.dataDir, "data-dir", "", "data directory (overrides config)")
	flag.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	flag.BoolVar(&f.logJSON, "log-json", false, "log as JSON")
	flag.BoolVar(&f.requirements, "requirements", false, "print estimated resource requirements and exit")
	flag.StringVar(&f.exportPath, "export-archive", "", "write archived samples to a Parquet file and exit")
	flag.Parse()

	if err := run(f); err != nil {
		fmt.Fprintf(os.Stderr, "vigild: %v\n", err)
		if verrors.IsConfiguration(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(f flags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}

	level, _ := logging.ParseLevel(cfg.Logging.Level)
	logging.Init(level, cfg.Logging.JSON)
	log := logging.Component("vigild")

	if f.requirements {
		req := cfg.CalculateRequirements()
		fmt.Print(req.FormatRequirements())
		return nil
	}

	log.Info("vigild starting", "version", Version, "data_dir", cfg.DataDir)

	// =========================================================================
	// Thresholds
	// =========================================================================

	classifier, watcher, err := pipeline.LoadClassifier(cfg)
	if err != nil {
		return fmt.Errorf("load thresholds: %w", err)
	}
	log.Info("thresholds loaded", "path", cfg.Thresholds.Path, "table", classifier.Table().String())

	// =========================================================================
	// Bounded store
	// =========================================================================

	store, codec, err := pipeline.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer codec.Close()
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if f.exportPath != "" {
		rows, err := bounded.ExportArchive(ctx, store, codec, f.exportPath, parquet.DefaultOptions())
		if err != nil {
			return fmt.Errorf("export archive: %w", err)
		}
		log.Info("archive exported", "path", f.exportPath, "rows", rows)
		return nil
	}

	// =========================================================================
	// Sinks
	// =========================================================================

	db, closeDB, err := sinkDatabase(cfg, store)
	if err != nil {
		return err
	}
	defer closeDB()

	alerts, err := sink.OpenAlertSink(ctx, cfg.Sinks.Alerts, cfg.DataDir, db)
	if err != nil {
		return fmt.Errorf("open alert sink: %w", err)
	}
	defer alerts.Close()

	forecasts, err := sink.OpenForecastSink(ctx, cfg.Sinks.Forecasts, cfg.DataDir, db)
	if err != nil {
		return fmt.Errorf("open forecast sink: %w", err)
	}
	defer forecasts.Close()

	// =========================================================================
	// Telemetry
	// =========================================================================

	if cfg.Telemetry.Listen != "" {
		srv := serveTelemetry(cfg.Telemetry.Listen, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	// =========================================================================
	// Run
	// =========================================================================

	p, err := pipeline.New(pipeline.Options{
		Config:     cfg,
		Store:      store,
		Classifier: classifier,
		Watcher:    watcher,
		Collector:  collector.NewHost(cfg.Collector.DiskPath),
		Alerts:     alerts,
		Forecasts:  forecasts,
	})
	if err != nil {
		return err
	}

	if err := p.Run(ctx); err != nil {
		return err
	}

	st := p.Stats()
	log.Info("vigild stopped",
		"collections", st.Collections,
		"samples", st.Ingestion.SamplesIngested,
		"batches", st.Ingestion.BatchesCommitted,
		"pending_batches", st.Ingestion.PendingBatches,
		"alerts_dropped", st.Dispatcher.Dropped,
	)
	for metric, e := range st.ForecastErrors {
		log.Info("forecast accuracy",
			"metric", metric,
			"forecasts_scored", e.Count,
			"mae", e.MAE,
			"p50", e.P50,
			"p90", e.P90,
			"p99", e.P99,
		)
	}
	return nil
}

// loadConfig reads the config file and applies command-line overrides.
// A missing file falls back to the defaults.
func loadConfig(f flags) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
			fmt.Fprintf(os.Stderr, "vigild: no config file at %s, using defaults\n", f.configPath)
		case err != nil:
			return nil, err
		default:
			cfg = loaded
		}
	}

	if f.thresholdsPath != "" {
		cfg.Thresholds.Path = f.thresholdsPath
	}
	if f.dataDir != "" {
		cfg.DataDir = f.dataDir
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	if f.logJSON {
		cfg.Logging.JSON = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// sinkDatabase returns the connection duckdb sinks write through. A DuckDB
// store shares its own; otherwise a connection to the store file is opened
// when a sink needs one.
func sinkDatabase(cfg *config.Config, store bounded.Backend) (*sql.DB, func(), error) {
	noop := func() {}

	if cfg.Sinks.Alerts.Kind != "duckdb" && cfg.Sinks.Forecasts.Kind != "duckdb" {
		return nil, noop, nil
	}
	if d, ok := store.(*bounded.DuckDB); ok {
		return d.DB(), noop, nil
	}

	db, err := sql.Open("duckdb", cfg.StoreDSN())
	if err != nil {
		return nil, noop, fmt.Errorf("open sink database: %w", err)
	}
	return db, func() { db.Close() }, nil
}

func serveTelemetry(addr string, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("telemetry server failed", "addr", addr, "error", err)
		}
	}()

	log.Info("telemetry listening", "addr", addr)
	return srv
}
