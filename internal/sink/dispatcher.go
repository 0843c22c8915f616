package sink

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/xtxerr/vigil/internal/errors"
	"github.com/xtxerr/vigil/internal/logging"
	"github.com/xtxerr/vigil/internal/telemetry"
	"github.com/xtxerr/vigil/internal/threshold"
)

const (
	dispatchChunk     = 64
	writeAttempts     = 3
	drainTimeout      = 5 * time.Second
	writeInitialDelay = 10 * time.Millisecond
)

// Dispatcher decouples alert emission from the alert sink.
// Emit never blocks: a full queue drops the alert. A single worker
// writes queued alerts in emission order.
type Dispatcher struct {
	sink     AlertSink
	queue    *Ring[threshold.Alert]
	notify   chan struct{}
	pressure *pressure
	log      *slog.Logger

	written atomic.Int64
	failed  atomic.Int64
}

// DispatcherStats holds dispatcher statistics.
type DispatcherStats struct {
	Queued       int
	Capacity     int
	Emitted      int64
	Dropped      int64
	Written      int64
	Failed       int64
	Level        Level
	LevelChanges int64
}

// NewDispatcher creates a dispatcher with a queue of size alerts.
func NewDispatcher(sink AlertSink, size int) *Dispatcher {
	d := &Dispatcher{
		sink:   sink,
		queue:  NewRing[threshold.Alert](size),
		notify: make(chan struct{}, 1),
		log:    logging.Component("dispatcher"),
	}
	d.pressure = &pressure{onChange: d.levelChanged}
	return d
}

func (d *Dispatcher) levelChanged(old, new Level) {
	if new > old {
		d.log.Warn("alert queue pressure rising", "from", old, "to", new, "queued", d.queue.Len())
		return
	}
	d.log.Info("alert queue pressure easing", "from", old, "to", new, "queued", d.queue.Len())
}

// Emit queues a. It returns false when the queue is full and a was dropped.
func (d *Dispatcher) Emit(a threshold.Alert) bool {
	telemetry.Alerts.WithLabelValues(string(a.Metric), a.Color).Inc()

	if !d.queue.Push(a) {
		telemetry.AlertsDropped.Inc()
		d.pressure.update(1)
		d.log.Warn("alert queue full, alert dropped",
			"metric", a.Metric, "level", a.Level, "dropped", d.queue.Dropped())
		return false
	}

	d.pressure.update(d.queue.UsageRatio())
	select {
	case d.notify <- struct{}{}:
	default:
	}
	return true
}

// Run writes queued alerts until ctx is cancelled, then drains what is left
// within a short timeout.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
			n := d.Flush(drainCtx)
			cancel()
			if n > 0 {
				d.log.Debug("alert queue drained", "alerts", n)
			}
			return nil
		case <-d.notify:
			d.Flush(ctx)
		}
	}
}

// Flush writes every queued alert and returns the number written.
// An alert whose write still fails after retries is counted and skipped.
func (d *Dispatcher) Flush(ctx context.Context) int {
	written := 0
	for {
		chunk := d.queue.PopN(dispatchChunk)
		if len(chunk) == 0 {
			break
		}
		for _, a := range chunk {
			if err := d.write(ctx, a); err != nil {
				d.failed.Add(1)
				telemetry.SinkErrors.WithLabelValues("alerts").Inc()
				d.log.Warn("alert write failed", "metric", a.Metric, "error", err)
				continue
			}
			written++
		}
		d.pressure.update(d.queue.UsageRatio())
	}
	d.written.Add(int64(written))
	return written
}

func (d *Dispatcher) write(ctx context.Context, a threshold.Alert) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = writeInitialDelay

	op := func() (struct{}, error) {
		err := d.sink.WriteAlert(ctx, a)
		if err != nil && !errors.IsRetriable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(writeAttempts),
	)
	return err
}

// Stats returns current statistics.
func (d *Dispatcher) Stats() DispatcherStats {
	level, changes := d.pressure.current()
	return DispatcherStats{
		Queued:       d.queue.Len(),
		Capacity:     d.queue.Cap(),
		Emitted:      d.queue.Pushed() + d.queue.Dropped(),
		Dropped:      d.queue.Dropped(),
		Written:      d.written.Load(),
		Failed:       d.failed.Load(),
		Level:        level,
		LevelChanges: changes,
	}
}
