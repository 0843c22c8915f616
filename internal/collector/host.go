package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"

	"github.com/xtxerr/vigil/internal/errors"
	"github.com/xtxerr/vigil/internal/logging"
	"github.com/xtxerr/vigil/internal/storage/types"
)

// Host reads the local machine:
//   - cpu: utilization percent since the previous call
//   - memory: used percent of virtual memory
//   - disk: FREE percent of DiskPath
//   - net_sent, net_recv: cumulative bytes over all interfaces
type Host struct {
	DiskPath string

	log *slog.Logger
	now func() time.Time
}

// NewHost creates a host collector reporting free space of diskPath.
func NewHost(diskPath string) *Host {
	if diskPath == "" {
		diskPath = "/"
	}
	return &Host{
		DiskPath: diskPath,
		log:      logging.Component("collector"),
		now:      time.Now,
	}
}

// Collect reads every metric. A failing reader is logged and skipped;
// an error is returned only when nothing could be read.
func (h *Host) Collect(ctx context.Context) ([]types.Sample, error) {
	ts := h.now()
	samples := make([]types.Sample, 0, 5)

	var errs []error
	add := func(metric types.MetricType, value float64, err error) {
		if err != nil {
			h.log.Debug("metric read failed", "metric", metric, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", metric, err))
			return
		}
		samples = append(samples, types.NewSample(ts, metric, value))
	}

	cpuPct, err := h.cpuPercent(ctx)
	add(types.MetricCPU, cpuPct, err)

	memPct, err := h.memoryPercent(ctx)
	add(types.MetricMemory, memPct, err)

	freePct, err := h.diskFreePercent(ctx)
	add(types.MetricDisk, freePct, err)

	sent, recv, err := h.netBytes(ctx)
	add(types.MetricNetSent, sent, err)
	add(types.MetricNetRecv, recv, err)

	if len(samples) == 0 {
		return nil, errors.NewTransient("collect host metrics", errors.Join(errs...))
	}
	return samples, nil
}

func (h *Host) cpuPercent(ctx context.Context) (float64, error) {
	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(pct) == 0 {
		return 0, errors.New("no cpu reading")
	}
	return pct[0], nil
}

func (h *Host) memoryPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

func (h *Host) diskFreePercent(ctx context.Context) (float64, error) {
	usage, err := disk.UsageWithContext(ctx, h.DiskPath)
	if err != nil {
		return 0, err
	}
	return 100 - usage.UsedPercent, nil
}

func (h *Host) netBytes(ctx context.Context) (float64, float64, error) {
	stats, err := net.IOCountersWithContext(ctx, false)
	if err != nil {
		return 0, 0, err
	}
	if len(stats) == 0 {
		return 0, 0, errors.New("no network counters")
	}
	return float64(stats[0].BytesSent), float64(stats[0].BytesRecv), nil
}
