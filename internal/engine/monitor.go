package engine

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// memoryProbe returns the resident set size of the process in bytes.
type memoryProbe func() (uint64, error)

func processRSS() (uint64, error) {
	p, err := process.NewProcess(int32(os.Getpid())) //nolint:gosec // pids fit in int32
	if err != nil {
		return 0, fmt.Errorf("failed to inspect process: %w", err)
	}
	info, err := p.MemoryInfo()
	if err != nil {
		return 0, fmt.Errorf("failed to read memory info: %w", err)
	}
	return info.RSS, nil
}

const mb = 1024 * 1024

// monitor measures the duration and resident memory growth of one entity.
// Entities of a level share the process, so the delta of concurrent
// entities overlaps.
type monitor struct {
	logger    *slog.Logger
	probe     memoryProbe
	threshold int
	start     time.Time
	rssBefore uint64
	ok        bool
}

func (e *Engine) startMonitor(logger *slog.Logger) *monitor {
	m := &monitor{
		logger:    logger,
		probe:     e.memory,
		threshold: e.cfg.Monitoring.Threshold(),
		start:     time.Now(),
	}
	if m.probe == nil {
		return m
	}
	rss, err := m.probe()
	if err != nil {
		logger.Debug("memory probe unavailable", slog.String("error", err.Error()))
		return m
	}
	m.rssBefore, m.ok = rss, true
	return m
}

// finish logs the measurements and returns the elapsed time.
func (m *monitor) finish(status string) time.Duration {
	elapsed := time.Since(m.start)
	attrs := []any{
		slog.String("status", status),
		slog.Duration("duration", elapsed),
	}

	if m.ok {
		if rss, err := m.probe(); err == nil {
			delta := (int64(rss) - int64(m.rssBefore)) / mb //nolint:gosec // RSS fits in int64
			attrs = append(attrs,
				slog.Int64("rss_mb", int64(rss/mb)), //nolint:gosec // RSS fits in int64
				slog.Int64("delta_mb", delta))
			if delta > int64(m.threshold) {
				m.logger.Warn("HIGH MEMORY: entity exceeded memory alert threshold",
					append(attrs, slog.Int("threshold_mb", m.threshold))...)
				return elapsed
			}
		}
	}

	m.logger.Info("entity finished", attrs...)
	return elapsed
}
