package texture

import (
	"context"
	"log/slog"
	"time"

	"texcache/internal/logging"
)

// DefaultFrameInterval is the tick used by Run when none is given.
const DefaultFrameInterval = 16 * time.Millisecond

// FrameReport summarises one Frame call.
type FrameReport struct {
	Frame     uint64
	Applied   int
	Freed     int
	Uploaded  int
	Remaining int
}

// Driver runs the per-frame cache work on the goroutine that owns the Manager.
type Driver struct {
	mgr    *Manager
	logger *slog.Logger
}

// NewDriver returns a driver for mgr.
func NewDriver(mgr *Manager, logger *slog.Logger) *Driver {
	return &Driver{mgr: mgr, logger: logging.NewComponentLogger(logger, "frame")}
}

// Frame applies pending decode completions, sweeps when the cache is full and
// spends the upload budget, in that order.
func (d *Driver) Frame() FrameReport {
	m := d.mgr
	m.frame++
	report := FrameReport{Frame: m.frame}
	report.Applied = m.Drain()
	if m.IsFull() {
		report.Freed = m.FreeUnusedTextureSources()
	}
	report.Uploaded = m.throttle.ProcessSome()
	report.Remaining = m.throttle.Len()
	if report.Remaining > 0 {
		d.logger.Debug("uploads deferred",
			logging.Uint64("frame", report.Frame),
			logging.Int("uploaded", report.Uploaded),
			logging.Int("backlog", report.Remaining),
		)
	}
	return report
}

// Run calls Frame every interval until ctx is done. A posted completion wakes
// the loop early so results are applied without waiting for the next tick.
// The optional hook runs after each frame on the driver goroutine.
func (d *Driver) Run(ctx context.Context, interval time.Duration, hook func(FrameReport)) error {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-d.mgr.Notify():
		}
		report := d.Frame()
		if hook != nil {
			hook(report)
		}
	}
}
