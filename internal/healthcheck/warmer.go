// Package healthcheck keeps backend reachability verdicts warm by probing
// ahead of request traffic, so routing decisions rarely pay for a probe
// inline.
package healthcheck

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/infergate/infergate"
	"github.com/infergate/infergate/internal/metrics"
)

const (
	defaultProbeInterval = 30 * time.Second
	defaultProbeTimeout  = 10 * time.Second
)

// ClientSource yields the routing client to probe and a release function.
// Implementations may hand out a different client over time, e.g. after a
// config reload swaps in a new provider set.
type ClientSource interface {
	Acquire() (*infergate.Client, func())
}

// StaticClient adapts a fixed client to the ClientSource interface.
type StaticClient struct {
	Client *infergate.Client
}

// Acquire returns the wrapped client.
func (s StaticClient) Acquire() (*infergate.Client, func()) {
	return s.Client, func() {}
}

// Config controls the availability warmer.
type Config struct {
	Enabled  bool
	Interval time.Duration
	Timeout  time.Duration
}

// Warmer periodically forces fresh availability probes for every configured
// backend and republishes the performance ledger as gauges. Forced probes
// bypass the verdict cache, so a backend going down is noticed within one
// sweep instead of one cache TTL.
type Warmer struct {
	cfg     Config
	source  ClientSource
	logger  *slog.Logger
	started atomic.Bool
}

// NewWarmer creates the warmer. It does nothing until Start is called.
func NewWarmer(cfg Config, source ClientSource, logger *slog.Logger) *Warmer {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultProbeInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultProbeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Warmer{
		cfg:    cfg,
		source: source,
		logger: logger,
	}
}

// Start begins the probe loop until the context is canceled. Starting a
// disabled or already started warmer is a no-op.
func (w *Warmer) Start(ctx context.Context) {
	if w == nil || !w.cfg.Enabled || w.source == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Warmer) run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.runOnce(ctx)

	for {
		select {
		case <-ticker.C:
			w.runOnce(ctx)
		case <-ctx.Done():
			w.logger.Info("availability warmer stopped")
			return
		}
	}
}

func (w *Warmer) runOnce(ctx context.Context) {
	client, release := w.source.Acquire()
	defer release()
	if client == nil {
		return
	}

	for _, id := range client.Providers() {
		if ctx.Err() != nil {
			return
		}
		probeCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
		available := client.RefreshAvailability(probeCtx, id)
		cancel()

		metrics.RecordProbe(string(id), available)
		if !available {
			w.logger.Warn("backend unavailable", "provider", id)
		}
	}
	w.publishPerformance(ctx, client)
}

// publishPerformance mirrors the ledger snapshot into gauges so dashboards
// track smoothed latency and success rate without polling the control plane.
func (w *Warmer) publishPerformance(ctx context.Context, client *infergate.Client) {
	snapshot, err := client.PerformanceMetrics(ctx)
	if err != nil {
		w.logger.Warn("performance snapshot failed", "error", err)
		return
	}
	for _, entry := range snapshot {
		metrics.SetProviderPerformance(entry.Provider, entry.SuccessRate, entry.AvgLatencyMs)
	}
}
