package routers

import (
	"context"
	"log/slog"
	"time"

	"github.com/infergate/infergate/pkg/router"
)

// DefaultAlpha is the exponential smoothing factor applied to latency and
// success-rate samples. A higher alpha discounts older observations faster.
const DefaultAlpha = 0.1

// Seed estimates installed before any traffic has been observed. Interactive
// backends start assumed reliable but slower; batch backends start assumed
// fast with middling reliability.
const (
	seedInteractiveLatencyMs   = 800.0
	seedInteractiveSuccessRate = 0.97
	seedBatchLatencyMs         = 400.0
	seedBatchSuccessRate       = 0.90
)

// DefaultSeeds builds the initial performance estimates for a provider set.
func DefaultSeeds(kinds map[router.ProviderID]router.Kind) map[router.ProviderID]router.Performance {
	seeds := make(map[router.ProviderID]router.Performance, len(kinds))
	for id, kind := range kinds {
		perf := router.Performance{
			Provider:     id,
			AvgLatencyMs: seedInteractiveLatencyMs,
			SuccessRate:  seedInteractiveSuccessRate,
		}
		if kind == router.KindBatch {
			perf.AvgLatencyMs = seedBatchLatencyMs
			perf.SuccessRate = seedBatchSuccessRate
		}
		seeds[id] = perf
	}
	return seeds
}

// Ledger tracks smoothed per-provider performance and is the decision
// engine's only source of latency and reliability signal. All writes flow
// through the fallback executor; the engine reads snapshots and never
// mutates.
type Ledger struct {
	store  router.LedgerStore
	seeds  map[router.ProviderID]router.Performance
	logger *slog.Logger

	onReset []func()
}

// NewLedger wraps a store with the given seed estimates. Seeds are applied
// on Reset and passed through to stores that seed lazily.
func NewLedger(store router.LedgerStore, seeds map[router.ProviderID]router.Performance, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	copied := make(map[router.ProviderID]router.Performance, len(seeds))
	for id, seed := range seeds {
		copied[id] = seed
	}
	return &Ledger{
		store:  store,
		seeds:  copied,
		logger: logger,
	}
}

// OnReset registers a hook invoked after every successful Reset. The
// availability cache registers here so an operator reset also discards
// cached reachability verdicts.
func (l *Ledger) OnReset(fn func()) {
	if fn != nil {
		l.onReset = append(l.onReset, fn)
	}
}

// Record folds one call outcome into the provider's record. Store errors
// are logged and swallowed; a metrics write must never fail the request
// that produced it.
func (l *Ledger) Record(ctx context.Context, id router.ProviderID, latency time.Duration, success bool) {
	latencyMs := float64(latency.Microseconds()) / 1000.0
	if err := l.store.Record(ctx, id, latencyMs, success); err != nil {
		l.logger.Warn("performance record failed",
			"provider", id,
			"latency_ms", latencyMs,
			"success", success,
			"error", err,
		)
		return
	}
	l.logger.Debug("performance recorded",
		"provider", id,
		"latency_ms", latencyMs,
		"success", success,
	)
}

// Get returns the current record for one provider.
func (l *Ledger) Get(ctx context.Context, id router.ProviderID) (router.Performance, error) {
	return l.store.Get(ctx, id)
}

// Snapshot returns a copy of every provider's current record.
func (l *Ledger) Snapshot(ctx context.Context) (map[router.ProviderID]router.Performance, error) {
	return l.store.Snapshot(ctx)
}

// Reset discards all accumulated records, reinstalls the seed estimates,
// and fires the registered reset hooks.
func (l *Ledger) Reset(ctx context.Context) error {
	if err := l.store.Reset(ctx, l.seeds); err != nil {
		return err
	}
	for _, fn := range l.onReset {
		fn()
	}
	l.logger.Info("performance ledger reset", "providers", len(l.seeds))
	return nil
}

// Close releases the underlying store.
func (l *Ledger) Close() error {
	return l.store.Close()
}
