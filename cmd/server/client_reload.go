package main

import (
	"log/slog"
	"sync/atomic"

	"github.com/infergate/infergate"
	"github.com/infergate/infergate/internal/api"
	"github.com/infergate/infergate/internal/config"
)

// clientReloader rebuilds the routing client when the configuration changes
// and hands it to the swapper. In-flight requests keep the client they
// started with; the swapper closes it once they drain.
type clientReloader struct {
	logger     *slog.Logger
	swapper    *api.ClientSwapper
	build      func(*config.Config) (*infergate.Client, error)
	inProgress atomic.Bool
}

func newClientReloader(logger *slog.Logger, swapper *api.ClientSwapper, build func(*config.Config) (*infergate.Client, error)) *clientReloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &clientReloader{
		logger:  logger,
		swapper: swapper,
		build:   build,
	}
}

// Reload builds a client for cfg and swaps it in. A failed build keeps the
// current client serving.
func (r *clientReloader) Reload(cfg *config.Config) {
	if !r.inProgress.CompareAndSwap(false, true) {
		r.logger.Warn("client reload already in progress")
		return
	}
	defer r.inProgress.Store(false)

	next, err := r.build(cfg)
	if err != nil {
		r.logger.Error("failed to rebuild routing client", "error", err)
		return
	}
	if next == nil {
		r.logger.Error("failed to rebuild routing client", "error", "nil client")
		return
	}

	r.swapper.Swap(next)

	if cfg.Routing.Ledger.Backend != "redis" {
		r.logger.Info("in-process performance ledger reseeded")
	}
	r.logger.Info("routing client reloaded", "providers", len(cfg.Providers))
}
