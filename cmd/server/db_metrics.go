package main

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/infergate/infergate/internal/metrics"
)

// dbStatsProvider exposes connection pool statistics. The postgres audit
// store satisfies it.
type dbStatsProvider interface {
	PoolStats() sql.DBStats
}

// startDBPoolMetrics periodically exports connection pool stats as
// Prometheus gauges. Returns a stop function; safe to call multiple times.
func startDBPoolMetrics(ctx context.Context, db dbStatsProvider, logger *slog.Logger, interval time.Duration) func() {
	if db == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	update := func() {
		metrics.UpdateDBPoolStats(db.PoolStats())
	}
	update()

	ticker := time.NewTicker(interval)
	stopCh := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() { close(stopCh) })
	}

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				update()
			case <-ctx.Done():
				stop()
				return
			case <-stopCh:
				return
			}
		}
	}()

	logger.Debug("db pool metrics exporter started", "interval", interval.String())
	return stop
}
