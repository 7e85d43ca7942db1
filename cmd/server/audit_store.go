package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/infergate/infergate/internal/audit"
	"github.com/infergate/infergate/internal/config"
)

// buildAuditStore creates the decision audit store named by the
// configuration plus a stop function for its background jobs. A disabled
// audit section yields a nil store; audit endpoints then answer 503.
func buildAuditStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (audit.Store, func(), error) {
	if !cfg.Audit.Enabled {
		return nil, nil, nil
	}

	switch cfg.Audit.Backend {
	case "", "memory":
		capacity := cfg.Audit.MemoryCapacity
		if capacity <= 0 {
			capacity = 1024
		}
		store := audit.NewMemoryStore(capacity)
		return store, startRetentionJob(ctx, store, cfg.Audit.Retention, logger), nil

	case "postgres":
		pg := cfg.Audit.Postgres
		pgCfg := audit.DefaultPostgresConfig()
		pgCfg.Host = pg.Host
		pgCfg.Port = pg.Port
		pgCfg.User = pg.User
		pgCfg.Password = pg.Password
		pgCfg.Database = pg.Database
		if pg.SSLMode != "" {
			pgCfg.SSLMode = pg.SSLMode
		}

		store, err := audit.NewPostgresStore(pgCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("audit store: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("audit schema: %w", err)
		}

		stopMetrics := startDBPoolMetrics(ctx, store, logger, 30*time.Second)
		stopRetention := startRetentionJob(ctx, store, cfg.Audit.Retention, logger)
		stop := func() {
			if stopRetention != nil {
				stopRetention()
			}
			if stopMetrics != nil {
				stopMetrics()
			}
			_ = store.Close()
		}
		return store, stop, nil

	default:
		return nil, nil, fmt.Errorf("unknown audit backend %q", cfg.Audit.Backend)
	}
}

// retentionStore is the slice of the audit store the purge job needs.
type retentionStore interface {
	DeleteRecords(olderThan time.Time) (int64, error)
}

// startRetentionJob purges audit records older than the retention window
// once per hour, starting immediately. Zero retention keeps records
// forever and starts no job.
func startRetentionJob(ctx context.Context, store retentionStore, retention time.Duration, logger *slog.Logger) func() {
	if store == nil || retention <= 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	purge := func() {
		deleted, err := store.DeleteRecords(time.Now().Add(-retention))
		if err != nil {
			logger.Error("audit retention purge failed", "error", err)
			return
		}
		if deleted > 0 {
			logger.Info("audit records purged", "deleted", deleted, "retention", retention.String())
		}
	}
	purge()

	ticker := time.NewTicker(time.Hour)
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
				purge()
			case <-ctx.Done():
				stop()
				return
			case <-stopCh:
				return
			}
		}
	}()

	logger.Debug("audit retention job started", "retention", retention.String())
	return stop
}
