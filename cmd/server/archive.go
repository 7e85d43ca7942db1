package main

import (
	"context"
	"log/slog"

	"github.com/infergate/infergate/internal/config"
	"github.com/infergate/infergate/internal/observability"
)

// buildArchiver creates the S3 decision archiver when archiving is enabled.
// Credentials come from the default AWS chain.
func buildArchiver(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*observability.DecisionArchiver, error) {
	if !cfg.Archive.Enabled {
		return nil, nil
	}
	return observability.NewDecisionArchiver(ctx, observability.ArchiveConfig{
		Bucket:        cfg.Archive.Bucket,
		Region:        cfg.Archive.Region,
		Endpoint:      cfg.Archive.Endpoint,
		Prefix:        cfg.Archive.Prefix,
		FlushInterval: cfg.Archive.FlushInterval,
		BatchSize:     cfg.Archive.BatchSize,
	}, logger)
}
