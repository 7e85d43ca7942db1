package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/infergate/infergate/internal/api"
	"github.com/infergate/infergate/internal/config"
	"github.com/infergate/infergate/internal/metrics"
	"github.com/infergate/infergate/internal/observability"
	"github.com/infergate/infergate/internal/secret"
)

// buildMiddlewareStack assembles the shared HTTP middleware. Wrap order,
// outermost first: request ID, metrics, logging, then per-client rate
// limiting, so rejected requests still carry an ID and show up in metrics
// and logs. The returned stop function releases the rate limiter's
// cleanup loop.
func buildMiddlewareStack(cfg *config.Config, logger *slog.Logger) (func(http.Handler) http.Handler, func(), error) {
	if cfg == nil {
		return nil, nil, errNilConfig
	}
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *api.ClientRateLimiter
	stop := func() {}
	if cfg.RateLimit.Enabled {
		limiter = api.NewClientRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.BurstSize)
		stop = limiter.Close
		logger.Info("per-client rate limiting enabled",
			"requests_per_minute", cfg.RateLimit.RequestsPerMinute,
			"burst", cfg.RateLimit.BurstSize,
		)
	}

	logging := api.LoggingMiddleware(logger)

	wrap := func(next http.Handler) http.Handler {
		if next == nil {
			return nil
		}
		handler := next
		if limiter != nil {
			handler = limiter.Middleware(handler)
		}
		handler = logging(handler)
		handler = metrics.Middleware(handler)
		handler = observability.RequestIDMiddleware(handler)
		return handler
	}
	return wrap, stop, nil
}

// buildAdminAuth resolves the JWT signing secret and builds the gate for
// mutating control endpoints.
func buildAdminAuth(ctx context.Context, cfg *config.Config, secrets *secret.Manager) (*api.AdminAuth, error) {
	if !cfg.Auth.Enabled {
		return api.NewAdminAuth("", false), nil
	}
	jwtSecret, err := secrets.Resolve(ctx, cfg.Auth.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("auth.jwt_secret: %w", err)
	}
	return api.NewAdminAuth(jwtSecret, true), nil
}
