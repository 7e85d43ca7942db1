package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/infergate/infergate"
	"github.com/infergate/infergate/internal/config"
	"github.com/infergate/infergate/internal/secret"
	secretenv "github.com/infergate/infergate/internal/secret/env"
	secretvault "github.com/infergate/infergate/internal/secret/vault"
	"github.com/infergate/infergate/pkg/provider"
	"github.com/infergate/infergate/pkg/router"
	"github.com/infergate/infergate/providers"
	"github.com/infergate/infergate/routers"
)

var errNoProviders = errors.New("no providers enabled")

// buildSecretManager wires the env resolver and, when an address is
// configured, the Vault resolver. Vault reads are cached so a config reload
// that re-resolves every provider credential does not hammer the server.
func buildSecretManager(cfg *config.Config) (*secret.Manager, error) {
	manager := secret.NewManager()
	manager.Register("env", secretenv.New())

	if cfg.Secrets.VaultAddr != "" {
		vp, err := secretvault.New(secretvault.Config{
			Address: cfg.Secrets.VaultAddr,
			Token:   cfg.Secrets.VaultToken,
		})
		if err != nil {
			return nil, fmt.Errorf("vault provider: %w", err)
		}
		manager.Register("vault", secret.NewCachedProvider(vp, cfg.Secrets.CacheTTL))
	}

	return manager, nil
}

// buildClient assembles a routing client from configuration: backends with
// resolved credentials, routing preferences, stage overrides, and the
// performance ledger store. ledgerRedis is the connection opened at startup
// for the redis ledger backend; nil when the in-process ledger is used.
func buildClient(ctx context.Context, cfg *config.Config, secrets *secret.Manager, ledgerRedis redis.UniversalClient, logger *slog.Logger) (*infergate.Client, error) {
	opts, err := clientOptions(ctx, cfg, secrets, ledgerRedis, logger)
	if err != nil {
		return nil, err
	}
	return infergate.New(opts...)
}

func clientOptions(ctx context.Context, cfg *config.Config, secrets *secret.Manager, ledgerRedis redis.UniversalClient, logger *slog.Logger) ([]infergate.Option, error) {
	opts := []infergate.Option{
		infergate.WithLogger(logger),
		infergate.WithPreferences(routingPreferences(cfg)),
	}
	if cfg.Routing.EWMAAlpha > 0 {
		opts = append(opts, infergate.WithEWMAAlpha(cfg.Routing.EWMAAlpha))
	}
	if cfg.Routing.AvailabilityTTL > 0 {
		opts = append(opts, infergate.WithAvailabilityTTL(cfg.Routing.AvailabilityTTL))
	}

	// Instances are created here rather than via WithProvider so the
	// effective serving kinds are known before the client exists; the
	// redis ledger needs them for its seed records.
	kinds := make(map[router.ProviderID]router.Kind)
	for i := range cfg.Providers {
		pc := cfg.Providers[i]
		id := router.ProviderID(pc.ProviderID())
		if !pc.IsEnabled() {
			logger.Info("provider disabled", "id", id)
			continue
		}

		apiKey, err := secrets.Resolve(ctx, pc.APIKey)
		if err != nil {
			return nil, fmt.Errorf("provider %q api key: %w", id, err)
		}

		prov, err := providers.Create(provider.Config{
			ID:      pc.ID,
			Type:    pc.Type,
			Kind:    router.Kind(pc.Kind),
			BaseURL: pc.BaseURL,
			APIKey:  apiKey,
			Enabled: true,
			Timeout: pc.Timeout,
			Models:  pc.Models,
			Headers: pc.Headers,
		})
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", id, err)
		}

		opts = append(opts, infergate.WithProviderInstance(string(id), prov))
		kinds[id] = prov.Kind()
		logger.Info("provider registered", "id", id, "type", pc.Type, "kind", prov.Kind())
	}
	if len(kinds) == 0 {
		return nil, errNoProviders
	}

	if len(cfg.Stages) > 0 {
		opts = append(opts, infergate.WithStagePlans(stagePlans(cfg.Stages)...))
	}

	if cfg.Routing.Ledger.Backend == "redis" {
		if ledgerRedis == nil {
			return nil, errors.New(`ledger backend "redis" requires the connection opened at startup`)
		}
		store := routers.NewRedisLedgerStore(ledgerRedis, routers.DefaultSeeds(kinds), redisLedgerOptions(cfg)...)
		opts = append(opts, infergate.WithLedgerStore(store))
	}

	return opts, nil
}

// routingPreferences maps the configuration onto engine preferences, keeping
// the stock defaults for anything the file leaves unset.
func routingPreferences(cfg *config.Config) infergate.Preferences {
	prefs := infergate.DefaultPreferences()
	r := cfg.Routing

	prefs.PreferSpeed = r.PreferSpeed
	prefs.PreferAccuracy = r.PreferAccuracy
	prefs.EnableFallback = r.FallbackEnabled
	if r.FallbackTimeout > 0 {
		prefs.FallbackTimeout = r.FallbackTimeout
	}
	if r.ChatPreference != "" {
		prefs.ChatPreference = router.ProviderID(r.ChatPreference)
	}
	if r.EmbeddingPreference != "" {
		prefs.EmbeddingPreference = router.ProviderID(r.EmbeddingPreference)
	}
	if r.BatchPreference != "" {
		prefs.BatchProcessingPreference = router.ProviderID(r.BatchPreference)
	}
	if r.ToolPreference != "" {
		prefs.ToolCallingPreference = router.ProviderID(r.ToolPreference)
	}
	if r.SmallModelPattern != "" {
		prefs.SmallModelThreshold = r.SmallModelPattern
	}
	if r.LargeModelPattern != "" {
		prefs.LargeModelThreshold = r.LargeModelPattern
	}
	return prefs
}

// stagePlans converts stage overrides into a replacement plan table.
func stagePlans(settings []config.StageSettings) []infergate.StagePlan {
	plans := make([]infergate.StagePlan, 0, len(settings))
	for _, s := range settings {
		plans = append(plans, infergate.StagePlan{
			Stage:            s.Stage,
			Provider:         router.ProviderID(s.Provider),
			Reason:           s.Reason,
			Confidence:       s.Confidence,
			Fallback:         router.ProviderID(s.Fallback),
			BatchingEligible: s.BatchingEligible,
			Parallelizable:   s.Parallelizable,
		})
	}
	return plans
}

func redisLedgerOptions(cfg *config.Config) []routers.RedisLedgerOption {
	var opts []routers.RedisLedgerOption
	if prefix := cfg.Routing.Ledger.Redis.KeyPrefix; prefix != "" {
		opts = append(opts, routers.WithLedgerKeyPrefix(prefix))
	}
	if cfg.Routing.EWMAAlpha > 0 {
		opts = append(opts, routers.WithLedgerAlpha(cfg.Routing.EWMAAlpha))
	}
	return opts
}

// openLedgerRedis connects to the redis instance backing the shared
// performance ledger. The connection is opened once and reused across
// config reloads; ledger stores built on it never close it.
func openLedgerRedis(ctx context.Context, cfg *config.Config, secrets *secret.Manager) (redis.UniversalClient, error) {
	rc := cfg.Routing.Ledger.Redis

	password, err := secrets.Resolve(ctx, rc.Password)
	if err != nil {
		return nil, fmt.Errorf("redis password: %w", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: password,
		DB:       rc.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ledger: %w", err)
	}
	return client, nil
}
