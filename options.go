package infergate

import (
	"errors"
	"log/slog"
	"time"

	"github.com/infergate/infergate/pkg/router"
	"github.com/infergate/infergate/routers"
)

var (
	errAtLeastOneProvider = errors.New("infergate: at least one provider is required")
	errBadAlpha           = errors.New("infergate: ewma alpha must be in (0, 1]")
)

// ClientConfig holds all configuration for the Infergate client.
type ClientConfig struct {
	// Providers configuration
	Providers []ProviderConfig

	// Custom provider instances (for advanced use)
	ProviderInstances []providerInstance

	// Routing
	Preferences Preferences
	Weights     Weights

	// StagePlans overrides the default pipeline stage table.
	StagePlans []StagePlan

	// Distributed performance ledger (for multi-instance deployments).
	// Nil means an in-process store.
	LedgerStore router.LedgerStore

	// EWMAAlpha is the smoothing factor for the in-process ledger store.
	EWMAAlpha float64

	// AvailabilityTTL is how long a probe verdict stays fresh.
	AvailabilityTTL time.Duration

	// Timeout is the per-call HTTP timeout applied to providers whose
	// config does not set one.
	Timeout time.Duration

	// Logging
	Logger *slog.Logger
}

// providerInstance holds a pre-configured provider under a routing identity.
type providerInstance struct {
	ID       ProviderID
	Provider Provider
	Enabled  bool
}

// Option is a function that configures the Client.
type Option func(*ClientConfig)

// defaultConfig returns sensible defaults.
func defaultConfig() *ClientConfig {
	return &ClientConfig{
		Preferences:     router.DefaultPreferences(),
		Weights:         router.DefaultWeights(),
		EWMAAlpha:       routers.DefaultAlpha,
		AvailabilityTTL: routers.DefaultAvailabilityTTL,
		Timeout:         2 * time.Minute,
		Logger:          slog.Default(),
	}
}

// WithProvider adds a backend configuration. The provider is created
// automatically based on the Type field.
//
// Example:
//
//	infergate.WithProvider(infergate.ProviderConfig{
//	    Type:    "vllm",
//	    Kind:    infergate.KindBatch,
//	    BaseURL: "http://localhost:8000",
//	    Enabled: true,
//	})
func WithProvider(cfg ProviderConfig) Option {
	return func(c *ClientConfig) {
		c.Providers = append(c.Providers, cfg)
	}
}

// WithProviderInstance adds a pre-configured provider instance under the
// given routing identity. Use this when a backend needs construction beyond
// what ProviderConfig offers.
//
// Example:
//
//	backend := ollama.New(ollamalike.WithBaseURL("http://gpu-box:11434"))
//	infergate.WithProviderInstance("ollama-gpu", backend)
func WithProviderInstance(id string, prov Provider) Option {
	return func(c *ClientConfig) {
		c.ProviderInstances = append(c.ProviderInstances, providerInstance{
			ID:       ProviderID(id),
			Provider: prov,
			Enabled:  true,
		})
	}
}

// WithPreferences replaces the routing preferences wholesale.
func WithPreferences(p Preferences) Option {
	return func(c *ClientConfig) {
		c.Preferences = p
	}
}

// WithWeights replaces the scoring rule weights.
func WithWeights(w Weights) Option {
	return func(c *ClientConfig) {
		c.Weights = w
	}
}

// WithStagePlans replaces the default pipeline stage table.
func WithStagePlans(plans ...StagePlan) Option {
	return func(c *ClientConfig) {
		c.StagePlans = plans
	}
}

// WithFallback enables or disables the single-fallback policy.
func WithFallback(enabled bool) Option {
	return func(c *ClientConfig) {
		c.Preferences.EnableFallback = enabled
	}
}

// WithFallbackTimeout sets how long the primary attempt may run before the
// fallback path takes over.
func WithFallbackTimeout(d time.Duration) Option {
	return func(c *ClientConfig) {
		c.Preferences.FallbackTimeout = d
	}
}

// WithLedgerStore sets a shared performance ledger store so several gateway
// instances route on the same statistics.
//
// Example:
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := routers.NewRedisLedgerStore(redisClient, seeds)
//	infergate.WithLedgerStore(store)
func WithLedgerStore(store router.LedgerStore) Option {
	return func(c *ClientConfig) {
		c.LedgerStore = store
	}
}

// WithEWMAAlpha sets the smoothing factor for performance statistics.
// alpha must be in (0, 1]; a higher alpha discounts older observations
// faster.
func WithEWMAAlpha(alpha float64) Option {
	return func(c *ClientConfig) {
		c.EWMAAlpha = alpha
	}
}

// WithAvailabilityTTL sets how long a reachability verdict stays fresh
// before the next routing decision probes again.
func WithAvailabilityTTL(d time.Duration) Option {
	return func(c *ClientConfig) {
		c.AvailabilityTTL = d
	}
}

// WithTimeout sets the default HTTP timeout for provider calls.
func WithTimeout(d time.Duration) Option {
	return func(c *ClientConfig) {
		c.Timeout = d
	}
}

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) Option {
	return func(c *ClientConfig) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

func (c *ClientConfig) validate() error {
	if len(c.Providers) == 0 && len(c.ProviderInstances) == 0 {
		return errAtLeastOneProvider
	}
	if c.EWMAAlpha <= 0 || c.EWMAAlpha > 1 {
		return errBadAlpha
	}
	return nil
}
