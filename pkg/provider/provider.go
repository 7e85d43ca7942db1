// Package provider defines the adapter contract for local inference
// backends. Each backend (ollama, vllm, lmdeploy) implements this interface
// over its Ollama-compatible HTTP API.
package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/infergate/infergate/pkg/router"
	"github.com/infergate/infergate/pkg/types"
)

// Provider is one inference backend the gateway can route to.
type Provider interface {
	// Name returns the provider identifier (e.g. "ollama", "vllm").
	Name() string

	// Kind reports the backend's serving profile, which seeds its routing
	// statistics before real traffic arrives.
	Kind() router.Kind

	// IsAvailable probes the backend for liveness. It never returns an
	// error: an unreachable or misbehaving backend is simply unavailable.
	IsAvailable(ctx context.Context) bool

	// GenerateText runs a non-streamed text completion.
	GenerateText(ctx context.Context, req *types.GenerateRequest) (*types.GenerateResponse, error)

	// Chat runs a non-streamed chat turn.
	Chat(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error)

	// ListModels returns the models the backend currently serves.
	ListModels(ctx context.Context) ([]types.ModelInfo, error)
}

// Streamer is implemented by providers that can relay streaming responses.
// The gateway passes chunks through verbatim, one callback per NDJSON line.
type Streamer interface {
	StreamGenerate(ctx context.Context, req *types.GenerateRequest, fn func(chunk []byte) error) error
	StreamChat(ctx context.Context, req *types.ChatRequest, fn func(chunk []byte) error) error
}

// Config contains one backend's connection settings.
type Config struct {
	// ID is the routing identity: ledger records, availability verdicts,
	// and decisions all key on it. Defaults to Type when empty.
	ID   string
	Type string
	// Kind overrides the backend flavor's serving profile. Empty keeps the
	// flavor default.
	Kind    router.Kind
	BaseURL string
	// APIKey is optional; most local backends run unauthenticated.
	APIKey  string
	Enabled bool
	Timeout time.Duration
	// Models restricts routing to the listed models. Empty means the
	// backend serves whatever it reports via its tags endpoint.
	Models  []string
	Headers map[string]string
}

// ProviderID returns the routing identity for this configuration.
func (c Config) ProviderID() router.ProviderID {
	if c.ID != "" {
		return router.ProviderID(c.ID)
	}
	return router.ProviderID(c.Type)
}

// Validate checks the configuration for structural problems. Local
// (loopback, RFC1918) hosts are the normal case here and always accepted.
func (c Config) Validate() error {
	if c.Type == "" {
		return fmt.Errorf("provider %q: type is required", c.ID)
	}
	if c.Kind != "" && c.Kind != router.KindInteractive && c.Kind != router.KindBatch {
		return fmt.Errorf("provider %q: kind must be %q or %q, got %q",
			c.ProviderID(), router.KindInteractive, router.KindBatch, c.Kind)
	}
	if c.BaseURL != "" {
		if err := ValidateBaseURL(c.BaseURL); err != nil {
			return fmt.Errorf("provider %q: %w", c.ProviderID(), err)
		}
	}
	if c.Timeout < 0 {
		return fmt.Errorf("provider %q: timeout must not be negative", c.ProviderID())
	}
	return nil
}

// ValidateBaseURL validates a backend base URL. It rejects userinfo, query,
// and fragment parts, which are never legitimate in an API endpoint.
func ValidateBaseURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid base_url scheme %q (must be http or https)", u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("invalid base_url host %q", u.Host)
	}
	if u.User != nil {
		return fmt.Errorf("base_url must not contain userinfo")
	}
	if u.RawQuery != "" {
		return fmt.Errorf("base_url must not contain query")
	}
	if u.Fragment != "" {
		return fmt.Errorf("base_url must not contain fragment")
	}
	return nil
}

// Factory creates provider instances from configuration.
type Factory func(cfg Config) (Provider, error)
