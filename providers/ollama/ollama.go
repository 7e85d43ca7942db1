// Package ollama provides the Ollama backend adapter.
package ollama

import (
	"github.com/infergate/infergate/pkg/provider"
	"github.com/infergate/infergate/pkg/router"
	"github.com/infergate/infergate/providers/ollamalike"
)

const (
	ProviderName   = "ollama"
	DefaultBaseURL = "http://localhost:11434"
)

// DefaultModels lists common local Ollama models.
var DefaultModels = []string{
	"llama3.2",
	"llama3.1",
	"mistral",
	"mixtral",
	"codellama",
	"qwen2.5",
	"phi3",
	"gemma2",
}

// Ollama loads models on demand and serves single requests with low
// latency, which makes it the interactive backend in a mixed deployment.
var providerInfo = ollamalike.Info{
	Name:           ProviderName,
	Kind:           router.KindInteractive,
	DefaultBaseURL: DefaultBaseURL,
}

type Provider struct{ *ollamalike.Provider }

func New(opts ...ollamalike.Option) *Provider {
	return &Provider{Provider: ollamalike.New(providerInfo, opts...)}
}

func NewFromConfig(cfg provider.Config) (provider.Provider, error) {
	return ollamalike.NewFromConfig(providerInfo, cfg)
}
