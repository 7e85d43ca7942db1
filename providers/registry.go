// Package providers provides a unified registry for all backend adapters.
// It allows automatic provider creation from configuration.
package providers

import (
	"fmt"
	"sync"

	"github.com/infergate/infergate/pkg/provider"
	"github.com/infergate/infergate/providers/lmdeploy"
	"github.com/infergate/infergate/providers/ollama"
	"github.com/infergate/infergate/providers/vllm"
)

var (
	registry     = make(map[string]provider.Factory)
	registryOnce sync.Once
	registryMu   sync.RWMutex
)

// Register registers a provider factory with the given type name.
func Register(providerType string, factory provider.Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[providerType] = factory
}

// Get returns the factory for the given provider type.
func Get(providerType string) (provider.Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[providerType]
	return f, ok
}

// Create creates a provider instance from configuration.
func Create(cfg provider.Config) (provider.Provider, error) {
	registryMu.RLock()
	factory, ok := registry[cfg.Type]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown provider type: %s (available: %v)", cfg.Type, List())
	}

	return factory(cfg)
}

// List returns all registered provider type names.
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

// RegisterBuiltins registers all built-in backend factories.
// This is called automatically on first use.
func RegisterBuiltins() {
	registryOnce.Do(func() {
		Register(ollama.ProviderName, ollama.NewFromConfig)
		Register(vllm.ProviderName, vllm.NewFromConfig)
		Register(lmdeploy.ProviderName, lmdeploy.NewFromConfig)
	})
}

func init() {
	RegisterBuiltins()
}
