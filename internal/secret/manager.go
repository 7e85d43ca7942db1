package secret

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Manager resolves secret references by URI scheme. Configuration fields
// such as provider api_key and auth.jwt_secret may hold either a literal
// value or a reference like env://OLLAMA_API_KEY or
// vault://secret/data/infergate#jwt_secret.
type Manager struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewManager creates an empty manager. Register providers per scheme
// before resolving references.
func NewManager() *Manager {
	return &Manager{
		providers: make(map[string]Provider),
	}
}

// Register installs the provider answering one scheme, such as "env" or
// "vault".
func (m *Manager) Register(scheme string, provider Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[scheme] = provider
}

// Resolve turns one configuration value into its secret. Values without a
// scheme pass through unchanged, so plain literals keep working.
func (m *Manager) Resolve(ctx context.Context, ref string) (string, error) {
	scheme, path, ok := strings.Cut(ref, "://")
	if !ok {
		return ref, nil
	}

	m.mu.RLock()
	provider, registered := m.providers[scheme]
	m.mu.RUnlock()
	if !registered {
		return "", fmt.Errorf("no secret provider registered for scheme %q", scheme)
	}

	value, err := provider.Get(ctx, path)
	if err != nil {
		return "", fmt.Errorf("resolve %s secret: %w", scheme, err)
	}
	return value, nil
}

// Close releases every registered provider.
func (m *Manager) Close() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for scheme, p := range m.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s provider: %w", scheme, err))
		}
	}
	return errors.Join(errs...)
}
