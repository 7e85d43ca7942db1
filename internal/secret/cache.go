// Package secret resolves configuration secret references (env://,
// vault://) so API keys and signing secrets stay out of the config file.
package secret

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// CachedProvider decorates a Provider with expiring in-memory caching.
// Vault reads happen once per TTL instead of once per reference, which
// matters during config hot-reloads that re-resolve every provider key.
type CachedProvider struct {
	inner Provider
	cache *cache.Cache
}

// NewCachedProvider wraps inner with a cache holding values for ttl.
func NewCachedProvider(inner Provider, ttl time.Duration) *CachedProvider {
	return &CachedProvider{
		inner: inner,
		cache: cache.New(ttl, ttl*2),
	}
}

// Get returns the cached value for path or fetches it from the inner
// provider. Errors are never cached.
func (p *CachedProvider) Get(ctx context.Context, path string) (string, error) {
	if cached, found := p.cache.Get(path); found {
		if value, ok := cached.(string); ok {
			return value, nil
		}
	}

	value, err := p.inner.Get(ctx, path)
	if err != nil {
		return "", err
	}
	p.cache.Set(path, value, cache.DefaultExpiration)
	return value, nil
}

// Close closes the inner provider.
func (p *CachedProvider) Close() error {
	return p.inner.Close()
}
