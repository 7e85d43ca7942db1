package routers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/infergate/infergate/pkg/router"
)

// DefaultAvailabilityTTL is how long a probe verdict is trusted before the
// next query triggers a fresh probe.
const DefaultAvailabilityTTL = 30 * time.Second

// AvailabilityCache memoizes per-provider reachability. Queries inside the
// TTL are answered from memory; the first query after expiry runs the
// liveness probe and every concurrent query for the same provider waits for
// that single probe instead of stacking its own. Probes for distinct
// providers never block each other.
//
// Probe failures are verdicts, not errors: an unreachable backend is
// recorded as unavailable and the check itself never fails.
type AvailabilityCache struct {
	prober router.Prober
	ttl    time.Duration
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[router.ProviderID]*availabilityState
}

// availabilityState holds one provider's verdict. The embedded mutex
// serializes probes for that provider only.
type availabilityState struct {
	mu    sync.Mutex
	entry router.AvailabilityEntry
}

// NewAvailabilityCache creates a cache over the given prober. A ttl of zero
// or less falls back to the default.
func NewAvailabilityCache(prober router.Prober, ttl time.Duration, logger *slog.Logger) *AvailabilityCache {
	if ttl <= 0 {
		ttl = DefaultAvailabilityTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AvailabilityCache{
		prober:  prober,
		ttl:     ttl,
		logger:  logger,
		entries: make(map[router.ProviderID]*availabilityState),
	}
}

// Check returns whether the provider is reachable, probing only when the
// cached verdict has expired.
func (c *AvailabilityCache) Check(ctx context.Context, id router.ProviderID) bool {
	st := c.state(id)

	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.entry.CheckedAt.IsZero() && time.Since(st.entry.CheckedAt) < c.ttl {
		return st.entry.Available
	}

	available := c.prober.Probe(ctx, id)
	st.entry = router.AvailabilityEntry{Available: available, CheckedAt: time.Now()}

	if available {
		c.logger.Debug("availability probe", "provider", id, "available", true)
	} else {
		c.logger.Warn("availability probe", "provider", id, "available", false)
	}
	return available
}

// Refresh probes the provider immediately, replacing any cached verdict.
func (c *AvailabilityCache) Refresh(ctx context.Context, id router.ProviderID) bool {
	st := c.state(id)

	st.mu.Lock()
	defer st.mu.Unlock()

	available := c.prober.Probe(ctx, id)
	st.entry = router.AvailabilityEntry{Available: available, CheckedAt: time.Now()}
	return available
}

// Set installs a verdict without probing. Used when a request outcome
// already proves reachability one way or the other.
func (c *AvailabilityCache) Set(id router.ProviderID, available bool) {
	st := c.state(id)

	st.mu.Lock()
	defer st.mu.Unlock()

	st.entry = router.AvailabilityEntry{Available: available, CheckedAt: time.Now()}
}

// Invalidate expires one provider's verdict so the next Check probes.
func (c *AvailabilityCache) Invalidate(id router.ProviderID) {
	c.mu.RLock()
	st, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok {
		return
	}

	st.mu.Lock()
	st.entry = router.AvailabilityEntry{}
	st.mu.Unlock()
}

// Clear discards every cached verdict.
func (c *AvailabilityCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[router.ProviderID]*availabilityState)
	c.mu.Unlock()
}

// Snapshot returns a copy of every cached verdict keyed by provider.
func (c *AvailabilityCache) Snapshot() map[router.ProviderID]router.AvailabilityEntry {
	c.mu.RLock()
	states := make(map[router.ProviderID]*availabilityState, len(c.entries))
	for id, st := range c.entries {
		states[id] = st
	}
	c.mu.RUnlock()

	out := make(map[router.ProviderID]router.AvailabilityEntry, len(states))
	for id, st := range states {
		st.mu.Lock()
		if !st.entry.CheckedAt.IsZero() {
			out[id] = st.entry
		}
		st.mu.Unlock()
	}
	return out
}

// TTL reports the configured verdict lifetime.
func (c *AvailabilityCache) TTL() time.Duration {
	return c.ttl
}

// state returns the per-provider slot, creating it on first use.
func (c *AvailabilityCache) state(id router.ProviderID) *availabilityState {
	c.mu.RLock()
	st, ok := c.entries[id]
	c.mu.RUnlock()
	if ok {
		return st
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok = c.entries[id]; ok {
		return st
	}
	st = &availabilityState{}
	c.entries[id] = st
	return st
}
