package routers

import (
	"context"
	"sync"
	"time"

	"github.com/infergate/infergate/pkg/router"
)

// MemoryLedgerStore is an in-memory implementation of router.LedgerStore.
// Records live in a map protected by an RWMutex.
//
// Characteristics:
//   - Fast: no network calls
//   - Local-only: records are not shared across instances
//   - No persistence: records are lost on restart
//
// Use cases:
//   - Single-instance deployments
//   - Development and testing
//   - Fallback when Redis is unavailable
type MemoryLedgerStore struct {
	mu      sync.RWMutex
	records map[router.ProviderID]*router.Performance
	seeds   map[router.ProviderID]router.Performance
	alpha   float64
}

var _ router.LedgerStore = (*MemoryLedgerStore)(nil)

// NewMemoryLedgerStore creates a seeded in-memory ledger store with the
// default smoothing factor.
func NewMemoryLedgerStore(seeds map[router.ProviderID]router.Performance) *MemoryLedgerStore {
	return NewMemoryLedgerStoreWithAlpha(seeds, DefaultAlpha)
}

// NewMemoryLedgerStoreWithAlpha creates a seeded in-memory ledger store with
// a custom smoothing factor in (0, 1].
func NewMemoryLedgerStoreWithAlpha(seeds map[router.ProviderID]router.Performance, alpha float64) *MemoryLedgerStore {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultAlpha
	}
	s := &MemoryLedgerStore{
		records: make(map[router.ProviderID]*router.Performance, len(seeds)),
		seeds:   make(map[router.ProviderID]router.Performance, len(seeds)),
		alpha:   alpha,
	}
	s.installSeeds(seeds)
	return s
}

// Get retrieves the record for one provider.
func (s *MemoryLedgerStore) Get(ctx context.Context, id router.ProviderID) (router.Performance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return router.Performance{}, router.ErrPerformanceNotFound
	}
	return *rec, nil
}

// Record folds one call outcome into the provider's record. Seeded records
// smooth from their seed estimate; a provider recorded without a seed adopts
// the first sample directly.
func (s *MemoryLedgerStore) Record(ctx context.Context, id router.ProviderID, latencyMs float64, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sample := 0.0
	if success {
		sample = 1.0
	}

	rec, ok := s.records[id]
	if !ok {
		rec = &router.Performance{
			Provider:     id,
			AvgLatencyMs: latencyMs,
			SuccessRate:  sample,
		}
		s.records[id] = rec
	} else {
		rec.AvgLatencyMs = rec.AvgLatencyMs*(1.0-s.alpha) + latencyMs*s.alpha
		rec.SuccessRate = rec.SuccessRate*(1.0-s.alpha) + sample*s.alpha
	}
	rec.RequestCount++
	rec.LastUpdated = time.Now()

	return nil
}

// Snapshot returns a copy of every record keyed by provider.
func (s *MemoryLedgerStore) Snapshot(ctx context.Context) (map[router.ProviderID]router.Performance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[router.ProviderID]router.Performance, len(s.records))
	for id, rec := range s.records {
		out[id] = *rec
	}
	return out, nil
}

// Reset discards all records and reinstalls the given seeds.
func (s *MemoryLedgerStore) Reset(ctx context.Context, seeds map[router.ProviderID]router.Performance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[router.ProviderID]*router.Performance, len(seeds))
	s.seeds = make(map[router.ProviderID]router.Performance, len(seeds))
	s.installSeeds(seeds)

	return nil
}

// Close releases the store. Records are dropped.
func (s *MemoryLedgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[router.ProviderID]*router.Performance)
	return nil
}

// installSeeds writes seed records. The caller must hold s.mu or have
// exclusive access.
func (s *MemoryLedgerStore) installSeeds(seeds map[router.ProviderID]router.Performance) {
	for id, seed := range seeds {
		rec := seed
		rec.Provider = id
		rec.RequestCount = 0
		s.records[id] = &rec
		s.seeds[id] = seed
	}
}
