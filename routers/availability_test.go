package routers

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/infergate/infergate/pkg/router"
)

// countingProber counts probes per provider and answers from a fixed map.
// Providers absent from the map probe as available.
type countingProber struct {
	mu    sync.Mutex
	calls map[router.ProviderID]int
	down  map[router.ProviderID]bool
	delay time.Duration
}

func newCountingProber() *countingProber {
	return &countingProber{
		calls: make(map[router.ProviderID]int),
		down:  make(map[router.ProviderID]bool),
	}
}

func (p *countingProber) Probe(ctx context.Context, id router.ProviderID) bool {
	p.mu.Lock()
	p.calls[id]++
	down := p.down[id]
	p.mu.Unlock()
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	return !down
}

func (p *countingProber) count(id router.ProviderID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[id]
}

func (p *countingProber) setDown(id router.ProviderID, down bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.down[id] = down
}

func TestAvailabilityCache_FreshEntryNeverReprobes(t *testing.T) {
	prober := newCountingProber()
	cache := NewAvailabilityCache(prober, time.Minute, testLogger())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.True(t, cache.Check(ctx, "ollama"))
	}
	require.Equal(t, 1, prober.count("ollama"))
}

func TestAvailabilityCache_ProbeFailureBecomesFalse(t *testing.T) {
	prober := newCountingProber()
	prober.setDown("vllm", true)
	cache := NewAvailabilityCache(prober, time.Minute, testLogger())

	require.False(t, cache.Check(context.Background(), "vllm"))
	// The failure verdict is cached like any other.
	require.False(t, cache.Check(context.Background(), "vllm"))
	require.Equal(t, 1, prober.count("vllm"))
}

func TestAvailabilityCache_ExpiryTriggersReprobe(t *testing.T) {
	prober := newCountingProber()
	cache := NewAvailabilityCache(prober, 10*time.Millisecond, testLogger())
	ctx := context.Background()

	require.True(t, cache.Check(ctx, "ollama"))
	time.Sleep(20 * time.Millisecond)
	require.True(t, cache.Check(ctx, "ollama"))
	require.Equal(t, 2, prober.count("ollama"))
}

func TestAvailabilityCache_VerdictFlipsAfterExpiry(t *testing.T) {
	prober := newCountingProber()
	cache := NewAvailabilityCache(prober, 10*time.Millisecond, testLogger())
	ctx := context.Background()

	require.True(t, cache.Check(ctx, "ollama"))

	prober.setDown("ollama", true)
	time.Sleep(20 * time.Millisecond)
	require.False(t, cache.Check(ctx, "ollama"))
}

func TestAvailabilityCache_InvalidateForcesProbe(t *testing.T) {
	prober := newCountingProber()
	cache := NewAvailabilityCache(prober, time.Minute, testLogger())
	ctx := context.Background()

	cache.Check(ctx, "ollama")
	cache.Invalidate("ollama")
	cache.Check(ctx, "ollama")
	require.Equal(t, 2, prober.count("ollama"))
}

func TestAvailabilityCache_ClearDropsEveryVerdict(t *testing.T) {
	prober := newCountingProber()
	cache := NewAvailabilityCache(prober, time.Minute, testLogger())
	ctx := context.Background()

	cache.Check(ctx, "ollama")
	cache.Check(ctx, "vllm")
	require.Len(t, cache.Snapshot(), 2)

	cache.Clear()
	require.Empty(t, cache.Snapshot())

	cache.Check(ctx, "ollama")
	require.Equal(t, 2, prober.count("ollama"))
}

func TestAvailabilityCache_SetSkipsProbe(t *testing.T) {
	prober := newCountingProber()
	cache := NewAvailabilityCache(prober, time.Minute, testLogger())

	cache.Set("ollama", false)
	require.False(t, cache.Check(context.Background(), "ollama"))
	require.Equal(t, 0, prober.count("ollama"))
}

func TestAvailabilityCache_RefreshReplacesFreshVerdict(t *testing.T) {
	prober := newCountingProber()
	cache := NewAvailabilityCache(prober, time.Minute, testLogger())
	ctx := context.Background()

	require.True(t, cache.Check(ctx, "ollama"))
	prober.setDown("ollama", true)

	require.False(t, cache.Refresh(ctx, "ollama"))
	require.False(t, cache.Check(ctx, "ollama"))
	require.Equal(t, 2, prober.count("ollama"))
}

func TestAvailabilityCache_ColdConcurrentChecksProbeOnce(t *testing.T) {
	prober := newCountingProber()
	prober.delay = 5 * time.Millisecond
	cache := NewAvailabilityCache(prober, time.Minute, testLogger())
	ctx := context.Background()

	var wg sync.WaitGroup
	var available atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if cache.Check(ctx, "ollama") {
				available.Add(1)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 10, available.Load())
	require.Equal(t, 1, prober.count("ollama"))
}

func TestAvailabilityCache_ProvidersProbeIndependently(t *testing.T) {
	prober := newCountingProber()
	prober.setDown("vllm", true)
	cache := NewAvailabilityCache(prober, time.Minute, testLogger())
	ctx := context.Background()

	require.True(t, cache.Check(ctx, "ollama"))
	require.False(t, cache.Check(ctx, "vllm"))
	require.Equal(t, 1, prober.count("ollama"))
	require.Equal(t, 1, prober.count("vllm"))

	snap := cache.Snapshot()
	require.True(t, snap["ollama"].Available)
	require.False(t, snap["vllm"].Available)
}
