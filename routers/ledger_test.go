package routers

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/infergate/infergate/pkg/router"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSeeds() map[router.ProviderID]router.Performance {
	return DefaultSeeds(map[router.ProviderID]router.Kind{
		"ollama": router.KindInteractive,
		"vllm":   router.KindBatch,
	})
}

func TestDefaultSeeds_KindBias(t *testing.T) {
	seeds := testSeeds()

	interactive := seeds["ollama"]
	batch := seeds["vllm"]

	// Interactive backends start assumed reliable but slower.
	require.Greater(t, interactive.AvgLatencyMs, batch.AvgLatencyMs)
	require.Greater(t, interactive.SuccessRate, batch.SuccessRate)
	require.Zero(t, interactive.RequestCount)
	require.Zero(t, batch.RequestCount)
}

func TestMemoryLedgerStore_SeededSnapshot(t *testing.T) {
	store := NewMemoryLedgerStore(testSeeds())
	ctx := context.Background()

	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 2)

	require.InDelta(t, 800.0, snap["ollama"].AvgLatencyMs, 0.001)
	require.InDelta(t, 0.97, snap["ollama"].SuccessRate, 0.001)
	require.Zero(t, snap["ollama"].RequestCount)

	require.InDelta(t, 400.0, snap["vllm"].AvgLatencyMs, 0.001)
	require.InDelta(t, 0.90, snap["vllm"].SuccessRate, 0.001)
}

func TestMemoryLedgerStore_SmoothingConvergence(t *testing.T) {
	store := NewMemoryLedgerStore(testSeeds())
	ctx := context.Background()

	// Constant samples converge both averages toward the sample values.
	for i := 0; i < 100; i++ {
		require.NoError(t, store.Record(ctx, "ollama", 100.0, true))
	}

	perf, err := store.Get(ctx, "ollama")
	require.NoError(t, err)
	require.InDelta(t, 100.0, perf.AvgLatencyMs, 1.0)
	require.InDelta(t, 1.0, perf.SuccessRate, 0.01)
	require.EqualValues(t, 100, perf.RequestCount)
	require.False(t, perf.LastUpdated.IsZero())
}

func TestMemoryLedgerStore_SingleRecordSmoothsFromSeed(t *testing.T) {
	store := NewMemoryLedgerStore(testSeeds())
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, "ollama", 100.0, true))

	perf, err := store.Get(ctx, "ollama")
	require.NoError(t, err)
	// 800*0.9 + 100*0.1 and 0.97*0.9 + 1.0*0.1 with the default alpha.
	require.InDelta(t, 730.0, perf.AvgLatencyMs, 0.001)
	require.InDelta(t, 0.973, perf.SuccessRate, 0.001)
	require.EqualValues(t, 1, perf.RequestCount)
}

func TestMemoryLedgerStore_FailuresLowerSuccessRate(t *testing.T) {
	store := NewMemoryLedgerStore(testSeeds())
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		require.NoError(t, store.Record(ctx, "vllm", 400.0, false))
	}

	perf, err := store.Get(ctx, "vllm")
	require.NoError(t, err)
	require.InDelta(t, 0.0, perf.SuccessRate, 0.01)
	require.EqualValues(t, 50, perf.RequestCount)
}

func TestMemoryLedgerStore_UnseededProviderAdoptsFirstSample(t *testing.T) {
	store := NewMemoryLedgerStore(nil)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, "lmdeploy", 250.0, true))

	perf, err := store.Get(ctx, "lmdeploy")
	require.NoError(t, err)
	require.Equal(t, 250.0, perf.AvgLatencyMs)
	require.Equal(t, 1.0, perf.SuccessRate)
	require.EqualValues(t, 1, perf.RequestCount)
}

func TestMemoryLedgerStore_GetUnknownProvider(t *testing.T) {
	store := NewMemoryLedgerStore(testSeeds())

	_, err := store.Get(context.Background(), "nope")
	require.ErrorIs(t, err, router.ErrPerformanceNotFound)
}

func TestMemoryLedgerStore_Reset(t *testing.T) {
	seeds := testSeeds()
	store := NewMemoryLedgerStore(seeds)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, store.Record(ctx, "ollama", 50.0, false))
	}
	require.NoError(t, store.Reset(ctx, seeds))

	perf, err := store.Get(ctx, "ollama")
	require.NoError(t, err)
	require.InDelta(t, 800.0, perf.AvgLatencyMs, 0.001)
	require.InDelta(t, 0.97, perf.SuccessRate, 0.001)
	require.Zero(t, perf.RequestCount)
}

func TestMemoryLedgerStore_ConcurrentRecordsLoseNothing(t *testing.T) {
	store := NewMemoryLedgerStore(testSeeds())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = store.Record(ctx, "ollama", 200.0, true)
			}
		}()
	}
	wg.Wait()

	perf, err := store.Get(ctx, "ollama")
	require.NoError(t, err)
	require.EqualValues(t, 1000, perf.RequestCount)
	require.InDelta(t, 200.0, perf.AvgLatencyMs, 1.0)
	require.InDelta(t, 1.0, perf.SuccessRate, 0.01)
}

func TestLedger_ResetFiresHooksAndReseeds(t *testing.T) {
	seeds := testSeeds()
	ledger := NewLedger(NewMemoryLedgerStore(seeds), seeds, testLogger())
	ctx := context.Background()

	hookCalls := 0
	ledger.OnReset(func() { hookCalls++ })

	ledger.Record(ctx, "ollama", 120*time.Millisecond, true)
	require.NoError(t, ledger.Reset(ctx))
	require.Equal(t, 1, hookCalls)

	perf, err := ledger.Get(ctx, "ollama")
	require.NoError(t, err)
	require.InDelta(t, 800.0, perf.AvgLatencyMs, 0.001)
	require.Zero(t, perf.RequestCount)
}

func TestLedger_RecordConvertsDuration(t *testing.T) {
	store := NewMemoryLedgerStore(nil)
	ledger := NewLedger(store, nil, testLogger())
	ctx := context.Background()

	ledger.Record(ctx, "ollama", 1500*time.Millisecond, true)

	perf, err := ledger.Get(ctx, "ollama")
	require.NoError(t, err)
	require.InDelta(t, 1500.0, perf.AvgLatencyMs, 0.001)
}
