package routers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	igerrors "github.com/infergate/infergate/pkg/errors"
	"github.com/infergate/infergate/pkg/router"
)

// scriptedOp counts invocations per provider and plays back configured
// failures, delays, and return values.
type scriptedOp struct {
	mu    sync.Mutex
	calls map[router.ProviderID]int
	fail  map[router.ProviderID]error
	delay map[router.ProviderID]time.Duration
	value map[router.ProviderID]any
}

func newScriptedOp() *scriptedOp {
	return &scriptedOp{
		calls: make(map[router.ProviderID]int),
		fail:  make(map[router.ProviderID]error),
		delay: make(map[router.ProviderID]time.Duration),
		value: make(map[router.ProviderID]any),
	}
}

func (s *scriptedOp) run(ctx context.Context, id router.ProviderID) (any, error) {
	s.mu.Lock()
	s.calls[id]++
	fail := s.fail[id]
	delay := s.delay[id]
	value := s.value[id]
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail != nil {
		return nil, fail
	}
	return value, nil
}

func (s *scriptedOp) count(id router.ProviderID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

func newTestExecutor(t *testing.T, prefs router.Preferences) (*Executor, *Ledger) {
	t.Helper()
	seeds := neutralSeeds()
	ledger := NewLedger(NewMemoryLedgerStore(seeds), seeds, testLogger())
	return NewExecutor(ledger, prefs, testLogger()), ledger
}

func TestExecutor_PrimarySuccessRecordsAndReturns(t *testing.T) {
	x, ledger := newTestExecutor(t, router.DefaultPreferences())
	op := newScriptedOp()
	op.value["ollama"] = "hello"

	res, err := x.Execute(context.Background(), router.Decision{Provider: "ollama", Fallback: "vllm"}, op.run)
	require.NoError(t, err)
	require.Equal(t, "hello", res.Value)
	require.Equal(t, router.ProviderID("ollama"), res.Provider)
	require.False(t, res.FellBack)
	require.Equal(t, 1, op.count("ollama"))
	require.Equal(t, 0, op.count("vllm"))

	perf, err := ledger.Get(context.Background(), "ollama")
	require.NoError(t, err)
	require.EqualValues(t, 1, perf.RequestCount)
	require.Greater(t, perf.SuccessRate, 0.95)
}

func TestExecutor_FallbackDisabledNeverInvokesSecondary(t *testing.T) {
	prefs := router.DefaultPreferences()
	prefs.EnableFallback = false
	x, ledger := newTestExecutor(t, prefs)

	op := newScriptedOp()
	boom := errors.New("boom")
	op.fail["ollama"] = boom

	_, err := x.Execute(context.Background(), router.Decision{Provider: "ollama", Fallback: "vllm"}, op.run)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, op.count("ollama"))
	require.Equal(t, 0, op.count("vllm"))

	perf, err := ledger.Get(context.Background(), "ollama")
	require.NoError(t, err)
	require.EqualValues(t, 1, perf.RequestCount)
	require.Less(t, perf.SuccessRate, 0.95)
}

func TestExecutor_FailingPrimaryInvokesFallbackExactlyOnce(t *testing.T) {
	x, ledger := newTestExecutor(t, router.DefaultPreferences())

	op := newScriptedOp()
	op.fail["ollama"] = errors.New("boom")
	op.value["vllm"] = "rescued"

	res, err := x.Execute(context.Background(), router.Decision{Provider: "ollama", Fallback: "vllm"}, op.run)
	require.NoError(t, err)
	require.Equal(t, "rescued", res.Value)
	require.Equal(t, router.ProviderID("vllm"), res.Provider)
	require.True(t, res.FellBack)
	require.Equal(t, 1, op.count("ollama"))
	require.Equal(t, 1, op.count("vllm"))

	// Both attempts landed in the ledger against their own provider.
	primary, err := ledger.Get(context.Background(), "ollama")
	require.NoError(t, err)
	require.EqualValues(t, 1, primary.RequestCount)
	fallback, err := ledger.Get(context.Background(), "vllm")
	require.NoError(t, err)
	require.EqualValues(t, 1, fallback.RequestCount)
	require.Greater(t, fallback.SuccessRate, primary.SuccessRate)
}

func TestExecutor_BothAttemptsFailPropagatesFallbackError(t *testing.T) {
	x, _ := newTestExecutor(t, router.DefaultPreferences())

	op := newScriptedOp()
	op.fail["ollama"] = errors.New("primary down")
	fbErr := errors.New("fallback down")
	op.fail["vllm"] = fbErr

	_, err := x.Execute(context.Background(), router.Decision{Provider: "ollama", Fallback: "vllm"}, op.run)
	require.ErrorIs(t, err, fbErr)
	require.Equal(t, 1, op.count("ollama"))
	require.Equal(t, 1, op.count("vllm"))
}

func TestExecutor_NoFallbackConfiguredPropagatesPrimaryError(t *testing.T) {
	x, _ := newTestExecutor(t, router.DefaultPreferences())

	op := newScriptedOp()
	boom := errors.New("boom")
	op.fail["ollama"] = boom

	_, err := x.Execute(context.Background(), router.Decision{Provider: "ollama"}, op.run)
	require.ErrorIs(t, err, boom)
}

func TestExecutor_TimeoutTriggersFallback(t *testing.T) {
	prefs := router.DefaultPreferences()
	prefs.FallbackTimeout = 50 * time.Millisecond
	x, ledger := newTestExecutor(t, prefs)

	op := newScriptedOp()
	op.delay["ollama"] = 500 * time.Millisecond
	op.value["ollama"] = "too late"
	op.value["vllm"] = "rescued"

	start := time.Now()
	res, err := x.Execute(context.Background(), router.Decision{Provider: "ollama", Fallback: "vllm"}, op.run)
	require.NoError(t, err)
	require.Equal(t, "rescued", res.Value)
	require.True(t, res.FellBack)
	require.Less(t, time.Since(start), 400*time.Millisecond)

	// The timeout was recorded as a failure with the deadline as latency.
	perf, err := ledger.Get(context.Background(), "ollama")
	require.NoError(t, err)
	require.EqualValues(t, 1, perf.RequestCount)
	require.Less(t, perf.SuccessRate, 0.95)
}

func TestExecutor_TimeoutWithoutFallbackIsRoutingTimeout(t *testing.T) {
	prefs := router.DefaultPreferences()
	prefs.FallbackTimeout = 50 * time.Millisecond
	x, _ := newTestExecutor(t, prefs)

	op := newScriptedOp()
	op.delay["ollama"] = 500 * time.Millisecond

	_, err := x.Execute(context.Background(), router.Decision{Provider: "ollama"}, op.run)
	require.Error(t, err)
	require.True(t, igerrors.IsRoutingTimeout(err))
}

func TestExecutor_LatePrimaryResultIsDiscarded(t *testing.T) {
	prefs := router.DefaultPreferences()
	prefs.FallbackTimeout = 50 * time.Millisecond
	x, ledger := newTestExecutor(t, prefs)

	op := newScriptedOp()
	op.delay["ollama"] = 150 * time.Millisecond
	op.value["ollama"] = "too late"
	op.value["vllm"] = "rescued"

	ctx := context.Background()
	res, err := x.Execute(ctx, router.Decision{Provider: "ollama", Fallback: "vllm"}, op.run)
	require.NoError(t, err)
	require.Equal(t, "rescued", res.Value)

	// Wait for the abandoned attempt to finish; its outcome must not
	// produce a second ledger write.
	time.Sleep(250 * time.Millisecond)
	perf, err := ledger.Get(ctx, "ollama")
	require.NoError(t, err)
	require.EqualValues(t, 1, perf.RequestCount)
}

func TestExecutor_StreamFallsBackBeforeFirstChunk(t *testing.T) {
	x, ledger := newTestExecutor(t, router.DefaultPreferences())

	calls := make(map[router.ProviderID]int)
	op := func(ctx context.Context, id router.ProviderID) (bool, error) {
		calls[id]++
		if id == "ollama" {
			return false, errors.New("connection refused")
		}
		return true, nil
	}

	got, err := x.ExecuteStream(context.Background(), router.Decision{Provider: "ollama", Fallback: "vllm"}, op)
	require.NoError(t, err)
	require.Equal(t, router.ProviderID("vllm"), got)
	require.Equal(t, 1, calls["ollama"])
	require.Equal(t, 1, calls["vllm"])

	primary, err := ledger.Get(context.Background(), "ollama")
	require.NoError(t, err)
	require.EqualValues(t, 1, primary.RequestCount)
}

func TestExecutor_StreamNeverRetriesAfterDelivery(t *testing.T) {
	x, _ := newTestExecutor(t, router.DefaultPreferences())

	calls := make(map[router.ProviderID]int)
	boom := errors.New("stream cut mid-flight")
	op := func(ctx context.Context, id router.ProviderID) (bool, error) {
		calls[id]++
		return true, boom
	}

	_, err := x.ExecuteStream(context.Background(), router.Decision{Provider: "ollama", Fallback: "vllm"}, op)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls["ollama"])
	require.Zero(t, calls["vllm"], "chunks already reached the caller")
}

func TestExecutor_CancellationRecordsNothing(t *testing.T) {
	x, ledger := newTestExecutor(t, router.DefaultPreferences())

	op := newScriptedOp()
	op.delay["ollama"] = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := x.Execute(ctx, router.Decision{Provider: "ollama", Fallback: "vllm"}, op.run)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, op.count("vllm"))

	perf, err := ledger.Get(context.Background(), "ollama")
	require.NoError(t, err)
	require.Zero(t, perf.RequestCount)
}
