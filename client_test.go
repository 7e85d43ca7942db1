package infergate

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/infergate/infergate/pkg/router"
	"github.com/infergate/infergate/pkg/types"
	"github.com/infergate/infergate/providers/ollamalike"
	"github.com/infergate/infergate/routers"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBackend is an Ollama-compatible HTTP server with call counters and
// failure toggles.
type fakeBackend struct {
	name string
	srv  *httptest.Server

	mu            sync.Mutex
	generateCalls int
	chatCalls     int
	tagCalls      int
	failCalls     bool
	unreachable   bool
	models        []string
}

func newFakeBackend(t *testing.T, name string, models ...string) *fakeBackend {
	t.Helper()
	b := &fakeBackend{name: name, models: models}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tags", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.tagCalls++
		down := b.unreachable
		b.mu.Unlock()
		if down {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		infos := make([]types.ModelInfo, 0, len(b.models))
		for _, m := range b.models {
			infos = append(infos, types.ModelInfo{Name: m})
		}
		writeJSON(w, types.TagsResponse{Models: infos})
	})
	mux.HandleFunc("POST /api/generate", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.generateCalls++
		fail := b.failCalls
		b.mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			writeJSON(w, map[string]string{"error": "backend overloaded"})
			return
		}
		var req types.GenerateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if types.WantsStream(req.Stream) {
			w.Header().Set("Content-Type", "application/x-ndjson")
			for _, part := range []string{"served", "by"} {
				raw, _ := json.Marshal(types.GenerateResponse{Model: req.Model, Response: part})
				_, _ = w.Write(append(raw, '\n'))
			}
			raw, _ := json.Marshal(types.GenerateResponse{Model: req.Model, Response: b.name, Done: true})
			_, _ = w.Write(append(raw, '\n'))
			return
		}
		writeJSON(w, types.GenerateResponse{Model: req.Model, Response: "served by " + b.name, Done: true})
	})
	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.chatCalls++
		fail := b.failCalls
		b.mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			writeJSON(w, map[string]string{"error": "backend overloaded"})
			return
		}
		var req types.ChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		writeJSON(w, types.ChatResponse{
			Model:   req.Model,
			Message: types.Message{Role: "assistant", Content: "served by " + b.name},
			Done:    true,
		})
	})

	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (b *fakeBackend) provider(kind router.Kind) *ollamalike.Provider {
	return ollamalike.New(ollamalike.Info{
		Name:           b.name,
		Kind:           kind,
		DefaultBaseURL: b.srv.URL,
	})
}

func (b *fakeBackend) setFail(v bool) {
	b.mu.Lock()
	b.failCalls = v
	b.mu.Unlock()
}

func (b *fakeBackend) setUnreachable(v bool) {
	b.mu.Lock()
	b.unreachable = v
	b.mu.Unlock()
}

func (b *fakeBackend) counts() (generate, chat, tags int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generateCalls, b.chatCalls, b.tagCalls
}

// newTwoBackendClient builds a client over one interactive and one batch
// fake backend, registered in that order.
func newTwoBackendClient(t *testing.T, opts ...Option) (*Client, *fakeBackend, *fakeBackend) {
	t.Helper()
	fast := newFakeBackend(t, "ollama", "llama3.2")
	bulk := newFakeBackend(t, "vllm", "meta-llama/Llama-2-7b-chat-hf")

	base := []Option{
		WithProviderInstance("ollama", fast.provider(router.KindInteractive)),
		WithProviderInstance("vllm", bulk.provider(router.KindBatch)),
		WithLogger(testLogger()),
	}
	client, err := New(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, fast, bulk
}

func performanceByProvider(t *testing.T, client *Client) map[string]PerformanceStatus {
	t.Helper()
	metrics, err := client.PerformanceMetrics(context.Background())
	require.NoError(t, err)
	byProvider := make(map[string]PerformanceStatus, len(metrics))
	for _, m := range metrics {
		byProvider[m.Provider] = m
	}
	return byProvider
}

func TestNewRequiresProvider(t *testing.T) {
	_, err := New(WithLogger(testLogger()))
	require.ErrorIs(t, err, errAtLeastOneProvider)
}

func TestNewRejectsDuplicateProviderID(t *testing.T) {
	backend := newFakeBackend(t, "ollama")
	_, err := New(
		WithProviderInstance("ollama", backend.provider(router.KindInteractive)),
		WithProviderInstance("ollama", backend.provider(router.KindBatch)),
		WithLogger(testLogger()),
	)
	require.ErrorContains(t, err, "configured twice")
}

func TestNewRejectsBadAlpha(t *testing.T) {
	backend := newFakeBackend(t, "ollama")
	_, err := New(
		WithProviderInstance("ollama", backend.provider(router.KindInteractive)),
		WithEWMAAlpha(1.5),
		WithLogger(testLogger()),
	)
	require.ErrorIs(t, err, errBadAlpha)
}

func TestGenerateRoutesInteractiveTaskAndRecords(t *testing.T) {
	client, fast, bulk := newTwoBackendClient(t)
	ctx := WithTaskType(context.Background(), TaskTypeInteractive)

	resp, err := client.Generate(ctx, &GenerateRequest{Model: "llama3.2", Prompt: "hi"})
	require.NoError(t, err)
	require.Equal(t, "served by ollama", resp.Response)

	fastGen, _, _ := fast.counts()
	bulkGen, _, _ := bulk.counts()
	require.Equal(t, 1, fastGen)
	require.Equal(t, 0, bulkGen)

	perf := performanceByProvider(t, client)
	require.EqualValues(t, 1, perf["ollama"].RequestCount)
	require.EqualValues(t, 0, perf["vllm"].RequestCount)
	require.InDelta(t, 0.973, perf["ollama"].SuccessRate, 1e-9)
	require.Less(t, perf["ollama"].AvgLatencyMs, 800.0)
}

func TestChatRoutesToolCallingTask(t *testing.T) {
	client, fast, _ := newTwoBackendClient(t)
	ctx := WithTaskType(context.Background(), TaskTypeToolCalling)

	resp, err := client.Chat(ctx, &ChatRequest{
		Model:    "llama3.2",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	require.Equal(t, "served by ollama", resp.Message.Content)

	_, chat, _ := fast.counts()
	require.Equal(t, 1, chat)
}

func TestChatToolPreferenceSteersToolRequests(t *testing.T) {
	prefs := DefaultPreferences()
	prefs.ToolCallingPreference = "vllm"
	client, _, bulk := newTwoBackendClient(t, WithPreferences(prefs))

	resp, err := client.Chat(context.Background(), &ChatRequest{
		Model:    "llama3.2",
		Messages: []Message{{Role: "user", Content: "weather?"}},
		Tools:    []Tool{{Type: "function", Function: json.RawMessage(`{"name":"get_weather"}`)}},
	})
	require.NoError(t, err)
	require.Equal(t, "served by vllm", resp.Message.Content)

	_, chat, _ := bulk.counts()
	require.Equal(t, 1, chat)
}

func TestGenerateFallsBackWhenPrimaryFails(t *testing.T) {
	client, fast, bulk := newTwoBackendClient(t)
	fast.setFail(true)
	ctx := WithTaskType(context.Background(), TaskTypeInteractive)
	ctx, outcome := WithOutcomeCapture(ctx)

	resp, err := client.Generate(ctx, &GenerateRequest{Model: "llama3.2", Prompt: "hi"})
	require.NoError(t, err)
	require.Equal(t, "served by vllm", resp.Response)

	require.Equal(t, ProviderID("ollama"), outcome.Decision.Provider)
	require.Equal(t, ProviderID("vllm"), outcome.Served)
	require.True(t, outcome.FellBack)
	require.Positive(t, outcome.Latency)

	fastGen, _, _ := fast.counts()
	bulkGen, _, _ := bulk.counts()
	require.Equal(t, 1, fastGen)
	require.Equal(t, 1, bulkGen)

	perf := performanceByProvider(t, client)
	require.EqualValues(t, 1, perf["ollama"].RequestCount)
	require.EqualValues(t, 1, perf["vllm"].RequestCount)
	require.Less(t, perf["ollama"].SuccessRate, 0.97)
}

func TestGenerateNoProviderAvailable(t *testing.T) {
	client, fast, bulk := newTwoBackendClient(t)
	fast.setUnreachable(true)
	bulk.setUnreachable(true)

	_, err := client.Generate(context.Background(), &GenerateRequest{Model: "llama3.2", Prompt: "hi"})
	require.Error(t, err)
	require.True(t, IsNoProviderAvailable(err))
}

func TestResetMetricsReseedsLedgerAndForcesReprobe(t *testing.T) {
	client, fast, _ := newTwoBackendClient(t)
	ctx := WithTaskType(context.Background(), TaskTypeInteractive)

	_, err := client.Generate(ctx, &GenerateRequest{Model: "llama3.2", Prompt: "hi"})
	require.NoError(t, err)
	_, _, tags := fast.counts()
	require.Equal(t, 1, tags)

	// Verdicts stay cached within the TTL.
	_, err = client.Route(ctx, RoutingRequest{Kind: RequestKindGenerate})
	require.NoError(t, err)
	_, _, tags = fast.counts()
	require.Equal(t, 1, tags)

	require.NoError(t, client.ResetMetrics(ctx))

	perf := performanceByProvider(t, client)
	require.EqualValues(t, 0, perf["ollama"].RequestCount)
	require.Equal(t, 800.0, perf["ollama"].AvgLatencyMs)
	require.Equal(t, 0.97, perf["ollama"].SuccessRate)
	require.Equal(t, 400.0, perf["vllm"].AvgLatencyMs)
	require.Equal(t, 0.90, perf["vllm"].SuccessRate)

	_, err = client.Route(ctx, RoutingRequest{Kind: RequestKindGenerate})
	require.NoError(t, err)
	_, _, tags = fast.counts()
	require.Equal(t, 2, tags)
}

func TestRefreshAvailabilityBypassesCache(t *testing.T) {
	client, fast, _ := newTwoBackendClient(t)
	ctx := context.Background()

	require.True(t, client.RefreshAvailability(ctx, "ollama"))
	require.True(t, client.RefreshAvailability(ctx, "ollama"))
	_, _, tags := fast.counts()
	require.Equal(t, 2, tags)
}

func TestProviderStatusSkipsDisabledProbes(t *testing.T) {
	client, _, _ := newTwoBackendClient(t, WithProvider(ProviderConfig{
		ID:      "spare",
		Type:    "ollama",
		Kind:    KindInteractive,
		Enabled: false,
	}))

	statuses := client.ProviderStatus(context.Background())
	require.Len(t, statuses, 3)

	byID := make(map[string]ProviderStatus, len(statuses))
	for _, st := range statuses {
		byID[st.Provider] = st
	}
	require.True(t, byID["ollama"].Available)
	require.True(t, byID["vllm"].Available)
	require.False(t, byID["spare"].Available)
	require.True(t, byID["spare"].LastCheckedAt.IsZero())
	require.False(t, byID["ollama"].LastCheckedAt.IsZero())
}

func TestRouteStageUsesDefaultPlans(t *testing.T) {
	client, _, _ := newTwoBackendClient(t)
	ctx := context.Background()

	decision, err := client.RouteStage(ctx, routers.StageToolSelection, RoutingRequest{})
	require.NoError(t, err)
	require.Equal(t, ProviderID("ollama"), decision.Provider)
	require.Equal(t, router.SourceStageTable, decision.Source)

	decision, err = client.RouteStage(ctx, routers.StageRetrieval, RoutingRequest{})
	require.NoError(t, err)
	require.Equal(t, ProviderID("vllm"), decision.Provider)

	require.Len(t, client.StagePlans(), 3)
}

func TestOptimizeBatchResolvesStages(t *testing.T) {
	client, _, _ := newTwoBackendClient(t)

	decisions, err := client.OptimizeBatch(context.Background(), []string{
		routers.StageToolSelection,
		routers.StageRetrieval,
	})
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	require.Equal(t, ProviderID("ollama"), decisions[routers.StageToolSelection].Provider)
	require.Equal(t, ProviderID("vllm"), decisions[routers.StageRetrieval].Provider)
}

func TestListModelsMergesBackendsInOrder(t *testing.T) {
	client, _, _ := newTwoBackendClient(t)

	models, err := client.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	require.Equal(t, "llama3.2", models[0].Name)
	require.Equal(t, "ollama", models[0].Provider)
	require.Equal(t, "meta-llama/Llama-2-7b-chat-hf", models[1].Name)
	require.Equal(t, "vllm", models[1].Provider)
}

func TestListModelsSkipsUnreachableBackends(t *testing.T) {
	client, _, bulk := newTwoBackendClient(t)
	bulk.setUnreachable(true)

	models, err := client.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	require.Equal(t, "ollama", models[0].Provider)
}

func TestStreamGenerateRelaysChunksAndRecords(t *testing.T) {
	client, fast, _ := newTwoBackendClient(t)
	ctx := WithTaskType(context.Background(), TaskTypeInteractive)

	var chunks []string
	id, err := client.StreamGenerate(ctx, &GenerateRequest{Model: "llama3.2", Prompt: "hi"}, func(chunk []byte) error {
		chunks = append(chunks, string(chunk))
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, ProviderID("ollama"), id)
	require.Len(t, chunks, 3)
	require.Contains(t, chunks[2], `"done":true`)

	fastGen, _, _ := fast.counts()
	require.Equal(t, 1, fastGen)

	perf := performanceByProvider(t, client)
	require.EqualValues(t, 1, perf["ollama"].RequestCount)
}

func TestRequestValidation(t *testing.T) {
	client, _, _ := newTwoBackendClient(t)
	ctx := context.Background()

	_, err := client.Generate(ctx, nil)
	require.ErrorContains(t, err, "request is nil")

	long := strings.Repeat("x", types.MaxModelNameLength+1)
	_, err = client.Generate(ctx, &GenerateRequest{Model: long, Prompt: "hi"})
	require.ErrorContains(t, err, "too long")

	_, err = client.Chat(ctx, &ChatRequest{Model: "llama3.2"})
	require.ErrorContains(t, err, "messages is required")
}

func TestProvidersReturnsConfiguredOrder(t *testing.T) {
	client, _, _ := newTwoBackendClient(t)
	require.Equal(t, []ProviderID{"ollama", "vllm"}, client.Providers())
}
