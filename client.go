package infergate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/infergate/infergate/pkg/provider"
	"github.com/infergate/infergate/pkg/router"
	"github.com/infergate/infergate/pkg/types"
	"github.com/infergate/infergate/providers"
	"github.com/infergate/infergate/routers"
)

// Client is the main entry point for Infergate library mode. It owns the
// performance ledger, the availability cache, the decision engine, the
// fallback executor, and the stage optimizer, and wires configured backends
// into them.
//
// Client is safe for concurrent use by multiple goroutines.
type Client struct {
	providers  map[router.ProviderID]provider.Provider
	candidates []router.Candidate

	store    router.LedgerStore
	ownStore bool
	ledger   *routers.Ledger
	avail    *routers.AvailabilityCache
	engine   *routers.Engine
	executor *routers.Executor
	stages   *routers.StageOptimizer

	logger *slog.Logger
	config *ClientConfig

	mu sync.RWMutex
}

// New creates a new Infergate client with the given options.
//
// Example:
//
//	client, err := infergate.New(
//	    infergate.WithProvider(infergate.ProviderConfig{
//	        Type:    "ollama",
//	        Kind:    infergate.KindInteractive,
//	        Enabled: true,
//	    }),
//	    infergate.WithFallbackTimeout(10*time.Second),
//	)
func New(opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	c := &Client{
		providers: make(map[router.ProviderID]provider.Provider),
		logger:    cfg.Logger,
		config:    cfg,
	}

	for _, pcfg := range cfg.Providers {
		if pcfg.Timeout == 0 {
			pcfg.Timeout = cfg.Timeout
		}
		prov, err := providers.Create(pcfg)
		if err != nil {
			return nil, fmt.Errorf("create provider %s: %w", pcfg.ProviderID(), err)
		}
		if err := c.add(pcfg.ProviderID(), prov, pcfg.Kind, pcfg.Enabled); err != nil {
			return nil, err
		}
	}
	for _, inst := range cfg.ProviderInstances {
		id := inst.ID
		if id == "" {
			id = router.ProviderID(inst.Provider.Name())
		}
		if err := c.add(id, inst.Provider, inst.Provider.Kind(), inst.Enabled); err != nil {
			return nil, err
		}
	}

	kinds := make(map[router.ProviderID]router.Kind, len(c.candidates))
	for _, cand := range c.candidates {
		kinds[cand.ID] = cand.Kind
	}
	seeds := routers.DefaultSeeds(kinds)

	store := cfg.LedgerStore
	if store == nil {
		store = routers.NewMemoryLedgerStoreWithAlpha(seeds, cfg.EWMAAlpha)
		c.ownStore = true
	}
	c.store = store
	c.ledger = routers.NewLedger(store, seeds, cfg.Logger)

	prober := router.ProbeFunc(func(ctx context.Context, id router.ProviderID) bool {
		prov := c.provider(id)
		if prov == nil {
			return false
		}
		return prov.IsAvailable(ctx)
	})
	c.avail = routers.NewAvailabilityCache(prober, cfg.AvailabilityTTL, cfg.Logger)
	// A metrics reset also forgets cached reachability verdicts.
	c.ledger.OnReset(c.avail.Clear)

	engine, err := routers.NewEngine(c.candidates, cfg.Preferences, cfg.Weights, c.ledger, c.avail, cfg.Logger)
	if err != nil {
		return nil, err
	}
	c.engine = engine
	c.executor = routers.NewExecutor(c.ledger, cfg.Preferences, cfg.Logger)

	plans := cfg.StagePlans
	if len(plans) == 0 {
		interactive, batch := defaultStageProviders(c.candidates)
		plans = routers.DefaultStagePlans(interactive, batch)
	}
	c.stages = routers.NewStageOptimizer(plans, engine, c.avail, cfg.Logger)

	c.logger.Info("infergate client initialized",
		"providers", len(c.providers),
		"fallback_enabled", cfg.Preferences.EnableFallback,
		"availability_ttl", cfg.AvailabilityTTL,
	)
	return c, nil
}

// add registers one backend under its routing identity. Configuration order
// is preserved; the decision engine breaks scoring ties in favor of earlier
// entries.
func (c *Client) add(id router.ProviderID, prov provider.Provider, kind router.Kind, enabled bool) error {
	if id == "" {
		return fmt.Errorf("provider id is required")
	}
	if prov == nil {
		return fmt.Errorf("provider %s: instance is nil", id)
	}
	if _, exists := c.providers[id]; exists {
		return fmt.Errorf("provider %s configured twice", id)
	}
	if kind == "" {
		kind = prov.Kind()
	}
	c.providers[id] = prov
	c.candidates = append(c.candidates, router.Candidate{ID: id, Kind: kind, Enabled: enabled})
	return nil
}

// Route runs the decision engine for one request without executing it.
// Callers that manage execution themselves use this to inspect where a
// request would go and why. A stage hint on the context redirects the
// decision through the stage plan table.
func (c *Client) Route(ctx context.Context, req RoutingRequest) (Decision, error) {
	if req.TaskType == "" {
		req.TaskType = router.TaskTypeFromContext(ctx)
	}
	if stage := router.StageFromContext(ctx); stage != "" {
		return c.stages.OptimizedProvider(ctx, stage, req)
	}
	return c.engine.Decide(ctx, req)
}

// RouteStage resolves one named pipeline stage to a provider decision.
func (c *Client) RouteStage(ctx context.Context, stage string, req RoutingRequest) (Decision, error) {
	return c.stages.OptimizedProvider(ctx, stage, req)
}

// Generate routes and executes a text completion request. The task type
// hint, when the caller set one on the context, steers the scoring rules.
func (c *Client) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("request is nil")
	}
	if err := types.ValidateModelName(req.Model); err != nil {
		return nil, err
	}

	decision, err := c.Route(ctx, RoutingRequest{
		Kind:  RequestKindGenerate,
		Model: req.Model,
	})
	if err != nil {
		return nil, err
	}
	c.announce(ctx, decision)

	res, err := c.executor.Execute(router.WithDecision(ctx, &decision), decision, func(ctx context.Context, id router.ProviderID) (any, error) {
		prov := c.provider(id)
		if prov == nil {
			return nil, fmt.Errorf("provider %s not configured", id)
		}
		return prov.GenerateText(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	c.capture(ctx, decision, res.Provider, res.FellBack, res.Latency)
	return res.Value.(*GenerateResponse), nil
}

// Chat routes and executes a chat completion request. Requests that declare
// tools are routed with the tool-calling rules in play.
func (c *Client) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("request is nil")
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("messages is required")
	}
	if err := types.ValidateModelName(req.Model); err != nil {
		return nil, err
	}

	decision, err := c.Route(ctx, RoutingRequest{
		Kind:      RequestKindChat,
		Model:     req.Model,
		UsesTools: req.UsesTools(),
	})
	if err != nil {
		return nil, err
	}
	c.announce(ctx, decision)

	res, err := c.executor.Execute(router.WithDecision(ctx, &decision), decision, func(ctx context.Context, id router.ProviderID) (any, error) {
		prov := c.provider(id)
		if prov == nil {
			return nil, fmt.Errorf("provider %s not configured", id)
		}
		return prov.Chat(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	c.capture(ctx, decision, res.Provider, res.FellBack, res.Latency)
	return res.Value.(*ChatResponse), nil
}

// StreamGenerate routes a completion request and relays its NDJSON stream
// through fn. It returns the provider that served the stream.
func (c *Client) StreamGenerate(ctx context.Context, req *GenerateRequest, fn func(chunk []byte) error) (ProviderID, error) {
	if req == nil {
		return "", fmt.Errorf("request is nil")
	}
	decision, err := c.Route(ctx, RoutingRequest{
		Kind:  RequestKindGenerate,
		Model: req.Model,
	})
	if err != nil {
		return "", err
	}
	c.announce(ctx, decision)
	start := time.Now()
	served, err := c.executor.ExecuteStream(router.WithDecision(ctx, &decision), decision, func(ctx context.Context, id router.ProviderID) (bool, error) {
		return c.streamThrough(ctx, id, fn, func(s provider.Streamer, wrapped func([]byte) error) error {
			return s.StreamGenerate(ctx, req, wrapped)
		})
	})
	if err != nil {
		return "", err
	}
	c.capture(ctx, decision, served, served != decision.Provider, time.Since(start))
	return served, nil
}

// StreamChat routes a chat request and relays its NDJSON stream through fn.
func (c *Client) StreamChat(ctx context.Context, req *ChatRequest, fn func(chunk []byte) error) (ProviderID, error) {
	if req == nil {
		return "", fmt.Errorf("request is nil")
	}
	decision, err := c.Route(ctx, RoutingRequest{
		Kind:      RequestKindChat,
		Model:     req.Model,
		UsesTools: req.UsesTools(),
	})
	if err != nil {
		return "", err
	}
	c.announce(ctx, decision)
	start := time.Now()
	served, err := c.executor.ExecuteStream(router.WithDecision(ctx, &decision), decision, func(ctx context.Context, id router.ProviderID) (bool, error) {
		return c.streamThrough(ctx, id, fn, func(s provider.Streamer, wrapped func([]byte) error) error {
			return s.StreamChat(ctx, req, wrapped)
		})
	})
	if err != nil {
		return "", err
	}
	c.capture(ctx, decision, served, served != decision.Provider, time.Since(start))
	return served, nil
}

// streamThrough adapts one provider's streaming call for the executor,
// tracking whether any chunk was delivered before a failure.
func (c *Client) streamThrough(ctx context.Context, id router.ProviderID, fn func([]byte) error, call func(provider.Streamer, func([]byte) error) error) (bool, error) {
	prov := c.provider(id)
	if prov == nil {
		return false, fmt.Errorf("provider %s not configured", id)
	}
	streamer, ok := prov.(provider.Streamer)
	if !ok {
		return false, fmt.Errorf("provider %s does not support streaming", id)
	}

	// Mark who is about to serve so stream consumers can emit routing
	// headers before the first chunk arrives.
	if o := router.OutcomeFromContext(ctx); o != nil {
		o.Served = id
	}

	delivered := false
	err := call(streamer, func(chunk []byte) error {
		if err := fn(chunk); err != nil {
			return err
		}
		delivered = true
		return nil
	})
	return delivered, err
}

// announce publishes the routing decision to the caller's outcome carrier
// before execution starts, so the decision survives a failed call and
// streaming handlers can read it when the first chunk arrives.
func (c *Client) announce(ctx context.Context, decision Decision) {
	if o := router.OutcomeFromContext(ctx); o != nil {
		o.Decision = decision
	}
}

// capture fills the caller's outcome carrier, when one was installed with
// router.WithOutcomeCapture.
func (c *Client) capture(ctx context.Context, decision Decision, served router.ProviderID, fellBack bool, latency time.Duration) {
	o := router.OutcomeFromContext(ctx)
	if o == nil {
		return
	}
	o.Decision = decision
	o.Served = served
	o.FellBack = fellBack
	o.Latency = latency
}

// ListModels merges the model listings of every enabled, reachable backend.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	type listing struct {
		id     router.ProviderID
		models []ModelInfo
	}

	var wg sync.WaitGroup
	results := make(chan listing, len(c.candidates))

	for _, cand := range c.candidates {
		if !cand.Enabled || !c.avail.Check(ctx, cand.ID) {
			continue
		}
		wg.Add(1)
		go func(id router.ProviderID) {
			defer wg.Done()
			prov := c.provider(id)
			if prov == nil {
				return
			}
			models, err := prov.ListModels(ctx)
			if err != nil {
				c.logger.Warn("model listing failed", "provider", id, "error", err)
				return
			}
			results <- listing{id: id, models: models}
		}(cand.ID)
	}
	wg.Wait()
	close(results)

	byProvider := make(map[router.ProviderID][]ModelInfo)
	for l := range results {
		byProvider[l.id] = l.models
	}

	// Merge in configuration order so listings are stable across calls.
	var merged []ModelInfo
	for _, cand := range c.candidates {
		merged = append(merged, byProvider[cand.ID]...)
	}
	return merged, nil
}

// ProviderStatus reports each configured backend's reachability. Disabled
// backends are reported unavailable without being probed.
func (c *Client) ProviderStatus(ctx context.Context) []ProviderStatus {
	snapshot := c.avail.Snapshot()

	statuses := make([]ProviderStatus, 0, len(c.candidates))
	for _, cand := range c.candidates {
		st := ProviderStatus{
			Provider: string(cand.ID),
			Kind:     string(cand.Kind),
		}
		if cand.Enabled {
			st.Available = c.avail.Check(ctx, cand.ID)
			if entry, ok := snapshot[cand.ID]; ok {
				st.LastCheckedAt = entry.CheckedAt
			}
		}
		statuses = append(statuses, st)
	}
	return statuses
}

// PerformanceMetrics returns the current ledger snapshot, sorted by
// provider for stable output.
func (c *Client) PerformanceMetrics(ctx context.Context) ([]PerformanceStatus, error) {
	snapshot, err := c.ledger.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	metrics := make([]PerformanceStatus, 0, len(snapshot))
	for _, perf := range snapshot {
		metrics = append(metrics, PerformanceStatus{
			Provider:     string(perf.Provider),
			AvgLatencyMs: perf.AvgLatencyMs,
			SuccessRate:  perf.SuccessRate,
			RequestCount: perf.RequestCount,
			LastUpdated:  perf.LastUpdated,
		})
	}
	sort.Slice(metrics, func(i, j int) bool { return metrics[i].Provider < metrics[j].Provider })
	return metrics, nil
}

// ResetMetrics reinstates the kind-based performance estimates and forgets
// cached availability verdicts.
func (c *Client) ResetMetrics(ctx context.Context) error {
	return c.ledger.Reset(ctx)
}

// StagePlans returns the current pipeline stage table.
func (c *Client) StagePlans() []StagePlan {
	return c.stages.Plans()
}

// OptimizeBatch resolves several pipeline stages at once and reports which
// could share a batched provider call.
func (c *Client) OptimizeBatch(ctx context.Context, stageNames []string) (map[string]Decision, error) {
	return c.stages.OptimizeBatch(ctx, stageNames)
}

// RecordStageOutcome feeds a stage execution result back into the stage
// table's confidence tracking.
func (c *Client) RecordStageOutcome(stage string, success bool, latency time.Duration) {
	c.stages.RecordStageOutcome(stage, success, latency)
}

// Providers returns the configured routing identities in configuration
// order.
func (c *Client) Providers() []ProviderID {
	ids := make([]ProviderID, 0, len(c.candidates))
	for _, cand := range c.candidates {
		ids = append(ids, cand.ID)
	}
	return ids
}

// RefreshAvailability forces a fresh probe of one backend, bypassing the
// cached verdict. The health warmer uses it to keep verdicts warm.
func (c *Client) RefreshAvailability(ctx context.Context, id ProviderID) bool {
	return c.avail.Refresh(ctx, id)
}

// AvailabilityTTL reports how long reachability verdicts stay fresh.
func (c *Client) AvailabilityTTL() time.Duration {
	return c.avail.TTL()
}

// Close releases resources held by the client. A caller-supplied ledger
// store is left open, since its lifecycle belongs to the caller.
func (c *Client) Close() error {
	var err error
	if c.ownStore {
		err = c.store.Close()
	}
	c.logger.Info("infergate client closed")
	return err
}

func (c *Client) provider(id router.ProviderID) provider.Provider {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.providers[id]
}

// defaultStageProviders picks the stage table anchors from the configured
// backends: the first interactive and the first batch entry, falling back
// to the first entry overall when a kind is missing.
func defaultStageProviders(candidates []router.Candidate) (interactive, batch router.ProviderID) {
	for _, cand := range candidates {
		switch {
		case cand.Kind == router.KindInteractive && interactive == "":
			interactive = cand.ID
		case cand.Kind == router.KindBatch && batch == "":
			batch = cand.ID
		}
	}
	if len(candidates) > 0 {
		if interactive == "" {
			interactive = candidates[0].ID
		}
		if batch == "" {
			batch = candidates[0].ID
		}
	}
	return interactive, batch
}
