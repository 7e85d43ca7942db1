package routers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/infergate/infergate/pkg/router"
)

// Stage names covered by the default optimization table.
const (
	StageToolSelection      = "tool_selection"
	StageRetrieval          = "retrieval"
	StageResponseGeneration = "response_generation"
)

// stageFallbackDiscount scales a plan's confidence when the planned
// provider is unreachable and the stage fallback serves instead.
const stageFallbackDiscount = 0.8

// Confidence bounds and step sizes for outcome feedback.
const (
	stageConfidenceMin     = 0.05
	stageConfidenceMax     = 0.99
	stageConfidenceReward  = 0.01
	stageConfidencePenalty = 0.05
	stageConfidenceWarn    = 0.3
)

// StageOptimizer maps named pipeline stages to statically preferred
// providers. A plan is honored only while its provider is reachable; an
// unreachable plan falls to the stage fallback at discounted confidence,
// and anything else delegates to the decision engine with the stage name
// as the task type.
//
// Outcome feedback nudges a plan's confidence but never changes its
// recommended provider.
type StageOptimizer struct {
	engine *Engine
	avail  *AvailabilityCache
	logger *slog.Logger

	mu    sync.RWMutex
	plans map[string]router.StagePlan
}

// DefaultStagePlans returns the stock stage table for a deployment with one
// interactive and one batch provider.
func DefaultStagePlans(interactive, batch router.ProviderID) []router.StagePlan {
	return []router.StagePlan{
		{
			Stage:      StageToolSelection,
			Provider:   interactive,
			Reason:     "tool selection needs fast low-latency turnarounds",
			Confidence: 0.9,
			Fallback:   batch,
		},
		{
			Stage:            StageRetrieval,
			Provider:         batch,
			Reason:           "retrieval embeds and reranks documents in bulk",
			Confidence:       0.85,
			Fallback:         interactive,
			BatchingEligible: true,
			Parallelizable:   true,
		},
		{
			Stage:            StageResponseGeneration,
			Provider:         batch,
			Reason:           "response generation favors throughput-optimized serving",
			Confidence:       0.8,
			Fallback:         interactive,
			BatchingEligible: true,
		},
	}
}

// NewStageOptimizer builds an optimizer over the given plan table. Stages
// the table does not name are delegated to the engine at lookup time.
func NewStageOptimizer(plans []router.StagePlan, engine *Engine, avail *AvailabilityCache, logger *slog.Logger) *StageOptimizer {
	if logger == nil {
		logger = slog.Default()
	}
	table := make(map[string]router.StagePlan, len(plans))
	for _, plan := range plans {
		table[plan.Stage] = plan
	}
	return &StageOptimizer{
		engine: engine,
		avail:  avail,
		logger: logger,
		plans:  table,
	}
}

// OptimizedProvider resolves one stage to a provider decision.
func (s *StageOptimizer) OptimizedProvider(ctx context.Context, stage string, req router.Request) (router.Decision, error) {
	req.Stage = stage

	plan, ok := s.plan(stage)
	if !ok {
		return s.delegate(ctx, stage, req, "unknown stage")
	}

	if s.avail.Check(ctx, plan.Provider) {
		decision := router.Decision{
			Provider:   plan.Provider,
			Reason:     fmt.Sprintf("stage optimization: %s", plan.Reason),
			Confidence: plan.Confidence,
			Source:     router.SourceStageTable,
		}
		if s.engine.prefs.EnableFallback {
			decision.Fallback = plan.Fallback
		}
		s.logDecision(stage, req, decision)
		return decision, nil
	}

	if plan.Fallback != "" && s.avail.Check(ctx, plan.Fallback) {
		decision := router.Decision{
			Provider:   plan.Fallback,
			Reason:     fmt.Sprintf("stage optimization: %s unavailable, using stage fallback", plan.Provider),
			Confidence: clampStageConfidence(plan.Confidence * stageFallbackDiscount),
			Source:     router.SourceStageFallback,
		}
		s.logDecision(stage, req, decision)
		return decision, nil
	}

	return s.delegate(ctx, stage, req, "planned providers unreachable")
}

// OptimizeBatch resolves several stages and logs which of them could share
// one batched provider call. Grouping is telemetry only; every stage is
// still resolved independently.
func (s *StageOptimizer) OptimizeBatch(ctx context.Context, stages []string) (map[string]router.Decision, error) {
	decisions := make(map[string]router.Decision, len(stages))
	groups := make(map[router.ProviderID][]string)

	for _, stage := range stages {
		decision, err := s.OptimizedProvider(ctx, stage, router.Request{Kind: router.RequestKindGenerate, TaskType: stage})
		if err != nil {
			return nil, err
		}
		decisions[stage] = decision

		if plan, ok := s.plan(stage); ok && plan.BatchingEligible && decision.Provider == plan.Provider {
			groups[decision.Provider] = append(groups[decision.Provider], stage)
		}
	}

	for provider, grouped := range groups {
		if len(grouped) > 1 {
			s.logger.Info("stages batchable on shared provider",
				"provider", provider,
				"stages", grouped,
			)
		}
	}
	return decisions, nil
}

// RecordStageOutcome nudges a stage's confidence after a real outcome.
// Successes reward slowly, failures penalize faster, and the recommended
// provider never changes. A plan that sinks below the warning floor is
// flagged for operator review.
func (s *StageOptimizer) RecordStageOutcome(stage string, success bool, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	plan, ok := s.plans[stage]
	if !ok {
		return
	}

	if success {
		plan.Confidence = clampStageConfidence(plan.Confidence + stageConfidenceReward)
	} else {
		plan.Confidence = clampStageConfidence(plan.Confidence - stageConfidencePenalty)
	}
	s.plans[stage] = plan

	s.logger.Debug("stage outcome recorded",
		"stage", stage,
		"success", success,
		"latency_ms", latency.Milliseconds(),
		"confidence", plan.Confidence,
	)
	if plan.Confidence < stageConfidenceWarn {
		s.logger.Warn("stage confidence low",
			"stage", stage,
			"provider", plan.Provider,
			"confidence", plan.Confidence,
		)
	}
}

// Plans returns the current table sorted by stage name.
func (s *StageOptimizer) Plans() []router.StagePlan {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]router.StagePlan, 0, len(s.plans))
	for _, plan := range s.plans {
		out = append(out, plan)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stage < out[j].Stage })
	return out
}

func (s *StageOptimizer) plan(stage string) (router.StagePlan, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	plan, ok := s.plans[stage]
	return plan, ok
}

func (s *StageOptimizer) delegate(ctx context.Context, stage string, req router.Request, cause string) (router.Decision, error) {
	req.TaskType = stage
	decision, err := s.engine.Decide(ctx, req)
	if err != nil {
		return router.Decision{}, err
	}
	decision.Reason = fmt.Sprintf("stage %s delegated to decision engine (%s): %s", stage, cause, decision.Reason)
	s.logDecision(stage, req, decision)
	return decision, nil
}

func (s *StageOptimizer) logDecision(stage string, req router.Request, d router.Decision) {
	s.logger.Info("stage routing",
		"stage", stage,
		"provider", d.Provider,
		"task_type", req.TaskType,
		"model", req.Model,
		"reason", d.Reason,
		"confidence", d.Confidence,
		"source", d.Source,
	)
}

func clampStageConfidence(v float64) float64 {
	if v < stageConfidenceMin {
		return stageConfidenceMin
	}
	if v > stageConfidenceMax {
		return stageConfidenceMax
	}
	return v
}
