// Package infergate provides an adaptive routing layer over local LLM
// inference backends as a Go library.
//
// Infergate fronts a mixed deployment of Ollama-compatible backends (ollama,
// vllm, lmdeploy), scores each request against live performance statistics
// and declarative preferences, and executes it with availability checks and
// automatic fallback. It can be used in two modes:
//   - Library Mode: import and route directly from your Go application
//   - Gateway Mode: run cmd/server as a standalone HTTP proxy
//
// Basic usage:
//
//	client, err := infergate.New(
//	    infergate.WithProvider(infergate.ProviderConfig{
//	        Type:    "ollama",
//	        Kind:    infergate.KindInteractive,
//	        BaseURL: "http://localhost:11434",
//	        Enabled: true,
//	    }),
//	    infergate.WithProvider(infergate.ProviderConfig{
//	        Type:    "vllm",
//	        Kind:    infergate.KindBatch,
//	        BaseURL: "http://localhost:8000",
//	        Enabled: true,
//	    }),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	resp, err := client.Chat(ctx, &infergate.ChatRequest{
//	    Model:    "llama3.2",
//	    Messages: []infergate.Message{{Role: "user", Content: "Hello!"}},
//	})
package infergate

import (
	"github.com/infergate/infergate/pkg/errors"
	"github.com/infergate/infergate/pkg/provider"
	"github.com/infergate/infergate/pkg/router"
	"github.com/infergate/infergate/pkg/types"
	"github.com/infergate/infergate/routers"
)

// Version is the current version of Infergate.
const Version = "1.1.0"

// Re-export core request/response types for convenience.
// Users can write infergate.ChatRequest instead of types.ChatRequest.
type (
	// GenerateRequest is an Ollama-compatible text completion request.
	GenerateRequest = types.GenerateRequest

	// GenerateResponse is a completed text completion.
	GenerateResponse = types.GenerateResponse

	// ChatRequest is an Ollama-compatible chat completion request.
	ChatRequest = types.ChatRequest

	// ChatResponse is a completed chat turn.
	ChatResponse = types.ChatResponse

	// Message is a single chat turn.
	Message = types.Message

	// Tool describes a function the model may call.
	Tool = types.Tool

	// ModelInfo describes one model a backend can serve.
	ModelInfo = types.ModelInfo

	// StatusResponse is the gateway status payload.
	StatusResponse = types.StatusResponse

	// ProviderStatus is one provider's reachability entry.
	ProviderStatus = types.ProviderStatus

	// PerformanceStatus is one provider's performance ledger entry.
	PerformanceStatus = types.PerformanceStatus
)

// Re-export provider types.
type (
	// Provider is one inference backend the gateway can route to.
	Provider = provider.Provider

	// ProviderConfig contains one backend's connection settings.
	ProviderConfig = provider.Config

	// ProviderFactory creates provider instances from configuration.
	ProviderFactory = provider.Factory
)

// Re-export routing types.
type (
	// ProviderID identifies a configured provider in routing state.
	ProviderID = router.ProviderID

	// Kind is a backend's serving profile.
	Kind = router.Kind

	// RoutingRequest describes one request to the decision engine.
	RoutingRequest = router.Request

	// RequestKind distinguishes completion from chat traffic.
	RequestKind = router.RequestKind

	// Decision is the outcome of provider selection.
	Decision = router.Decision

	// Contribution is one scoring rule's effect on a decision.
	Contribution = router.Contribution

	// Performance is a provider's smoothed statistics.
	Performance = router.Performance

	// StagePlan is one pipeline stage's static routing plan.
	StagePlan = router.StagePlan

	// Preferences is the declarative routing configuration.
	Preferences = router.Preferences

	// Weights holds the scoring rule point values.
	Weights = router.Weights

	// LedgerStore persists provider performance records.
	LedgerStore = router.LedgerStore
)

// Re-export serving profile and request kind constants.
const (
	KindInteractive = router.KindInteractive
	KindBatch       = router.KindBatch

	RequestKindGenerate = router.RequestKindGenerate
	RequestKindChat     = router.RequestKindChat
)

// Re-export well-known task types.
const (
	TaskTypeBatch              = router.TaskTypeBatch
	TaskTypeEmbedding          = router.TaskTypeEmbedding
	TaskTypeRerank             = router.TaskTypeRerank
	TaskTypeInteractive        = router.TaskTypeInteractive
	TaskTypeToolCalling        = router.TaskTypeToolCalling
	TaskTypeCodeGeneration     = router.TaskTypeCodeGeneration
	TaskTypeAnalysis           = router.TaskTypeAnalysis
	TaskTypeFoundationPipeline = router.TaskTypeFoundationPipeline
)

// Re-export pipeline stage names covered by the default stage table.
const (
	StageToolSelection      = routers.StageToolSelection
	StageRetrieval          = routers.StageRetrieval
	StageResponseGeneration = routers.StageResponseGeneration
)

// Re-export error types.
type (
	// RouterError is the standardized error for routing and provider calls.
	RouterError = errors.RouterError
)

// Re-export error predicates and context carriers.
var (
	IsNoProviderAvailable = errors.IsNoProviderAvailable
	IsProviderCallFailed  = errors.IsProviderCallFailed
	IsRoutingTimeout      = errors.IsRoutingTimeout
	IsRetryable           = errors.IsRetryable

	// WithTaskType attaches a task type hint to a context; routing rules
	// that key on the task (affinity, kind preference, pipeline context)
	// read it from there.
	WithTaskType = router.WithTaskType

	// WithStage attaches a pipeline stage hint to a context; routing then
	// consults the stage plan table instead of the decision engine.
	WithStage = router.WithStage

	// DecisionFromContext recovers the routing decision recorded for the
	// current request, when a handler stored one.
	DecisionFromContext = router.DecisionFromContext

	// WithOutcomeCapture installs a carrier the client fills with the
	// decision and serving outcome of the next routed call.
	WithOutcomeCapture = router.WithOutcomeCapture

	// OutcomeFromContext recovers that carrier.
	OutcomeFromContext = router.OutcomeFromContext
)

// Outcome captures how a routed request was served.
type Outcome = router.Outcome

// DefaultPreferences returns the stock routing preferences.
func DefaultPreferences() Preferences { return router.DefaultPreferences() }

// DefaultWeights returns the stock scoring weights.
func DefaultWeights() Weights { return router.DefaultWeights() }
