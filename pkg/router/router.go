// Package router provides the public types and contracts for adaptive
// provider selection. It defines the scored routing decision model, the
// performance ledger contract, and the availability probing contract shared
// by the decision engine, the fallback executor, and the stage optimizer.
package router

import (
	"context"
	"errors"
	"time"
)

// ProviderID identifies a configured inference backend.
type ProviderID string

// Kind classifies a provider's serving profile.
type Kind string

const (
	// KindInteractive marks providers tuned for low-latency conversational
	// traffic, typically single-request serving.
	KindInteractive Kind = "interactive"

	// KindBatch marks providers tuned for high-throughput workloads such as
	// embedding jobs, reranking, and bulk generation.
	KindBatch Kind = "batch"
)

// RequestKind is the API shape of the call being routed.
type RequestKind string

const (
	// RequestKindGenerate is a single-prompt completion call.
	RequestKindGenerate RequestKind = "generate"

	// RequestKindChat is a multi-turn messages call, optionally with tools.
	RequestKindChat RequestKind = "chat"
)

// Task types with routing affinity. Callers may pass any string; these are
// the values the scoring rules recognize.
const (
	TaskTypeBatch              = "batch"
	TaskTypeEmbedding          = "embedding"
	TaskTypeRerank             = "rerank"
	TaskTypeInteractive        = "interactive"
	TaskTypeToolCalling        = "tool_calling"
	TaskTypeCodeGeneration     = "code_generation"
	TaskTypeAnalysis           = "analysis"
	TaskTypeFoundationPipeline = "foundation_pipeline"
)

// Request carries the routing-relevant facts about one incoming call.
type Request struct {
	// Kind is the API shape (generate or chat).
	Kind RequestKind

	// TaskType is the caller-declared workload category. Empty means
	// unspecified; unrecognized values simply match no affinity rule.
	TaskType string

	// Model is the requested model name.
	Model string

	// UsesTools is true when the request includes tool definitions.
	UsesTools bool

	// Stage names the pipeline stage this call belongs to, when the call
	// was delegated by the stage optimizer. Empty for ad hoc requests.
	Stage string
}

// Candidate is one provider as seen by the decision engine.
type Candidate struct {
	// ID is the configured provider identifier.
	ID ProviderID

	// Kind is the provider's serving profile.
	Kind Kind

	// Enabled reflects operator configuration. Disabled candidates are
	// never scored.
	Enabled bool
}

// Rule identifiers recorded in decision contributions.
const (
	RuleSoleProvider    = "sole_provider"
	RuleToolPreference  = "tool_preference"
	RuleTaskAffinity    = "task_affinity"
	RuleSpeed           = "speed"
	RuleReliability     = "reliability"
	RuleModelSize       = "model_size"
	RuleKindPreference  = "kind_preference"
	RulePipelineContext = "pipeline_context"
)

// Contribution records one scoring rule that fired for one candidate.
// Contributions are appended in rule evaluation order, so a decision's
// contribution list is a replayable explanation of its score.
type Contribution struct {
	// Rule is the identifier of the rule that fired.
	Rule string `json:"rule"`

	// Provider is the candidate the points were awarded to.
	Provider ProviderID `json:"provider"`

	// Points is the score delta awarded by the rule.
	Points int `json:"points"`

	// Reason is a human-readable explanation of the award.
	Reason string `json:"reason"`
}

// DecisionSource describes which component produced a decision.
type DecisionSource string

const (
	// SourceEngine marks decisions produced by scoring candidates.
	SourceEngine DecisionSource = "engine"

	// SourceStageTable marks decisions taken from the stage plan table.
	SourceStageTable DecisionSource = "stage_table"

	// SourceStageFallback marks stage decisions where the planned provider
	// was unavailable and the stage fallback was used instead.
	SourceStageFallback DecisionSource = "stage_fallback"
)

// Decision is the outcome of routing one request.
type Decision struct {
	// Provider is the selected backend.
	Provider ProviderID `json:"provider"`

	// Reason summarizes why the provider won.
	Reason string `json:"reason"`

	// Confidence is the normalized score separation between the winner and
	// the runner-up, in [0, 1]. A sole surviving candidate scores 1.
	Confidence float64 `json:"confidence"`

	// Fallback is the runner-up to try if the provider fails. Empty when
	// fallback is disabled or no second candidate survived.
	Fallback ProviderID `json:"fallback,omitempty"`

	// Source identifies the component that produced the decision.
	Source DecisionSource `json:"source"`

	// Contributions lists every rule award in evaluation order.
	Contributions []Contribution `json:"contributions,omitempty"`

	// Scores holds the final additive score per surviving candidate.
	Scores map[ProviderID]int `json:"scores,omitempty"`
}

// Performance is one provider's smoothed health record in the ledger.
type Performance struct {
	// Provider is the backend this record describes.
	Provider ProviderID `json:"provider"`

	// AvgLatencyMs is the exponentially weighted average request latency.
	AvgLatencyMs float64 `json:"avg_latency_ms"`

	// SuccessRate is the exponentially weighted success ratio in [0, 1].
	SuccessRate float64 `json:"success_rate"`

	// RequestCount is the total number of recorded outcomes, including
	// failures.
	RequestCount int64 `json:"request_count"`

	// LastUpdated is when the record last absorbed a sample.
	LastUpdated time.Time `json:"last_updated"`
}

// AvailabilityEntry is one cached reachability verdict.
type AvailabilityEntry struct {
	// Available is the probe verdict. Probe errors count as unavailable.
	Available bool

	// CheckedAt is when the verdict was produced.
	CheckedAt time.Time
}

// StagePlan is the static recommendation for one pipeline stage.
type StagePlan struct {
	// Stage is the pipeline stage name.
	Stage string `json:"stage"`

	// Provider is the planned backend for the stage.
	Provider ProviderID `json:"provider"`

	// Reason explains the plan.
	Reason string `json:"reason"`

	// Confidence is the plan's confidence in [0, 1]. Plans served from the
	// table keep their configured confidence; plans rerouted to the stage
	// fallback are discounted.
	Confidence float64 `json:"confidence"`

	// Fallback is the backend to use when the planned provider is
	// unavailable.
	Fallback ProviderID `json:"fallback,omitempty"`

	// BatchingEligible is true when stage inputs may be grouped into a
	// single provider call.
	BatchingEligible bool `json:"batching_eligible"`

	// Parallelizable is true when stage inputs may be fanned out
	// concurrently.
	Parallelizable bool `json:"parallelizable"`
}

// Preferences are the operator-tunable routing knobs. Zero-valued provider
// preferences leave the corresponding rule inert.
type Preferences struct {
	// ChatPreference is the preferred backend for chat-shaped requests.
	ChatPreference ProviderID

	// EmbeddingPreference is the preferred backend for embedding tasks.
	EmbeddingPreference ProviderID

	// ToolCallingPreference is the preferred backend for requests that
	// declare tools.
	ToolCallingPreference ProviderID

	// BatchProcessingPreference is the preferred backend for batch tasks.
	BatchProcessingPreference ProviderID

	// PreferSpeed awards a bonus to the lowest-latency candidate.
	PreferSpeed bool

	// PreferAccuracy biases code generation and analysis tasks toward
	// large-model candidates.
	PreferAccuracy bool

	// SmallModelThreshold is the regexp matched against model names to
	// classify a request as small-model.
	SmallModelThreshold string

	// LargeModelThreshold is the regexp matched against model names to
	// classify a request as large-model.
	LargeModelThreshold string

	// EnableFallback lets decisions carry a runner-up and lets the
	// executor retry it after a primary failure.
	EnableFallback bool

	// FallbackTimeout bounds the primary attempt before the executor
	// gives up on it and turns to the fallback.
	FallbackTimeout time.Duration
}

// DefaultPreferences returns the stock routing preferences.
func DefaultPreferences() Preferences {
	return Preferences{
		PreferSpeed:         false,
		PreferAccuracy:      true,
		SmallModelThreshold: `(?i)(1b|3b|7b|small|mini|light)`,
		LargeModelThreshold: `(?i)(13b|20b|30b|70b|large|xl)`,
		EnableFallback:      true,
		FallbackTimeout:     30 * time.Second,
	}
}

// Weights are the point values awarded by the scoring rules. They are
// policy constants rather than per-request knobs; override them only to
// retune the engine as a whole.
type Weights struct {
	// ToolPreference is awarded to the tool-calling preference when the
	// request declares tools.
	ToolPreference int

	// TaskAffinityBatch is awarded to batch candidates for batch,
	// embedding, and rerank tasks.
	TaskAffinityBatch int

	// TaskAffinityInteractive is awarded to interactive candidates for
	// interactive and tool-calling tasks.
	TaskAffinityInteractive int

	// AccuracyLarge is awarded to batch candidates for code generation and
	// analysis tasks on large models.
	AccuracyLarge int

	// AccuracySmall is awarded to interactive candidates for code
	// generation and analysis tasks on models that are not large.
	AccuracySmall int

	// Speed is awarded to the single lowest-latency candidate when
	// PreferSpeed is set.
	Speed int

	// Reliability is awarded to the candidate whose success rate exceeds
	// every other candidate's by more than ReliabilityMargin.
	Reliability int

	// SmallModel is awarded to interactive candidates when the model name
	// matches the small-model pattern.
	SmallModel int

	// LargeModel is awarded to batch candidates when the model name
	// matches the large-model pattern.
	LargeModel int

	// KindPreference is awarded to the configured preference for the
	// request's kind and task type.
	KindPreference int

	// PipelineContext is awarded to batch candidates when the request
	// belongs to a foundation pipeline run.
	PipelineContext int

	// ReliabilityMargin is the success-rate separation required before the
	// reliability bonus fires.
	ReliabilityMargin float64
}

// DefaultWeights returns the stock rule weights.
func DefaultWeights() Weights {
	return Weights{
		ToolPreference:          30,
		TaskAffinityBatch:       20,
		TaskAffinityInteractive: 15,
		AccuracyLarge:           15,
		AccuracySmall:           10,
		Speed:                   15,
		Reliability:             10,
		SmallModel:              5,
		LargeModel:              10,
		KindPreference:          20,
		PipelineContext:         25,
		ReliabilityMargin:       0.05,
	}
}

// ErrPerformanceNotFound is returned by ledger stores when no record exists
// for the requested provider.
var ErrPerformanceNotFound = errors.New("router: performance record not found")

// LedgerStore persists per-provider performance records. Implementations
// must be safe for concurrent use; the smoothing math is the store's
// responsibility so that backends can apply it atomically.
type LedgerStore interface {
	// Get returns the record for one provider, or ErrPerformanceNotFound.
	Get(ctx context.Context, id ProviderID) (Performance, error)

	// Record folds one request outcome into the provider's record,
	// creating the record from the seed values if it does not exist.
	Record(ctx context.Context, id ProviderID, latencyMs float64, success bool) error

	// Snapshot returns a copy of every record keyed by provider.
	Snapshot(ctx context.Context) (map[ProviderID]Performance, error)

	// Reset discards all records and reinstalls the given seeds.
	Reset(ctx context.Context, seeds map[ProviderID]Performance) error

	// Close releases any underlying resources.
	Close() error
}

// Prober answers whether a provider is reachable right now. Probe failures
// and probe errors are both reported as unavailable.
type Prober interface {
	Probe(ctx context.Context, id ProviderID) bool
}

// ProbeFunc adapts a function to the Prober interface.
type ProbeFunc func(ctx context.Context, id ProviderID) bool

// Probe calls f.
func (f ProbeFunc) Probe(ctx context.Context, id ProviderID) bool {
	return f(ctx, id)
}
