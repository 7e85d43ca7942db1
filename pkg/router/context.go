package router

import (
	"context"
	"time"
)

type decisionKey struct{}

// WithDecision returns a context carrying the routing decision made for the
// current request. Handlers use it to surface the decision in response
// headers and audit records without threading it through every call.
func WithDecision(ctx context.Context, d *Decision) context.Context {
	if d == nil {
		return ctx
	}
	return context.WithValue(ctx, decisionKey{}, d)
}

// DecisionFromContext returns the routing decision stored in the context,
// if any.
func DecisionFromContext(ctx context.Context) *Decision {
	if ctx == nil {
		return nil
	}
	if d, ok := ctx.Value(decisionKey{}).(*Decision); ok {
		return d
	}
	return nil
}

// Outcome captures how a routed request was actually served. Handlers
// install one with WithOutcomeCapture before calling the client and read
// it back after the call returns.
type Outcome struct {
	// Decision is the routing decision made for the request.
	Decision Decision

	// Served is the backend that produced the response. It differs from
	// Decision.Provider when the fallback ran.
	Served ProviderID

	// FellBack is true when the fallback attempt produced the response.
	FellBack bool

	// Latency is the duration of the attempt that produced the response.
	// For streams it spans the whole relay.
	Latency time.Duration
}

type outcomeKey struct{}

// WithOutcomeCapture returns a context that asks the client to record how
// the request was routed and served into the returned Outcome.
func WithOutcomeCapture(ctx context.Context) (context.Context, *Outcome) {
	o := &Outcome{}
	return context.WithValue(ctx, outcomeKey{}, o), o
}

// OutcomeFromContext returns the outcome carrier installed by
// WithOutcomeCapture, or nil when the caller did not ask for one.
func OutcomeFromContext(ctx context.Context) *Outcome {
	if ctx == nil {
		return nil
	}
	if o, ok := ctx.Value(outcomeKey{}).(*Outcome); ok {
		return o
	}
	return nil
}

type taskTypeKey struct{}

// WithTaskType returns a context carrying a task type hint for routing.
// Callers that know what kind of work a request represents (an embedding
// pass, a tool-calling turn, a pipeline stage) set it here; the gateway
// sets it from the request headers.
func WithTaskType(ctx context.Context, taskType string) context.Context {
	if taskType == "" {
		return ctx
	}
	return context.WithValue(ctx, taskTypeKey{}, taskType)
}

// TaskTypeFromContext returns the task type hint, or "" when none is set.
func TaskTypeFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if t, ok := ctx.Value(taskTypeKey{}).(string); ok {
		return t
	}
	return ""
}

type stageKey struct{}

// WithStage returns a context carrying a pipeline stage hint. Requests
// routed with a stage hint consult the stage plan table instead of the
// decision engine directly.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey{}, stage)
}

// StageFromContext returns the pipeline stage hint, or "" when none is set.
func StageFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx.Value(stageKey{}).(string); ok {
		return s
	}
	return ""
}
