package routers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	igerrors "github.com/infergate/infergate/pkg/errors"
	"github.com/infergate/infergate/pkg/router"
)

// Operation performs the actual backend invocation for a chosen provider.
// The executor treats its error opaquely; classification happens in the
// provider adapters.
type Operation func(ctx context.Context, id router.ProviderID) (any, error)

// ExecResult is the outcome of an executed routing decision.
type ExecResult struct {
	// Value is whatever the operation returned.
	Value any

	// Provider is the backend that actually produced the value. It differs
	// from the decision's provider when the fallback ran.
	Provider router.ProviderID

	// Latency is the duration of the attempt that produced the value.
	Latency time.Duration

	// FellBack is true when the fallback attempt produced the value.
	FellBack bool
}

// Executor runs operations under the routing decision's fallback policy.
// It is the only component that writes the performance ledger: every
// attempt's outcome is recorded against the provider that ran it.
type Executor struct {
	ledger *Ledger
	prefs  router.Preferences
	logger *slog.Logger
}

// NewExecutor builds an executor over the shared ledger.
func NewExecutor(ledger *Ledger, prefs router.Preferences, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		ledger: ledger,
		prefs:  prefs,
		logger: logger,
	}
}

type attemptResult struct {
	value   any
	err     error
	latency time.Duration
}

// Execute races the primary attempt against the fallback deadline. On
// primary failure or timeout it records the failure, then runs the fallback
// exactly once when the decision carries one and policy allows. The
// fallback attempt has no second deadline race; it is bounded only by the
// caller's context.
//
// A primary attempt that outlives the deadline is abandoned: its eventual
// result drains into a buffered channel and is discarded without a second
// ledger write. Caller cancellation is returned as-is and records nothing,
// since it says nothing about the provider's health.
func (x *Executor) Execute(ctx context.Context, decision router.Decision, op Operation) (*ExecResult, error) {
	timeout := x.prefs.FallbackTimeout
	if timeout <= 0 {
		timeout = router.DefaultPreferences().FallbackTimeout
	}

	primary := decision.Provider

	resultCh := make(chan attemptResult, 1)
	start := time.Now()
	go func() {
		value, err := op(ctx, primary)
		resultCh <- attemptResult{value: value, err: err, latency: time.Since(start)}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var primaryErr error
	select {
	case res := <-resultCh:
		if res.err == nil {
			x.ledger.Record(ctx, primary, res.latency, true)
			return &ExecResult{Value: res.value, Provider: primary, Latency: res.latency}, nil
		}
		if cerr := ctx.Err(); cerr != nil && errors.Is(res.err, cerr) {
			// The attempt surfaced the caller's own cancellation.
			return nil, cerr
		}
		x.ledger.Record(ctx, primary, res.latency, false)
		primaryErr = res.err
		x.logger.Warn("primary attempt failed",
			"provider", primary,
			"latency_ms", res.latency.Milliseconds(),
			"error", res.err,
		)
	case <-timer.C:
		x.ledger.Record(ctx, primary, timeout, false)
		primaryErr = igerrors.NewRoutingTimeoutError(string(primary), "", timeout.Milliseconds())
		x.logger.Warn("primary attempt timed out",
			"provider", primary,
			"timeout_ms", timeout.Milliseconds(),
		)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if !x.prefs.EnableFallback || decision.Fallback == "" {
		return nil, primaryErr
	}
	if ctx.Err() != nil {
		// A fallback on a dead context would only observe the cancellation.
		return nil, primaryErr
	}

	fallback := decision.Fallback
	x.logger.Info("falling back",
		"from", primary,
		"to", fallback,
		"cause", primaryErr,
	)

	fbStart := time.Now()
	value, err := op(ctx, fallback)
	fbLatency := time.Since(fbStart)
	if err != nil {
		x.ledger.Record(ctx, fallback, fbLatency, false)
		x.logger.Warn("fallback attempt failed",
			"provider", fallback,
			"latency_ms", fbLatency.Milliseconds(),
			"error", err,
		)
		return nil, err
	}

	x.ledger.Record(ctx, fallback, fbLatency, true)
	return &ExecResult{Value: value, Provider: fallback, Latency: fbLatency, FellBack: true}, nil
}

// StreamOperation performs a streaming backend invocation. It reports
// whether any chunk reached the caller before the error occurred.
type StreamOperation func(ctx context.Context, id router.ProviderID) (delivered bool, err error)

// ExecuteStream runs a streaming operation under the decision's fallback
// policy. There is no deadline race here: a healthy stream outlives any
// reasonable fallback timeout. The fallback runs only when the primary
// failed before delivering its first chunk; once output has reached the
// caller, a silent retry would duplicate it.
func (x *Executor) ExecuteStream(ctx context.Context, decision router.Decision, op StreamOperation) (router.ProviderID, error) {
	primary := decision.Provider

	start := time.Now()
	delivered, err := op(ctx, primary)
	latency := time.Since(start)
	if err == nil {
		x.ledger.Record(ctx, primary, latency, true)
		return primary, nil
	}
	if cerr := ctx.Err(); cerr != nil && errors.Is(err, cerr) {
		return "", cerr
	}
	x.ledger.Record(ctx, primary, latency, false)
	x.logger.Warn("primary stream failed",
		"provider", primary,
		"delivered", delivered,
		"error", err,
	)

	if delivered || !x.prefs.EnableFallback || decision.Fallback == "" {
		return "", err
	}

	fallback := decision.Fallback
	x.logger.Info("falling back",
		"from", primary,
		"to", fallback,
		"cause", err,
	)

	fbStart := time.Now()
	_, fbErr := op(ctx, fallback)
	fbLatency := time.Since(fbStart)
	if fbErr != nil {
		x.ledger.Record(ctx, fallback, fbLatency, false)
		x.logger.Warn("fallback stream failed",
			"provider", fallback,
			"error", fbErr,
		)
		return "", fbErr
	}

	x.ledger.Record(ctx, fallback, fbLatency, true)
	return fallback, nil
}
