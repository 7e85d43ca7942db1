package routers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	igerrors "github.com/infergate/infergate/pkg/errors"
	"github.com/infergate/infergate/pkg/router"
)

// Engine scores enabled, reachable candidates and picks a provider per
// request. A decision is a pure function of the request, the ledger
// snapshot, and the availability verdicts; the engine never writes either
// store.
type Engine struct {
	candidates []router.Candidate
	rules      *ruleSet
	prefs      router.Preferences
	ledger     *Ledger
	avail      *AvailabilityCache
	logger     *slog.Logger
}

// NewEngine builds an engine over the configured candidate list. Candidate
// order matters: it is the tie-break order for equal scores. Fails if a
// model-size pattern in the preferences does not compile.
func NewEngine(candidates []router.Candidate, prefs router.Preferences, weights router.Weights, ledger *Ledger, avail *AvailabilityCache, logger *slog.Logger) (*Engine, error) {
	rules, err := newRuleSet(prefs, weights)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		candidates: append([]router.Candidate(nil), candidates...),
		rules:      rules,
		prefs:      prefs,
		ledger:     ledger,
		avail:      avail,
		logger:     logger,
	}, nil
}

// Decide routes one request. It returns a NoProviderAvailable error when no
// enabled candidate is reachable.
func (e *Engine) Decide(ctx context.Context, req router.Request) (router.Decision, error) {
	survivors := make([]router.Candidate, 0, len(e.candidates))
	excluded := make([]string, 0, len(e.candidates))
	for _, c := range e.candidates {
		if !c.Enabled {
			excluded = append(excluded, fmt.Sprintf("%s disabled", c.ID))
			continue
		}
		if !e.avail.Check(ctx, c.ID) {
			excluded = append(excluded, fmt.Sprintf("%s unavailable", c.ID))
			continue
		}
		survivors = append(survivors, c)
	}

	if len(survivors) == 0 {
		return router.Decision{}, igerrors.NewNoProviderAvailableError("no enabled provider is reachable")
	}

	if len(survivors) == 1 {
		decision := soleDecision(survivors[0], excluded)
		e.logDecision(req, decision)
		return decision, nil
	}

	perf, err := e.ledger.Snapshot(ctx)
	if err != nil {
		e.logger.Warn("ledger snapshot failed, scoring without performance signal", "error", err)
		perf = map[router.ProviderID]router.Performance{}
	}

	board := newScoreboard(survivors)
	e.rules.apply(req, board, perf)

	top, topScore, runnerUp, runnerUpScore := board.winner()

	decision := router.Decision{
		Provider:      top,
		Reason:        decisionReason(top, topScore, runnerUp, runnerUpScore, board.contributions),
		Confidence:    scoreConfidence(topScore, runnerUpScore),
		Source:        router.SourceEngine,
		Contributions: board.contributions,
		Scores:        board.scores,
	}
	if e.prefs.EnableFallback {
		decision.Fallback = runnerUp
	}

	e.logDecision(req, decision)
	return decision, nil
}

// Candidates returns a copy of the configured candidate list.
func (e *Engine) Candidates() []router.Candidate {
	return append([]router.Candidate(nil), e.candidates...)
}

func (e *Engine) logDecision(req router.Request, d router.Decision) {
	e.logger.Info("routing decision",
		"provider", d.Provider,
		"kind", req.Kind,
		"task_type", req.TaskType,
		"model", req.Model,
		"uses_tools", req.UsesTools,
		"reason", d.Reason,
		"confidence", d.Confidence,
		"fallback", d.Fallback,
	)
}

// soleDecision reports the last surviving candidate with full confidence.
// The reason names every excluded sibling and why it was excluded.
func soleDecision(c router.Candidate, excluded []string) router.Decision {
	reason := "only configured provider"
	if len(excluded) > 0 {
		reason = strings.Join(excluded, ", ")
	}
	return router.Decision{
		Provider:   c.ID,
		Reason:     reason,
		Confidence: 1.0,
		Source:     router.SourceEngine,
		Contributions: []router.Contribution{{
			Rule:     router.RuleSoleProvider,
			Provider: c.ID,
			Points:   0,
			Reason:   reason,
		}},
		Scores: map[router.ProviderID]int{c.ID: 0},
	}
}

// scoreConfidence normalizes the separation between the two best scores
// into [0, 1]. Two zero scores mean no rule distinguished the candidates.
func scoreConfidence(top, second int) float64 {
	max := top
	if second > max {
		max = second
	}
	if max <= 0 {
		return 0
	}
	diff := top - second
	if diff < 0 {
		diff = -diff
	}
	confidence := float64(diff) / float64(max)
	if confidence < 0 {
		return 0
	}
	if confidence > 1 {
		return 1
	}
	return confidence
}

func decisionReason(top router.ProviderID, topScore int, runnerUp router.ProviderID, runnerUpScore int, contributions []router.Contribution) string {
	parts := make([]string, 0, len(contributions))
	for _, c := range contributions {
		if c.Provider == top {
			parts = append(parts, fmt.Sprintf("%s (+%d)", c.Reason, c.Points))
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "no rule matched, ties resolve to configuration order")
	}
	return fmt.Sprintf("%s scored %d vs %s %d: %s",
		top, topScore, runnerUp, runnerUpScore, strings.Join(parts, ", "))
}
