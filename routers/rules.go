package routers

import (
	"fmt"
	"regexp"

	"github.com/infergate/infergate/pkg/router"
)

// scoreboard accumulates per-candidate points and the contribution trail
// for one decision. Candidate order is configured order, which also breaks
// score ties deterministically.
type scoreboard struct {
	scores        map[router.ProviderID]int
	contributions []router.Contribution
	order         []router.ProviderID
	kinds         map[router.ProviderID]router.Kind
}

func newScoreboard(candidates []router.Candidate) *scoreboard {
	b := &scoreboard{
		scores: make(map[router.ProviderID]int, len(candidates)),
		kinds:  make(map[router.ProviderID]router.Kind, len(candidates)),
		order:  make([]router.ProviderID, 0, len(candidates)),
	}
	for _, c := range candidates {
		b.scores[c.ID] = 0
		b.kinds[c.ID] = c.Kind
		b.order = append(b.order, c.ID)
	}
	return b
}

// award adds points to one candidate. Awards naming a provider that is not
// on the board (a preference for a disabled or unreachable backend) are
// dropped silently.
func (b *scoreboard) award(rule string, id router.ProviderID, points int, reason string) {
	if _, ok := b.scores[id]; !ok {
		return
	}
	b.scores[id] += points
	b.contributions = append(b.contributions, router.Contribution{
		Rule:     rule,
		Provider: id,
		Points:   points,
		Reason:   reason,
	})
}

// awardKind adds points to every candidate of the given kind, in configured
// order.
func (b *scoreboard) awardKind(rule string, kind router.Kind, points int, reason string) {
	for _, id := range b.order {
		if b.kinds[id] == kind {
			b.award(rule, id, points, reason)
		}
	}
}

// winner returns the top scorer and the runner-up. Ties resolve to the
// earlier candidate in configured order.
func (b *scoreboard) winner() (top router.ProviderID, topScore int, runnerUp router.ProviderID, runnerUpScore int) {
	haveTop := false
	haveSecond := false
	for _, id := range b.order {
		score := b.scores[id]
		switch {
		case !haveTop || score > topScore:
			if haveTop {
				runnerUp, runnerUpScore, haveSecond = top, topScore, true
			}
			top, topScore, haveTop = id, score, true
		case !haveSecond || score > runnerUpScore:
			runnerUp, runnerUpScore, haveSecond = id, score, true
		}
	}
	return top, topScore, runnerUp, runnerUpScore
}

// ruleSet evaluates the scoring rules in a fixed order so contribution
// trails are stable across runs with identical inputs.
type ruleSet struct {
	prefs   router.Preferences
	weights router.Weights
	smallRe *regexp.Regexp
	largeRe *regexp.Regexp
}

func newRuleSet(prefs router.Preferences, weights router.Weights) (*ruleSet, error) {
	defaults := router.DefaultPreferences()
	smallPattern := prefs.SmallModelThreshold
	if smallPattern == "" {
		smallPattern = defaults.SmallModelThreshold
	}
	largePattern := prefs.LargeModelThreshold
	if largePattern == "" {
		largePattern = defaults.LargeModelThreshold
	}

	smallRe, err := regexp.Compile(smallPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid small model pattern %q: %w", smallPattern, err)
	}
	largeRe, err := regexp.Compile(largePattern)
	if err != nil {
		return nil, fmt.Errorf("invalid large model pattern %q: %w", largePattern, err)
	}

	return &ruleSet{
		prefs:   prefs,
		weights: weights,
		smallRe: smallRe,
		largeRe: largeRe,
	}, nil
}

// apply runs every rule against the board. Rule order is part of the
// decision contract: contribution trails replay in this order.
func (r *ruleSet) apply(req router.Request, board *scoreboard, perf map[router.ProviderID]router.Performance) {
	r.applyToolPreference(req, board)
	r.applyTaskAffinity(req, board)
	r.applySpeed(board, perf)
	r.applyReliability(board, perf)
	r.applyModelSize(req, board)
	r.applyKindPreference(req, board)
	r.applyPipelineContext(req, board)
}

func (r *ruleSet) applyToolPreference(req router.Request, board *scoreboard) {
	if !req.UsesTools || r.prefs.ToolCallingPreference == "" {
		return
	}
	board.award(router.RuleToolPreference, r.prefs.ToolCallingPreference,
		r.weights.ToolPreference, "configured tool calling preference")
}

func (r *ruleSet) applyTaskAffinity(req router.Request, board *scoreboard) {
	switch req.TaskType {
	case router.TaskTypeBatch, router.TaskTypeEmbedding, router.TaskTypeRerank:
		board.awardKind(router.RuleTaskAffinity, router.KindBatch, r.weights.TaskAffinityBatch,
			fmt.Sprintf("%s tasks favor batch serving", req.TaskType))
	case router.TaskTypeInteractive, router.TaskTypeToolCalling:
		board.awardKind(router.RuleTaskAffinity, router.KindInteractive, r.weights.TaskAffinityInteractive,
			fmt.Sprintf("%s tasks favor interactive serving", req.TaskType))
	case router.TaskTypeCodeGeneration, router.TaskTypeAnalysis:
		if r.prefs.PreferAccuracy && req.Model != "" && r.largeRe.MatchString(req.Model) {
			board.awardKind(router.RuleTaskAffinity, router.KindBatch, r.weights.AccuracyLarge,
				fmt.Sprintf("%s on a large model favors batch serving", req.TaskType))
		} else {
			board.awardKind(router.RuleTaskAffinity, router.KindInteractive, r.weights.AccuracySmall,
				fmt.Sprintf("%s favors interactive serving", req.TaskType))
		}
	}
}

// applySpeed awards the single lowest-latency candidate. A tie at the
// minimum means no candidate is strictly faster, so nothing is awarded.
func (r *ruleSet) applySpeed(board *scoreboard, perf map[router.ProviderID]router.Performance) {
	if !r.prefs.PreferSpeed {
		return
	}

	var (
		fastest   router.ProviderID
		fastestMs float64
		found     bool
		tied      bool
	)
	for _, id := range board.order {
		p, ok := perf[id]
		if !ok {
			continue
		}
		switch {
		case !found || p.AvgLatencyMs < fastestMs:
			fastest, fastestMs, found, tied = id, p.AvgLatencyMs, true, false
		case p.AvgLatencyMs == fastestMs:
			tied = true
		}
	}
	if found && !tied {
		board.award(router.RuleSpeed, fastest, r.weights.Speed,
			fmt.Sprintf("lowest average latency (%.0f ms)", fastestMs))
	}
}

// applyReliability awards the candidate whose success rate clears every
// other candidate's by more than the configured margin.
func (r *ruleSet) applyReliability(board *scoreboard, perf map[router.ProviderID]router.Performance) {
	var (
		best       router.ProviderID
		bestRate   float64
		secondRate float64
		records    int
	)
	for _, id := range board.order {
		p, ok := perf[id]
		if !ok {
			continue
		}
		records++
		switch {
		case records == 1 || p.SuccessRate > bestRate:
			if records > 1 {
				secondRate = bestRate
			}
			best, bestRate = id, p.SuccessRate
		case records == 2 || p.SuccessRate > secondRate:
			secondRate = p.SuccessRate
		}
	}
	if records < 2 {
		return
	}
	if bestRate-secondRate > r.weights.ReliabilityMargin {
		board.award(router.RuleReliability, best, r.weights.Reliability,
			fmt.Sprintf("success rate %.2f leads the field by more than %.2f", bestRate, r.weights.ReliabilityMargin))
	}
}

func (r *ruleSet) applyModelSize(req router.Request, board *scoreboard) {
	if req.Model == "" {
		return
	}
	if r.smallRe.MatchString(req.Model) {
		board.awardKind(router.RuleModelSize, router.KindInteractive, r.weights.SmallModel,
			fmt.Sprintf("small model %q suits interactive serving", req.Model))
	}
	if r.largeRe.MatchString(req.Model) {
		board.awardKind(router.RuleModelSize, router.KindBatch, r.weights.LargeModel,
			fmt.Sprintf("large model %q suits batch serving", req.Model))
	}
}

// applyKindPreference awards the operator's preferred backend for the
// request's API shape. Chat calls use the chat preference directly;
// generate calls map through the task-specific preferences.
func (r *ruleSet) applyKindPreference(req router.Request, board *scoreboard) {
	switch req.Kind {
	case router.RequestKindChat:
		if r.prefs.ChatPreference != "" {
			board.award(router.RuleKindPreference, r.prefs.ChatPreference,
				r.weights.KindPreference, "configured chat preference")
		}
	case router.RequestKindGenerate:
		switch req.TaskType {
		case router.TaskTypeEmbedding:
			if r.prefs.EmbeddingPreference != "" {
				board.award(router.RuleKindPreference, r.prefs.EmbeddingPreference,
					r.weights.KindPreference, "configured embedding preference")
			}
		case router.TaskTypeBatch, router.TaskTypeRerank:
			if r.prefs.BatchProcessingPreference != "" {
				board.award(router.RuleKindPreference, r.prefs.BatchProcessingPreference,
					r.weights.KindPreference, "configured batch processing preference")
			}
		}
	}
}

func (r *ruleSet) applyPipelineContext(req router.Request, board *scoreboard) {
	if req.TaskType != router.TaskTypeFoundationPipeline {
		return
	}
	board.awardKind(router.RulePipelineContext, router.KindBatch, r.weights.PipelineContext,
		"foundation pipeline stages favor batch serving")
}
