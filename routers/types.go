// Package routers provides the adaptive routing components in library mode.
// The decision engine, performance ledger, availability cache, fallback
// executor, and stage optimizer all build on the contracts in pkg/router.
package routers

import (
	"github.com/infergate/infergate/pkg/router"
)

// Re-export types from pkg/router for convenience
type (
	AvailabilityEntry = router.AvailabilityEntry
	Candidate         = router.Candidate
	Contribution      = router.Contribution
	Decision          = router.Decision
	DecisionSource    = router.DecisionSource
	Kind              = router.Kind
	Performance       = router.Performance
	Preferences       = router.Preferences
	ProviderID        = router.ProviderID
	Request           = router.Request
	RequestKind       = router.RequestKind
	StagePlan         = router.StagePlan
	Weights           = router.Weights
)

// Re-export error variables
var ErrPerformanceNotFound = router.ErrPerformanceNotFound

// Re-export constants
const (
	KindInteractive = router.KindInteractive
	KindBatch       = router.KindBatch

	RequestKindGenerate = router.RequestKindGenerate
	RequestKindChat     = router.RequestKindChat

	SourceEngine        = router.SourceEngine
	SourceStageTable    = router.SourceStageTable
	SourceStageFallback = router.SourceStageFallback
)

// Re-export functions
var (
	DefaultPreferences = router.DefaultPreferences
	DefaultWeights     = router.DefaultWeights
)
