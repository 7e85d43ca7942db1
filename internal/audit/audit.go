// Package audit persists routing decisions and their serving outcomes so
// operators can answer why a request landed on a given backend.
package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/infergate/infergate/pkg/router"
)

// Record is one audited routing decision and its serving outcome.
type Record struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	// Request context
	RequestID string `json:"request_id,omitempty"`
	ClientIP  string `json:"client_ip,omitempty"`
	Kind      string `json:"kind,omitempty"` // "chat" or "generate"
	TaskType  string `json:"task_type,omitempty"`
	Stage     string `json:"stage,omitempty"`
	Model     string `json:"model,omitempty"`
	Stream    bool   `json:"stream,omitempty"`

	// Decision
	Provider   string         `json:"provider"`
	Fallback   string         `json:"fallback,omitempty"`
	Confidence float64        `json:"confidence"`
	Source     string         `json:"source"`
	Reason     string         `json:"reason,omitempty"`
	Scores     map[string]int `json:"scores,omitempty"`

	// Outcome
	Served    string `json:"served,omitempty"`
	FellBack  bool   `json:"fell_back,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
	Success   *bool  `json:"success,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Filter contains filter options for querying decision records.
type Filter struct {
	Provider  *string
	Source    *string
	TaskType  *string
	Stage     *string
	Model     *string
	FellBack  *bool
	Success   *bool
	StartTime time.Time
	EndTime   time.Time
	Limit     int
	Offset    int
}

// Stats contains aggregated decision statistics.
type Stats struct {
	TotalDecisions int64            `json:"total_decisions"`
	SuccessCount   int64            `json:"success_count"`
	FailureCount   int64            `json:"failure_count"`
	FallbackCount  int64            `json:"fallback_count"`
	UniqueModels   int              `json:"unique_models"`
	ProviderCounts map[string]int64 `json:"provider_counts"`
	SourceCounts   map[string]int64 `json:"source_counts"`
}

// Store defines the interface for decision record storage.
type Store interface {
	// CreateRecord persists a new decision record.
	CreateRecord(rec *Record) error

	// GetRecord retrieves a single record by ID. A missing ID returns
	// (nil, nil).
	GetRecord(id string) (*Record, error)

	// ListRecords returns records matching the filter, newest first,
	// along with the total match count before pagination.
	ListRecords(filter Filter) ([]*Record, int64, error)

	// GetStats returns aggregated statistics over matching records.
	GetStats(filter Filter) (*Stats, error)

	// DeleteRecords deletes records older than the specified time and
	// returns how many were removed. Used for retention policies.
	DeleteRecords(olderThan time.Time) (int64, error)
}

// Recorder provides a high-level API for recording routed requests.
type Recorder struct {
	store   Store
	enabled bool
}

// NewRecorder creates a recorder. A disabled recorder drops everything.
func NewRecorder(store Store, enabled bool) *Recorder {
	return &Recorder{
		store:   store,
		enabled: enabled,
	}
}

// Enabled reports whether records are being persisted.
func (r *Recorder) Enabled() bool {
	return r.enabled && r.store != nil
}

// Record persists one decision record.
func (r *Recorder) Record(rec *Record) error {
	if !r.Enabled() {
		return nil
	}
	return r.store.CreateRecord(rec)
}

// RequestMeta carries the request-side fields of a decision record.
type RequestMeta struct {
	RequestID string
	ClientIP  string
	Kind      string
	TaskType  string
	Stage     string
	Model     string
	Stream    bool
}

// RecordOutcome assembles and persists a record from a captured routing
// outcome. callErr, when non-nil, marks the request as failed.
func (r *Recorder) RecordOutcome(meta RequestMeta, o *router.Outcome, callErr error) error {
	if !r.Enabled() || o == nil {
		return nil
	}

	scores := make(map[string]int, len(o.Decision.Scores))
	for id, score := range o.Decision.Scores {
		scores[string(id)] = score
	}

	success := callErr == nil
	rec := &Record{
		ID:         generateID(),
		Timestamp:  time.Now().UTC(),
		RequestID:  meta.RequestID,
		ClientIP:   meta.ClientIP,
		Kind:       meta.Kind,
		TaskType:   meta.TaskType,
		Stage:      meta.Stage,
		Model:      meta.Model,
		Stream:     meta.Stream,
		Provider:   string(o.Decision.Provider),
		Fallback:   string(o.Decision.Fallback),
		Confidence: o.Decision.Confidence,
		Source:     string(o.Decision.Source),
		Reason:     o.Decision.Reason,
		Scores:     scores,
		Served:     string(o.Served),
		FellBack:   o.FellBack,
		LatencyMs:  o.Latency.Milliseconds(),
		Success:    &success,
	}
	if callErr != nil {
		rec.Error = callErr.Error()
	}
	return r.Record(rec)
}

// generateID generates a unique ID for decision records.
func generateID() string {
	return uuid.New().String()
}
