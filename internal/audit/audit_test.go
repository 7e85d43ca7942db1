package audit

import (
	"errors"
	"testing"
	"time"

	"github.com/infergate/infergate/pkg/router"
)

func boolPtr(b bool) *bool { return &b }

func TestMemoryStore_CreateAndGet(t *testing.T) {
	store := NewMemoryStore(0)

	rec := &Record{
		ID:         "rec-001",
		Timestamp:  time.Now().UTC(),
		Provider:   "ollama",
		Confidence: 0.8,
		Source:     "engine",
		Model:      "llama3.2",
		Success:    boolPtr(true),
	}

	if err := store.CreateRecord(rec); err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}

	retrieved, err := store.GetRecord("rec-001")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if retrieved == nil {
		t.Fatal("GetRecord returned nil")
	}
	if retrieved.Provider != rec.Provider {
		t.Errorf("Provider mismatch: got %s, want %s", retrieved.Provider, rec.Provider)
	}
	if retrieved.Confidence != rec.Confidence {
		t.Errorf("Confidence mismatch: got %f, want %f", retrieved.Confidence, rec.Confidence)
	}
}

func TestMemoryStore_GetMissing(t *testing.T) {
	store := NewMemoryStore(0)

	rec, err := store.GetRecord("nope")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if rec != nil {
		t.Errorf("expected nil for missing record, got %+v", rec)
	}
}

func TestMemoryStore_FillsIDAndTimestamp(t *testing.T) {
	store := NewMemoryStore(0)

	rec := &Record{Provider: "ollama", Source: "engine"}
	if err := store.CreateRecord(rec); err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}

	if rec.ID == "" {
		t.Error("expected generated ID")
	}
	if rec.Timestamp.IsZero() {
		t.Error("expected stamped timestamp")
	}
}

func TestMemoryStore_ListWithFilters(t *testing.T) {
	store := NewMemoryStore(0)

	records := []*Record{
		{
			ID:        "rec-1",
			Timestamp: time.Now().Add(-2 * time.Hour),
			Provider:  "ollama",
			Source:    "engine",
			TaskType:  "interactive",
			Success:   boolPtr(true),
		},
		{
			ID:        "rec-2",
			Timestamp: time.Now().Add(-1 * time.Hour),
			Provider:  "ollama",
			Source:    "stage_table",
			Stage:     "tool_selection",
			Success:   boolPtr(true),
		},
		{
			ID:        "rec-3",
			Timestamp: time.Now(),
			Provider:  "vllm",
			Source:    "engine",
			TaskType:  "batch",
			FellBack:  true,
			Success:   boolPtr(false),
		},
	}

	for _, rec := range records {
		if err := store.CreateRecord(rec); err != nil {
			t.Fatalf("CreateRecord failed: %v", err)
		}
	}

	// List all
	_, total, err := store.ListRecords(Filter{})
	if err != nil {
		t.Fatalf("ListRecords failed: %v", err)
	}
	if total != 3 {
		t.Errorf("Expected 3 records, got %d", total)
	}

	// Filter by provider
	provider := "ollama"
	_, total, err = store.ListRecords(Filter{Provider: &provider})
	if err != nil {
		t.Fatalf("ListRecords failed: %v", err)
	}
	if total != 2 {
		t.Errorf("Expected 2 records for ollama, got %d", total)
	}

	// Filter by source
	source := "stage_table"
	_, total, err = store.ListRecords(Filter{Source: &source})
	if err != nil {
		t.Fatalf("ListRecords failed: %v", err)
	}
	if total != 1 {
		t.Errorf("Expected 1 stage record, got %d", total)
	}

	// Filter by fallback use
	results, total, err := store.ListRecords(Filter{FellBack: boolPtr(true)})
	if err != nil {
		t.Fatalf("ListRecords failed: %v", err)
	}
	if total != 1 {
		t.Errorf("Expected 1 fallback record, got %d", total)
	}
	if len(results) > 0 && results[0].ID != "rec-3" {
		t.Errorf("Expected rec-3, got %s", results[0].ID)
	}

	// Filter by success
	_, total, err = store.ListRecords(Filter{Success: boolPtr(false)})
	if err != nil {
		t.Fatalf("ListRecords failed: %v", err)
	}
	if total != 1 {
		t.Errorf("Expected 1 failed record, got %d", total)
	}

	// Ordering: most recent first
	results, _, err = store.ListRecords(Filter{})
	if err != nil {
		t.Fatalf("ListRecords failed: %v", err)
	}
	if len(results) > 0 && results[0].ID != "rec-3" {
		t.Errorf("Expected most recent record first, got %s", results[0].ID)
	}
}

func TestMemoryStore_Pagination(t *testing.T) {
	store := NewMemoryStore(0)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		rec := &Record{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Provider:  "ollama",
			Source:    "engine",
		}
		if err := store.CreateRecord(rec); err != nil {
			t.Fatalf("CreateRecord failed: %v", err)
		}
	}

	page, total, err := store.ListRecords(Filter{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("ListRecords failed: %v", err)
	}
	if total != 5 {
		t.Errorf("Expected total 5, got %d", total)
	}
	if len(page) != 2 {
		t.Errorf("Expected page of 2, got %d", len(page))
	}

	// Offset past the end
	page, total, err = store.ListRecords(Filter{Limit: 2, Offset: 10})
	if err != nil {
		t.Fatalf("ListRecords failed: %v", err)
	}
	if total != 5 || len(page) != 0 {
		t.Errorf("Expected empty page with total 5, got %d records total %d", len(page), total)
	}
}

func TestMemoryStore_CapacityEviction(t *testing.T) {
	store := NewMemoryStore(3)

	base := time.Now().Add(-time.Hour)
	ids := []string{"a", "b", "c", "d", "e"}
	for i, id := range ids {
		rec := &Record{
			ID:        id,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Provider:  "ollama",
			Source:    "engine",
		}
		if err := store.CreateRecord(rec); err != nil {
			t.Fatalf("CreateRecord failed: %v", err)
		}
	}

	_, total, err := store.ListRecords(Filter{})
	if err != nil {
		t.Fatalf("ListRecords failed: %v", err)
	}
	if total != 3 {
		t.Errorf("Expected capacity to hold 3 records, got %d", total)
	}

	// Oldest two were evicted
	for _, id := range []string{"a", "b"} {
		rec, _ := store.GetRecord(id)
		if rec != nil {
			t.Errorf("Expected record %s to be evicted", id)
		}
	}
	rec, _ := store.GetRecord("e")
	if rec == nil {
		t.Error("Expected newest record to survive eviction")
	}
}

func TestMemoryStore_Stats(t *testing.T) {
	store := NewMemoryStore(0)

	records := []*Record{
		{ID: "1", Provider: "ollama", Source: "engine", Model: "llama3.2", Success: boolPtr(true)},
		{ID: "2", Provider: "ollama", Source: "engine", Model: "llama3.2", Success: boolPtr(true)},
		{ID: "3", Provider: "vllm", Source: "stage_table", Model: "meta-llama/Llama-2-7b-chat-hf", FellBack: true, Success: boolPtr(true)},
		{ID: "4", Provider: "vllm", Source: "engine", Model: "llama3.2", Success: boolPtr(false)},
	}

	for _, rec := range records {
		rec.Timestamp = time.Now()
		if err := store.CreateRecord(rec); err != nil {
			t.Fatalf("CreateRecord failed: %v", err)
		}
	}

	stats, err := store.GetStats(Filter{})
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}

	if stats.TotalDecisions != 4 {
		t.Errorf("Expected 4 total decisions, got %d", stats.TotalDecisions)
	}
	if stats.SuccessCount != 3 {
		t.Errorf("Expected 3 successes, got %d", stats.SuccessCount)
	}
	if stats.FailureCount != 1 {
		t.Errorf("Expected 1 failure, got %d", stats.FailureCount)
	}
	if stats.FallbackCount != 1 {
		t.Errorf("Expected 1 fallback, got %d", stats.FallbackCount)
	}
	if stats.UniqueModels != 2 {
		t.Errorf("Expected 2 unique models, got %d", stats.UniqueModels)
	}
	if stats.ProviderCounts["ollama"] != 2 {
		t.Errorf("Expected 2 ollama decisions, got %d", stats.ProviderCounts["ollama"])
	}
	if stats.SourceCounts["engine"] != 3 {
		t.Errorf("Expected 3 engine decisions, got %d", stats.SourceCounts["engine"])
	}
}

func TestMemoryStore_DeleteOldRecords(t *testing.T) {
	store := NewMemoryStore(0)

	oldRec := &Record{
		ID:        "old",
		Timestamp: time.Now().Add(-48 * time.Hour),
		Provider:  "ollama",
		Source:    "engine",
	}
	newRec := &Record{
		ID:        "new",
		Timestamp: time.Now(),
		Provider:  "ollama",
		Source:    "engine",
	}

	_ = store.CreateRecord(oldRec)
	_ = store.CreateRecord(newRec)

	deleted, err := store.DeleteRecords(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("DeleteRecords failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 deleted record, got %d", deleted)
	}

	remaining, total, _ := store.ListRecords(Filter{})
	if total != 1 {
		t.Errorf("Expected 1 remaining record, got %d", total)
	}
	if len(remaining) > 0 && remaining[0].ID != "new" {
		t.Errorf("Expected 'new' record to remain, got %s", remaining[0].ID)
	}
}

func TestRecorder_RecordOutcome(t *testing.T) {
	store := NewMemoryStore(0)
	recorder := NewRecorder(store, true)

	outcome := &router.Outcome{
		Decision: router.Decision{
			Provider:   "ollama",
			Fallback:   "vllm",
			Confidence: 0.42,
			Source:     router.SourceEngine,
			Reason:     "scored 25 across 2 candidates",
			Scores:     map[router.ProviderID]int{"ollama": 25, "vllm": 5},
		},
		Served:   "vllm",
		FellBack: true,
		Latency:  150 * time.Millisecond,
	}

	meta := RequestMeta{
		RequestID: "req-1",
		Kind:      "generate",
		TaskType:  "interactive",
		Model:     "llama3.2",
	}

	if err := recorder.RecordOutcome(meta, outcome, nil); err != nil {
		t.Fatalf("RecordOutcome failed: %v", err)
	}

	records, total, _ := store.ListRecords(Filter{})
	if total != 1 {
		t.Fatalf("Expected 1 record, got %d", total)
	}

	rec := records[0]
	if rec.Provider != "ollama" {
		t.Errorf("Provider = %s, want ollama", rec.Provider)
	}
	if rec.Served != "vllm" {
		t.Errorf("Served = %s, want vllm", rec.Served)
	}
	if !rec.FellBack {
		t.Error("expected FellBack to be true")
	}
	if rec.LatencyMs != 150 {
		t.Errorf("LatencyMs = %d, want 150", rec.LatencyMs)
	}
	if rec.Success == nil || !*rec.Success {
		t.Error("expected success outcome")
	}
	if rec.Scores["ollama"] != 25 {
		t.Errorf("Scores[ollama] = %d, want 25", rec.Scores["ollama"])
	}
	if rec.RequestID != "req-1" {
		t.Errorf("RequestID = %s, want req-1", rec.RequestID)
	}
}

func TestRecorder_RecordOutcome_Error(t *testing.T) {
	store := NewMemoryStore(0)
	recorder := NewRecorder(store, true)

	outcome := &router.Outcome{
		Decision: router.Decision{Provider: "ollama", Source: router.SourceEngine},
		Served:   "ollama",
	}

	err := recorder.RecordOutcome(RequestMeta{Kind: "chat"}, outcome, errors.New("backend overloaded"))
	if err != nil {
		t.Fatalf("RecordOutcome failed: %v", err)
	}

	records, _, _ := store.ListRecords(Filter{})
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	if records[0].Success == nil || *records[0].Success {
		t.Error("expected failure outcome")
	}
	if records[0].Error != "backend overloaded" {
		t.Errorf("Error = %q, want backend overloaded", records[0].Error)
	}
}

func TestRecorder_Disabled(t *testing.T) {
	store := NewMemoryStore(0)
	recorder := NewRecorder(store, false)

	err := recorder.Record(&Record{Provider: "ollama", Source: "engine"})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	_, total, _ := store.ListRecords(Filter{})
	if total != 0 {
		t.Errorf("Expected 0 records with recorder disabled, got %d", total)
	}
}

func TestRecorder_NilOutcome(t *testing.T) {
	store := NewMemoryStore(0)
	recorder := NewRecorder(store, true)

	if err := recorder.RecordOutcome(RequestMeta{}, nil, nil); err != nil {
		t.Fatalf("RecordOutcome failed: %v", err)
	}

	_, total, _ := store.ListRecords(Filter{})
	if total != 0 {
		t.Errorf("Expected 0 records for nil outcome, got %d", total)
	}
}
