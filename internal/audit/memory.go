package audit

import (
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store using a bounded in-memory buffer. Suitable
// for development and single-node deployments; use PostgresStore when
// records must survive restarts.
type MemoryStore struct {
	mu       sync.RWMutex
	records  []*Record
	capacity int
}

// NewMemoryStore creates an in-memory store. Once capacity records are
// held, each insert evicts the oldest. A capacity of zero means unbounded.
func NewMemoryStore(capacity int) *MemoryStore {
	return &MemoryStore{
		records:  make([]*Record, 0),
		capacity: capacity,
	}
}

// CreateRecord persists a new decision record.
func (s *MemoryStore) CreateRecord(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = generateID()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	recCopy := *rec
	s.records = append(s.records, &recCopy)

	if s.capacity > 0 && len(s.records) > s.capacity {
		overflow := len(s.records) - s.capacity
		s.records = append(s.records[:0], s.records[overflow:]...)
	}

	return nil
}

// GetRecord retrieves a single record by ID.
func (s *MemoryStore) GetRecord(id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.records {
		if rec.ID == id {
			recCopy := *rec
			return &recCopy, nil
		}
	}

	return nil, nil
}

// ListRecords returns records matching the filter, newest first.
func (s *MemoryStore) ListRecords(filter Filter) ([]*Record, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var filtered []*Record
	for _, rec := range s.records {
		if !matchesFilter(rec, filter) {
			continue
		}
		recCopy := *rec
		filtered = append(filtered, &recCopy)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Timestamp.After(filtered[j].Timestamp)
	})

	total := int64(len(filtered))

	if filter.Offset >= len(filtered) {
		return []*Record{}, total, nil
	}
	end := filter.Offset + filter.Limit
	if end > len(filtered) || filter.Limit == 0 {
		end = len(filtered)
	}

	return filtered[filter.Offset:end], total, nil
}

// matchesFilter checks if a record matches the given filter.
func matchesFilter(rec *Record, filter Filter) bool {
	if !filter.StartTime.IsZero() && rec.Timestamp.Before(filter.StartTime) {
		return false
	}
	if !filter.EndTime.IsZero() && rec.Timestamp.After(filter.EndTime) {
		return false
	}

	if filter.Provider != nil && rec.Provider != *filter.Provider {
		return false
	}
	if filter.Source != nil && rec.Source != *filter.Source {
		return false
	}
	if filter.TaskType != nil && rec.TaskType != *filter.TaskType {
		return false
	}
	if filter.Stage != nil && rec.Stage != *filter.Stage {
		return false
	}
	if filter.Model != nil && rec.Model != *filter.Model {
		return false
	}

	if filter.FellBack != nil && rec.FellBack != *filter.FellBack {
		return false
	}
	if filter.Success != nil && (rec.Success == nil || *rec.Success != *filter.Success) {
		return false
	}

	return true
}

// GetStats returns aggregated statistics over matching records.
func (s *MemoryStore) GetStats(filter Filter) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{
		ProviderCounts: make(map[string]int64),
		SourceCounts:   make(map[string]int64),
	}

	models := make(map[string]bool)

	for _, rec := range s.records {
		if !matchesFilter(rec, filter) {
			continue
		}

		stats.TotalDecisions++

		if rec.Success != nil {
			if *rec.Success {
				stats.SuccessCount++
			} else {
				stats.FailureCount++
			}
		}
		if rec.FellBack {
			stats.FallbackCount++
		}

		if rec.Model != "" {
			models[rec.Model] = true
		}
		stats.ProviderCounts[rec.Provider]++
		stats.SourceCounts[rec.Source]++
	}

	stats.UniqueModels = len(models)

	return stats, nil
}

// DeleteRecords deletes records older than the specified time.
func (s *MemoryStore) DeleteRecords(olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var remaining []*Record
	var deleted int64

	for _, rec := range s.records {
		if rec.Timestamp.Before(olderThan) {
			deleted++
		} else {
			remaining = append(remaining, rec)
		}
	}

	s.records = remaining
	return deleted, nil
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)
