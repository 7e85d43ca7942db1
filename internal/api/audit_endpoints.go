// Package api provides the HTTP surface of the gateway.
// Decision audit trail endpoints.
package api //nolint:revive // package name is intentional

import (
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/infergate/infergate/internal/audit"
)

// AuditHandler serves queries over the decision audit store.
type AuditHandler struct {
	store audit.Store
}

// NewAuditHandler creates the audit query handler. A nil store answers
// every request with 503.
func NewAuditHandler(store audit.Store) *AuditHandler {
	return &AuditHandler{store: store}
}

// ListDecisions handles GET /v1/audit/decisions.
func (h *AuditHandler) ListDecisions(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeControlError(w, r, http.StatusServiceUnavailable, "audit log is disabled")
		return
	}

	filter := parseAuditFilter(r)
	records, total, err := h.store.ListRecords(filter)
	if err != nil {
		writeControlError(w, r, http.StatusInternalServerError, "failed to list decision records")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"decisions": records,
		"total":     total,
		"limit":     filter.Limit,
		"offset":    filter.Offset,
	})
}

// GetDecision handles GET /v1/audit/decision.
func (h *AuditHandler) GetDecision(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeControlError(w, r, http.StatusServiceUnavailable, "audit log is disabled")
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		writeControlError(w, r, http.StatusBadRequest, "id parameter is required")
		return
	}

	rec, err := h.store.GetRecord(id)
	if err != nil {
		writeControlError(w, r, http.StatusInternalServerError, "failed to get decision record")
		return
	}
	if rec == nil {
		writeControlError(w, r, http.StatusNotFound, "decision record not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetStats handles GET /v1/audit/stats. The window defaults to the last
// 24 hours.
func (h *AuditHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeControlError(w, r, http.StatusServiceUnavailable, "audit log is disabled")
		return
	}

	filter := parseAuditFilter(r)
	if filter.StartTime.IsZero() {
		filter.StartTime = time.Now().Add(-24 * time.Hour)
	}
	if filter.EndTime.IsZero() {
		filter.EndTime = time.Now()
	}

	stats, err := h.store.GetStats(filter)
	if err != nil {
		writeControlError(w, r, http.StatusInternalServerError, "failed to get decision stats")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"stats":      stats,
		"start_time": filter.StartTime.Format(time.RFC3339),
		"end_time":   filter.EndTime.Format(time.RFC3339),
	})
}

type purgeRequest struct {
	OlderThanDays int `json:"older_than_days"`
}

// Purge handles POST /v1/audit/purge. It deletes records older than the
// given number of days.
func (h *AuditHandler) Purge(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeControlError(w, r, http.StatusServiceUnavailable, "audit log is disabled")
		return
	}

	var req purgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeControlError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OlderThanDays <= 0 {
		writeControlError(w, r, http.StatusBadRequest, "older_than_days must be positive")
		return
	}

	cutoff := time.Now().Add(-time.Duration(req.OlderThanDays) * 24 * time.Hour)
	deleted, err := h.store.DeleteRecords(cutoff)
	if err != nil {
		writeControlError(w, r, http.StatusInternalServerError, "failed to delete decision records")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"deleted_count": deleted,
		"cutoff_date":   cutoff.Format(time.RFC3339),
	})
}

// parseAuditFilter reads the query-parameter filter shared by the audit
// endpoints.
func parseAuditFilter(r *http.Request) audit.Filter {
	query := r.URL.Query()
	filter := audit.Filter{}

	if provider := query.Get("provider"); provider != "" {
		filter.Provider = &provider
	}
	if source := query.Get("source"); source != "" {
		filter.Source = &source
	}
	if taskType := query.Get("task_type"); taskType != "" {
		filter.TaskType = &taskType
	}
	if stage := query.Get("stage"); stage != "" {
		filter.Stage = &stage
	}
	if model := query.Get("model"); model != "" {
		filter.Model = &model
	}
	if fellBackStr := query.Get("fell_back"); fellBackStr != "" {
		fellBack := fellBackStr == "true"
		filter.FellBack = &fellBack
	}
	if successStr := query.Get("success"); successStr != "" {
		success := successStr == "true"
		filter.Success = &success
	}

	if startStr := query.Get("start_time"); startStr != "" {
		if t, err := time.Parse(time.RFC3339, startStr); err == nil {
			filter.StartTime = t
		}
	}
	if endStr := query.Get("end_time"); endStr != "" {
		if t, err := time.Parse(time.RFC3339, endStr); err == nil {
			filter.EndTime = t
		}
	}

	if limit, err := strconv.Atoi(query.Get("limit")); err == nil && limit > 0 {
		filter.Limit = limit
	} else {
		filter.Limit = 50
	}
	if offset, err := strconv.Atoi(query.Get("offset")); err == nil && offset >= 0 {
		filter.Offset = offset
	}
	return filter
}
