// Package api provides the HTTP surface of the gateway.
// Route registration for all endpoints.
package api //nolint:revive // package name is intentional

import (
	"net/http"
)

// RegisterRoutes registers the Ollama-compatible data plane.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/generate", h.Generate)
	mux.HandleFunc("POST /api/chat", h.Chat)
	mux.HandleFunc("GET /api/tags", h.Tags)
	mux.HandleFunc("GET /api/status", h.Status)

	mux.HandleFunc("GET /health/live", h.HealthLive)
	mux.HandleFunc("GET /health/ready", h.HealthReady)
}

// RegisterRoutes registers the routing control plane. admin gates the
// mutating endpoints; a nil admin leaves them open.
func (h *ControlHandler) RegisterRoutes(mux *http.ServeMux, admin *AdminAuth) {
	if admin == nil {
		admin = NewAdminAuth("", false)
	}

	mux.HandleFunc("POST /v1/routing/decision", h.DryRunDecision)
	mux.HandleFunc("GET /v1/routing/metrics", h.GetMetrics)
	mux.HandleFunc("GET /v1/routing/availability", h.GetAvailability)
	mux.Handle("POST /v1/routing/reset", admin.Middleware(http.HandlerFunc(h.ResetMetrics)))

	mux.HandleFunc("GET /v1/routing/stages", h.GetStages)
	mux.HandleFunc("POST /v1/routing/stages/feedback", h.StageFeedback)
	mux.HandleFunc("POST /v1/routing/stages/plan", h.PlanStages)

	mux.HandleFunc("GET /v1/config/status", h.GetConfigStatus)
	mux.Handle("POST /v1/config/reload", admin.Middleware(http.HandlerFunc(h.ReloadConfig)))
}

// RegisterRoutes registers the audit query endpoints. admin gates the
// purge; a nil admin leaves it open.
func (h *AuditHandler) RegisterRoutes(mux *http.ServeMux, admin *AdminAuth) {
	if admin == nil {
		admin = NewAdminAuth("", false)
	}

	mux.HandleFunc("GET /v1/audit/decisions", h.ListDecisions)
	mux.HandleFunc("GET /v1/audit/decision", h.GetDecision)
	mux.HandleFunc("GET /v1/audit/stats", h.GetStats)
	mux.Handle("POST /v1/audit/purge", admin.Middleware(http.HandlerFunc(h.Purge)))
}
