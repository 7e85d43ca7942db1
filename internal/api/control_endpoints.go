// Package api provides the HTTP surface of the gateway.
// Routing control plane: dry-run decisions, ledger inspection, stage
// table management, configuration status.
package api //nolint:revive // package name is intentional

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/infergate/infergate"
	"github.com/infergate/infergate/internal/config"
	"github.com/infergate/infergate/internal/metrics"
	igerrors "github.com/infergate/infergate/pkg/errors"
	"github.com/infergate/infergate/pkg/router"
)

// ControlHandler serves the routing control plane under /v1.
type ControlHandler struct {
	clients *ClientSwapper
	manager *config.Manager
	logger  *slog.Logger
}

// NewControlHandler creates the control-plane handler. Acquiring the client
// through the swapper keeps inspection endpoints coherent across config
// reloads. manager may be nil when the gateway runs without a config file.
func NewControlHandler(clients *ClientSwapper, manager *config.Manager, logger *slog.Logger) *ControlHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ControlHandler{
		clients: clients,
		manager: manager,
		logger:  logger,
	}
}

type decisionRequest struct {
	Kind      string `json:"kind"`
	Model     string `json:"model,omitempty"`
	TaskType  string `json:"task_type,omitempty"`
	UsesTools bool   `json:"uses_tools,omitempty"`
	Stage     string `json:"stage,omitempty"`
}

type stageFeedbackRequest struct {
	Stage     string `json:"stage"`
	Success   bool   `json:"success"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
}

type stagePlanRequest struct {
	Stages []string `json:"stages"`
}

// DryRunDecision handles POST /v1/routing/decision. It runs the decision
// engine without executing anything, so operators can ask where a request
// would go and why.
func (h *ControlHandler) DryRunDecision(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeControlError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Kind == "" {
		writeControlError(w, r, http.StatusBadRequest, "kind is required")
		return
	}

	routing := router.Request{
		Kind:      router.RequestKind(req.Kind),
		Model:     req.Model,
		TaskType:  req.TaskType,
		UsesTools: req.UsesTools,
	}

	client, release := h.clients.Acquire()
	defer release()

	var (
		decision router.Decision
		err      error
	)
	if req.Stage != "" {
		decision, err = client.RouteStage(r.Context(), req.Stage, routing)
	} else {
		decision, err = client.Route(r.Context(), routing)
	}
	if err != nil {
		writeControlError(w, r, routerErrorStatus(err), routerErrorMessage(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": decision})
}

// GetMetrics handles GET /v1/routing/metrics with the ledger snapshot.
func (h *ControlHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	client, release := h.clients.Acquire()
	defer release()

	snapshot, err := client.PerformanceMetrics(r.Context())
	if err != nil {
		writeControlError(w, r, http.StatusInternalServerError, "failed to read performance metrics")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": snapshot})
}

// GetAvailability handles GET /v1/routing/availability.
func (h *ControlHandler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	client, release := h.clients.Acquire()
	defer release()

	writeJSON(w, http.StatusOK, map[string]any{"data": client.ProviderStatus(r.Context())})
}

// ResetMetrics handles POST /v1/routing/reset. It reseeds the ledger and
// clears cached availability verdicts.
func (h *ControlHandler) ResetMetrics(w http.ResponseWriter, r *http.Request) {
	client, release := h.clients.Acquire()
	defer release()

	if err := client.ResetMetrics(r.Context()); err != nil {
		writeControlError(w, r, http.StatusInternalServerError, "failed to reset performance metrics")
		return
	}
	h.logger.Info("performance metrics reset", "request_id", requestID(r))
	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]bool{"reset": true}})
}

// GetStages handles GET /v1/routing/stages with the current stage table.
func (h *ControlHandler) GetStages(w http.ResponseWriter, _ *http.Request) {
	client, release := h.clients.Acquire()
	defer release()

	writeJSON(w, http.StatusOK, map[string]any{"data": client.StagePlans()})
}

// StageFeedback handles POST /v1/routing/stages/feedback. One outcome
// nudges the stage's confidence; the recommended provider never changes.
func (h *ControlHandler) StageFeedback(w http.ResponseWriter, r *http.Request) {
	var req stageFeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeControlError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Stage == "" {
		writeControlError(w, r, http.StatusBadRequest, "stage is required")
		return
	}

	client, release := h.clients.Acquire()
	defer release()

	if _, ok := plan(client, req.Stage); !ok {
		writeControlError(w, r, http.StatusNotFound, "unknown stage")
		return
	}

	client.RecordStageOutcome(req.Stage, req.Success, time.Duration(req.LatencyMs)*time.Millisecond)
	metrics.RecordStageOutcome(req.Stage, req.Success)

	updated, _ := plan(client, req.Stage)
	metrics.SetStageConfidence(updated.Stage, updated.Confidence)
	writeJSON(w, http.StatusOK, map[string]any{"data": updated})
}

// PlanStages handles POST /v1/routing/stages/plan. It resolves several
// stages at once and reports which could share a batched provider call.
func (h *ControlHandler) PlanStages(w http.ResponseWriter, r *http.Request) {
	var req stagePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeControlError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Stages) == 0 {
		writeControlError(w, r, http.StatusBadRequest, "stages is required")
		return
	}

	client, release := h.clients.Acquire()
	defer release()

	decisions, err := client.OptimizeBatch(r.Context(), req.Stages)
	if err != nil {
		writeControlError(w, r, routerErrorStatus(err), routerErrorMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": decisions})
}

type configReloadRequest struct {
	ExpectedChecksum string `json:"expected_checksum,omitempty"`
}

// GetConfigStatus handles GET /v1/config/status.
func (h *ControlHandler) GetConfigStatus(w http.ResponseWriter, r *http.Request) {
	if h.manager == nil {
		writeControlError(w, r, http.StatusServiceUnavailable, "config manager not available")
		return
	}
	writeJSON(w, http.StatusOK, h.manager.Status())
}

// ReloadConfig handles POST /v1/config/reload. An expected checksum guards
// against reloading a file someone else already changed.
func (h *ControlHandler) ReloadConfig(w http.ResponseWriter, r *http.Request) {
	if h.manager == nil {
		writeControlError(w, r, http.StatusServiceUnavailable, "config manager not available")
		return
	}

	var req configReloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeControlError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	before := h.manager.Status()
	if req.ExpectedChecksum != "" && req.ExpectedChecksum != before.Checksum {
		writeControlError(w, r, http.StatusConflict, "config checksum mismatch")
		return
	}

	if err := h.manager.Reload(); err != nil {
		h.logger.Error("config reload failed", "request_id", requestID(r), "error", err)
		writeControlError(w, r, http.StatusInternalServerError, "configuration reload failed")
		return
	}

	after := h.manager.Status()
	h.logger.Info("config reloaded",
		"request_id", requestID(r),
		"previous_checksum", before.Checksum,
		"checksum", after.Checksum,
	)
	writeJSON(w, http.StatusOK, after)
}

func plan(client *infergate.Client, stage string) (router.StagePlan, bool) {
	for _, p := range client.StagePlans() {
		if p.Stage == stage {
			return p, true
		}
	}
	return router.StagePlan{}, false
}

// routerErrorStatus maps a routing failure to a control-plane status code.
func routerErrorStatus(err error) int {
	var rerr *igerrors.RouterError
	if errors.As(err, &rerr) {
		return rerr.HTTPStatusCode()
	}
	return http.StatusInternalServerError
}

// routerErrorMessage extracts the operator-facing message. Messages not in
// the translation table pass through as-is.
func routerErrorMessage(err error) string {
	var rerr *igerrors.RouterError
	if errors.As(err, &rerr) {
		return rerr.Message
	}
	return "routing failed"
}
