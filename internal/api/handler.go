// Package api provides the HTTP surface of the gateway: the
// Ollama-compatible data plane under /api and the routing control plane
// under /v1.
package api //nolint:revive // package name is intentional

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel/trace"

	"github.com/infergate/infergate"
	"github.com/infergate/infergate/internal/audit"
	"github.com/infergate/infergate/internal/httputil"
	"github.com/infergate/infergate/internal/metrics"
	"github.com/infergate/infergate/internal/observability"
	igerrors "github.com/infergate/infergate/pkg/errors"
	"github.com/infergate/infergate/pkg/router"
	"github.com/infergate/infergate/pkg/types"
)

// Routing headers on the data plane. Requests may carry hints; responses
// report how the request was served.
const (
	TaskTypeHeader = "X-Infergate-Task-Type"
	StageHeader    = "X-Infergate-Stage"
	ProviderHeader = "X-Infergate-Provider"
	FallbackHeader = "X-Infergate-Fallback"
)

// HandlerConfig wires the data-plane handler's collaborators. Client and
// Logger are required; the rest are optional sinks.
type HandlerConfig struct {
	Client   *infergate.Client
	Recorder *audit.Recorder
	Archiver *observability.DecisionArchiver
	Tracer   trace.Tracer
	Logger   *slog.Logger

	// Swapper supersedes Client when set. Handlers then follow config
	// reloads without dropping in-flight requests.
	Swapper *ClientSwapper

	// MaxBodyBytes caps inbound request bodies. Zero applies the default.
	MaxBodyBytes int64
}

// Handler serves the Ollama-compatible data plane and routes each request
// through the decision engine.
type Handler struct {
	clients  *ClientSwapper
	recorder *audit.Recorder
	archiver *observability.DecisionArchiver
	tracer   trace.Tracer
	logger   *slog.Logger
	maxBody  int64
}

// NewHandler creates the data-plane handler.
func NewHandler(cfg *HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = httputil.DefaultMaxRequestBodyBytes
	}
	clients := cfg.Swapper
	if clients == nil {
		clients = NewClientSwapper(cfg.Client)
	}
	return &Handler{
		clients:  clients,
		recorder: cfg.Recorder,
		archiver: cfg.Archiver,
		tracer:   cfg.Tracer,
		logger:   logger,
		maxBody:  maxBody,
	}
}

// Generate handles POST /api/generate.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	var req types.GenerateRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if req.Model == "" {
		writeWireError(w, http.StatusBadRequest, "model is required")
		return
	}

	client, release := h.clients.Acquire()
	defer release()

	meta := h.meta(r, "generate", req.Model, types.WantsStream(req.Stream))
	ctx, outcome := h.routingContext(r, meta)

	var span trace.Span
	if h.tracer != nil {
		ctx, span = observability.StartRouteSpan(ctx, h.tracer, "generate", observability.RouteSpanAttributes{
			Model:    meta.Model,
			Stream:   meta.Stream,
			TaskType: meta.TaskType,
			Stage:    meta.Stage,
		})
		defer span.End()
	}

	if meta.Stream {
		h.relayStream(ctx, w, meta, outcome, span, func(ctx context.Context, fn func([]byte) error) error {
			_, err := client.StreamGenerate(ctx, &req, fn)
			return err
		})
		return
	}

	resp, err := client.Generate(ctx, &req)
	h.observe(span, meta, outcome, err)
	if err != nil {
		writeRouterError(w, err)
		return
	}
	setRoutingHeaders(w.Header(), outcome)
	metrics.RecordTokens(string(outcome.Served), meta.Model, resp.PromptEvalCount, resp.EvalCount)
	if span != nil {
		observability.RecordUsage(span, resp.PromptEvalCount, resp.EvalCount)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Chat handles POST /api/chat.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req types.ChatRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if req.Model == "" {
		writeWireError(w, http.StatusBadRequest, "model is required")
		return
	}
	if len(req.Messages) == 0 {
		writeWireError(w, http.StatusBadRequest, "messages is required")
		return
	}

	client, release := h.clients.Acquire()
	defer release()

	meta := h.meta(r, "chat", req.Model, types.WantsStream(req.Stream))
	ctx, outcome := h.routingContext(r, meta)

	var span trace.Span
	if h.tracer != nil {
		ctx, span = observability.StartRouteSpan(ctx, h.tracer, "chat", observability.RouteSpanAttributes{
			Model:    meta.Model,
			Stream:   meta.Stream,
			TaskType: meta.TaskType,
			Stage:    meta.Stage,
		})
		defer span.End()
	}

	if meta.Stream {
		h.relayStream(ctx, w, meta, outcome, span, func(ctx context.Context, fn func([]byte) error) error {
			_, err := client.StreamChat(ctx, &req, fn)
			return err
		})
		return
	}

	resp, err := client.Chat(ctx, &req)
	h.observe(span, meta, outcome, err)
	if err != nil {
		writeRouterError(w, err)
		return
	}
	setRoutingHeaders(w.Header(), outcome)
	metrics.RecordTokens(string(outcome.Served), meta.Model, resp.PromptEvalCount, resp.EvalCount)
	if span != nil {
		observability.RecordUsage(span, resp.PromptEvalCount, resp.EvalCount)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Tags handles GET /api/tags with the merged model listings of every
// reachable backend.
func (h *Handler) Tags(w http.ResponseWriter, r *http.Request) {
	client, release := h.clients.Acquire()
	defer release()

	models, err := client.ListModels(r.Context())
	if err != nil {
		writeRouterError(w, err)
		return
	}
	if models == nil {
		models = []types.ModelInfo{}
	}
	writeJSON(w, http.StatusOK, types.TagsResponse{Models: models})
}

// Status handles GET /api/status with per-backend reachability and the
// performance ledger snapshot.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	client, release := h.clients.Acquire()
	defer release()

	providers := client.ProviderStatus(r.Context())
	performance, err := client.PerformanceMetrics(r.Context())
	if err != nil {
		writeWireError(w, http.StatusInternalServerError, "failed to read performance metrics")
		return
	}

	status := "degraded"
	for _, p := range providers {
		if p.Available {
			status = "ok"
			break
		}
	}
	writeJSON(w, http.StatusOK, types.StatusResponse{
		Status:      status,
		Providers:   providers,
		Performance: performance,
	})
}

// HealthLive handles GET /health/live.
func (h *Handler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthReady handles GET /health/ready. Ready means at least one backend
// is reachable.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	client, release := h.clients.Acquire()
	defer release()

	for _, p := range client.ProviderStatus(r.Context()) {
		if p.Available {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
}

// relayStream pipes a backend NDJSON stream to the client, emitting the
// routing headers just before the first chunk.
func (h *Handler) relayStream(ctx context.Context, w http.ResponseWriter, meta audit.RequestMeta, outcome *router.Outcome, span trace.Span, call func(context.Context, func([]byte) error) error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeWireError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	wrote := false
	err := call(ctx, func(chunk []byte) error {
		if !wrote {
			wrote = true
			setRoutingHeaders(w.Header(), outcome)
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.WriteHeader(http.StatusOK)
		}
		if _, werr := w.Write(chunk); werr != nil {
			return werr
		}
		if _, werr := w.Write([]byte("\n")); werr != nil {
			return werr
		}
		flusher.Flush()
		return nil
	})

	h.observe(span, meta, outcome, err)
	if err == nil {
		return
	}
	if !wrote {
		writeRouterError(w, err)
		return
	}
	// Headers are gone; all we can do is cut the stream and log.
	h.logger.Warn("stream aborted mid-relay",
		"request_id", meta.RequestID,
		"provider", outcome.Served,
		"model", meta.Model,
		"error", err,
	)
}

// routingContext derives the request context with the caller's routing
// hints and an outcome carrier installed.
func (h *Handler) routingContext(r *http.Request, meta audit.RequestMeta) (context.Context, *router.Outcome) {
	ctx := r.Context()
	ctx = router.WithTaskType(ctx, meta.TaskType)
	ctx = router.WithStage(ctx, meta.Stage)
	return router.WithOutcomeCapture(ctx)
}

// meta collects the request-side audit fields.
func (h *Handler) meta(r *http.Request, kind, model string, stream bool) audit.RequestMeta {
	return audit.RequestMeta{
		RequestID: requestID(r),
		ClientIP:  clientKey(r),
		Kind:      kind,
		TaskType:  r.Header.Get(TaskTypeHeader),
		Stage:     r.Header.Get(StageHeader),
		Model:     model,
		Stream:    stream,
	}
}

// observe feeds one finished request into every outcome sink: audit store,
// Prometheus, the decision archive and the active span.
func (h *Handler) observe(span trace.Span, meta audit.RequestMeta, o *router.Outcome, callErr error) {
	if o.Decision.Provider != "" {
		metrics.RecordDecision(string(o.Decision.Provider), string(o.Decision.Source), meta.TaskType, o.Decision.Confidence)
	}
	if o.FellBack {
		metrics.RecordFallback(string(o.Decision.Provider), string(o.Served))
	}
	if o.Served != "" {
		metrics.RecordUpstream(string(o.Served), meta.Model, callErr == nil, o.Latency)
	}
	if callErr != nil {
		metrics.RecordError(string(o.Decision.Provider), errorType(callErr))
	}

	if span != nil {
		observability.RecordDecision(span, string(o.Decision.Provider), o.Decision.Confidence, string(o.Decision.Fallback), string(o.Decision.Source))
		if callErr != nil {
			observability.RecordError(span, callErr)
		}
	}

	if h.recorder != nil {
		if err := h.recorder.RecordOutcome(meta, o, callErr); err != nil {
			h.logger.Warn("audit record failed", "request_id", meta.RequestID, "error", err)
		}
	}
	if h.archiver != nil {
		h.archiver.Enqueue(archiveEntry(meta, o, callErr))
	}
}

// decodeBody reads and unmarshals the request body, writing the wire error
// itself on failure.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	defer r.Body.Close()
	body, err := httputil.ReadLimitedBody(r.Body, h.maxBody)
	if err != nil {
		if errors.Is(err, httputil.ErrBodyTooLarge) {
			writeWireError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeWireError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, out); err != nil {
		writeWireError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

// setRoutingHeaders reports which backend served the request.
func setRoutingHeaders(header http.Header, o *router.Outcome) {
	served := o.Served
	if served == "" {
		served = o.Decision.Provider
	}
	if served == "" {
		return
	}
	header.Set(ProviderHeader, string(served))
	if served != o.Decision.Provider {
		header.Set(FallbackHeader, "true")
	}
}

// errorType classifies an error for metric labels.
func errorType(err error) string {
	var rerr *igerrors.RouterError
	if errors.As(err, &rerr) {
		return string(rerr.Code)
	}
	return "internal"
}

// archiveEntry converts one outcome into its archive form.
func archiveEntry(meta audit.RequestMeta, o *router.Outcome, callErr error) observability.ArchiveEntry {
	success := callErr == nil
	entry := observability.ArchiveEntry{
		Timestamp:  time.Now().UTC(),
		RequestID:  meta.RequestID,
		Kind:       meta.Kind,
		TaskType:   meta.TaskType,
		Stage:      meta.Stage,
		Model:      meta.Model,
		Provider:   string(o.Decision.Provider),
		Fallback:   string(o.Decision.Fallback),
		Confidence: o.Decision.Confidence,
		Source:     string(o.Decision.Source),
		Reason:     o.Decision.Reason,
		LatencyMs:  o.Latency.Milliseconds(),
		Success:    &success,
	}
	if callErr != nil {
		entry.Error = callErr.Error()
	}
	return entry
}
