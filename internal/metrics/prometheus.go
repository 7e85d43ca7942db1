// Package metrics provides Prometheus metrics collection for the routing
// gateway. It tracks routing decisions, fallbacks, backend health probes,
// upstream latencies, and token throughput.
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "infergate"
)

// LatencyBuckets defines histogram buckets for upstream latency metrics
// (in seconds). Local backends answer in well under a second; batch models
// on saturated GPUs can take minutes.
var LatencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0,
}

// ConfidenceBuckets defines histogram buckets for decision confidence,
// which is always in [0, 1].
var ConfidenceBuckets = prometheus.LinearBuckets(0, 0.1, 11)

// =============================================================================
// Routing Metrics
// =============================================================================

var (
	// RoutingDecisions counts routing decisions by winning provider.
	RoutingDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_decisions_total",
			Help:      "Total routing decisions by provider, source, and task type",
		},
		[]string{"provider", "source", "task_type"},
	)

	// RoutingFallbacks counts requests served by the fallback provider.
	RoutingFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_fallbacks_total",
			Help:      "Total requests served by the fallback provider",
		},
		[]string{"primary", "fallback"},
	)

	// DecisionConfidence tracks the confidence distribution of decisions.
	DecisionConfidence = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "routing_decision_confidence",
			Help:      "Decision confidence distribution by source",
			Buckets:   ConfidenceBuckets,
		},
		[]string{"source"},
	)
)

// =============================================================================
// Upstream Metrics
// =============================================================================

var (
	// UpstreamRequests counts backend calls by outcome.
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Total backend requests by provider, model, and outcome",
		},
		[]string{"provider", "model", "outcome"},
	)

	// UpstreamLatency tracks backend call latency.
	UpstreamLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_latency_seconds",
			Help:      "Backend request latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"provider", "model"},
	)

	// TokenUsage tracks token consumption by type.
	TokenUsage = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_usage_total",
			Help:      "Total token usage",
		},
		[]string{"provider", "model", "type"}, // type: input, output
	)

	// UpstreamErrors counts errors by type.
	UpstreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Total upstream errors by type",
		},
		[]string{"provider", "error_type"},
	)
)

// =============================================================================
// Availability Metrics
// =============================================================================

var (
	// AvailabilityProbes counts reachability probes by result.
	AvailabilityProbes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "availability_probes_total",
			Help:      "Total availability probes by provider and result",
		},
		[]string{"provider", "result"},
	)

	// ProviderAvailable reports the last probed reachability per provider.
	ProviderAvailable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_available",
			Help:      "Provider reachability (1=available, 0=unavailable)",
		},
		[]string{"provider"},
	)

	// ProviderSuccessRate mirrors the ledger's smoothed success rate.
	ProviderSuccessRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_success_rate",
			Help:      "Smoothed provider success rate from the performance ledger",
		},
		[]string{"provider"},
	)

	// ProviderAvgLatency mirrors the ledger's smoothed latency.
	ProviderAvgLatency = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_avg_latency_ms",
			Help:      "Smoothed provider latency in milliseconds from the performance ledger",
		},
		[]string{"provider"},
	)
)

// =============================================================================
// Stage Metrics
// =============================================================================

var (
	// StageOutcomes counts reported pipeline stage outcomes.
	StageOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_outcomes_total",
			Help:      "Total reported pipeline stage outcomes",
		},
		[]string{"stage", "outcome"},
	)

	// StageConfidence reports the current confidence per pipeline stage.
	StageConfidence = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_confidence",
			Help:      "Current stage plan confidence",
		},
		[]string{"stage"},
	)
)

// RecordDecision records one routing decision.
func RecordDecision(provider, source, taskType string, confidence float64) {
	RoutingDecisions.WithLabelValues(provider, source, taskType).Inc()
	DecisionConfidence.WithLabelValues(source).Observe(confidence)
}

// RecordFallback records one request served by the fallback provider.
func RecordFallback(primary, fallback string) {
	RoutingFallbacks.WithLabelValues(primary, fallback).Inc()
}

// RecordUpstream records one completed backend call.
func RecordUpstream(provider, model string, success bool, latency time.Duration) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	model = sanitizeModelLabel(model)
	UpstreamRequests.WithLabelValues(provider, model, outcome).Inc()
	UpstreamLatency.WithLabelValues(provider, model).Observe(latency.Seconds())
}

// RecordTokens records token usage metrics.
func RecordTokens(provider, model string, inputTokens, outputTokens int) {
	model = sanitizeModelLabel(model)
	if inputTokens > 0 {
		TokenUsage.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		TokenUsage.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
}

// RecordError records an upstream error.
func RecordError(provider, errorType string) {
	UpstreamErrors.WithLabelValues(provider, errorType).Inc()
}

// RecordProbe records one availability probe and updates the reachability
// gauge with its verdict.
func RecordProbe(provider string, available bool) {
	result := "up"
	value := 1.0
	if !available {
		result = "down"
		value = 0
	}
	AvailabilityProbes.WithLabelValues(provider, result).Inc()
	ProviderAvailable.WithLabelValues(provider).Set(value)
}

// SetProviderPerformance publishes one ledger snapshot row as gauges.
func SetProviderPerformance(provider string, successRate, avgLatencyMs float64) {
	ProviderSuccessRate.WithLabelValues(provider).Set(successRate)
	ProviderAvgLatency.WithLabelValues(provider).Set(avgLatencyMs)
}

// RecordStageOutcome records one reported stage outcome.
func RecordStageOutcome(stage string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	StageOutcomes.WithLabelValues(stage, outcome).Inc()
}

// SetStageConfidence publishes the current confidence for one stage.
func SetStageConfidence(stage string, confidence float64) {
	StageConfidence.WithLabelValues(stage).Set(confidence)
}

const maxModelLabelLen = 64

// sanitizeModelLabel bounds model label values. Model names arrive from
// request bodies, so anything outside a safe charset is squashed before it
// becomes a Prometheus series.
func sanitizeModelLabel(model string) string {
	model = strings.TrimSpace(model)
	if model == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(min(len(model), maxModelLabelLen))
	for _, r := range model {
		if (r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') ||
			r == '-' || r == '_' || r == '.' || r == ':' || r == '/' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
		if b.Len() >= maxModelLabelLen {
			break
		}
	}

	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "unknown"
	}
	return out
}
