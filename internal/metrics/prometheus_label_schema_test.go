package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func describeLabels(t *testing.T, c prometheus.Collector) []string {
	t.Helper()

	descCh := make(chan *prometheus.Desc, 8)
	c.Describe(descCh)
	close(descCh)

	var desc *prometheus.Desc
	for d := range descCh {
		desc = d
		break
	}
	if desc == nil {
		t.Fatalf("no descriptor returned")
	}

	s := desc.String()
	start := strings.Index(s, "variableLabels: {")
	if start < 0 {
		return nil
	}
	start += len("variableLabels: {")
	end := strings.Index(s[start:], "}")
	if end < 0 {
		t.Fatalf("failed to parse descriptor: %s", s)
	}
	raw := strings.TrimSpace(s[start : start+end])
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func assertLabelsEqual(t *testing.T, got, want []string) {
	t.Helper()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("labels mismatch\ngot:  %v\nwant: %v", got, want)
	}
}

func TestPrometheusLabelSchema_LowCardinality(t *testing.T) {
	assertLabelsEqual(t, describeLabels(t, RoutingDecisions), []string{
		"provider", "source", "task_type",
	})

	assertLabelsEqual(t, describeLabels(t, RoutingFallbacks), []string{
		"primary", "fallback",
	})

	assertLabelsEqual(t, describeLabels(t, UpstreamRequests), []string{
		"provider", "model", "outcome",
	})

	assertLabelsEqual(t, describeLabels(t, AvailabilityProbes), []string{
		"provider", "result",
	})

	assertLabelsEqual(t, describeLabels(t, StageOutcomes), []string{
		"stage", "outcome",
	})

	assertLabelsEqual(t, describeLabels(t, HTTPRequests), []string{
		"method", "route", "status",
	})
}

func TestRecordDecision(t *testing.T) {
	before := testutil.ToFloat64(RoutingDecisions.WithLabelValues("ollama", "engine", "interactive"))

	RecordDecision("ollama", "engine", "interactive", 0.42)

	after := testutil.ToFloat64(RoutingDecisions.WithLabelValues("ollama", "engine", "interactive"))
	require.Equal(t, before+1, after)
}

func TestRecordFallback(t *testing.T) {
	before := testutil.ToFloat64(RoutingFallbacks.WithLabelValues("ollama", "vllm"))

	RecordFallback("ollama", "vllm")

	after := testutil.ToFloat64(RoutingFallbacks.WithLabelValues("ollama", "vllm"))
	require.Equal(t, before+1, after)
}

func TestRecordUpstream_OutcomeSplit(t *testing.T) {
	okBefore := testutil.ToFloat64(UpstreamRequests.WithLabelValues("vllm", "llama3.2", "success"))
	errBefore := testutil.ToFloat64(UpstreamRequests.WithLabelValues("vllm", "llama3.2", "error"))

	RecordUpstream("vllm", "llama3.2", true, 120*time.Millisecond)
	RecordUpstream("vllm", "llama3.2", false, 80*time.Millisecond)

	require.Equal(t, okBefore+1, testutil.ToFloat64(UpstreamRequests.WithLabelValues("vllm", "llama3.2", "success")))
	require.Equal(t, errBefore+1, testutil.ToFloat64(UpstreamRequests.WithLabelValues("vllm", "llama3.2", "error")))
}

func TestRecordTokens_SkipsZero(t *testing.T) {
	inBefore := testutil.ToFloat64(TokenUsage.WithLabelValues("ollama", "tok-model", "input"))

	RecordTokens("ollama", "tok-model", 25, 0)

	require.Equal(t, inBefore+25, testutil.ToFloat64(TokenUsage.WithLabelValues("ollama", "tok-model", "input")))
	require.Equal(t, 0.0, testutil.ToFloat64(TokenUsage.WithLabelValues("ollama", "tok-model", "output")))
}

func TestRecordProbe_SetsGauge(t *testing.T) {
	RecordProbe("probe-target", true)
	require.Equal(t, 1.0, testutil.ToFloat64(ProviderAvailable.WithLabelValues("probe-target")))

	RecordProbe("probe-target", false)
	require.Equal(t, 0.0, testutil.ToFloat64(ProviderAvailable.WithLabelValues("probe-target")))
}

func TestSetProviderPerformance(t *testing.T) {
	SetProviderPerformance("perf-target", 0.973, 732.5)

	require.Equal(t, 0.973, testutil.ToFloat64(ProviderSuccessRate.WithLabelValues("perf-target")))
	require.Equal(t, 732.5, testutil.ToFloat64(ProviderAvgLatency.WithLabelValues("perf-target")))
}

func TestRecordStageOutcome(t *testing.T) {
	before := testutil.ToFloat64(StageOutcomes.WithLabelValues("retrieval", "failure"))

	RecordStageOutcome("retrieval", false)

	after := testutil.ToFloat64(StageOutcomes.WithLabelValues("retrieval", "failure"))
	require.Equal(t, before+1, after)
}
