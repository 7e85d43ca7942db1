package types //nolint:revive // package name is intentional

import (
	"fmt"
	"time"
)

const MaxModelNameLength = 256

// ValidateModelName checks that a model name is within acceptable bounds.
func ValidateModelName(model string) error {
	if len(model) > MaxModelNameLength {
		return fmt.Errorf("model is too long (max %d characters)", MaxModelNameLength)
	}
	return nil
}

// ModelDetails carries optional backend-reported model metadata.
type ModelDetails struct {
	Format            string `json:"format,omitempty"`
	Family            string `json:"family,omitempty"`
	ParameterSize     string `json:"parameter_size,omitempty"`
	QuantizationLevel string `json:"quantization_level,omitempty"`
}

// ModelInfo describes one model a backend can serve.
type ModelInfo struct {
	Name       string        `json:"name"`
	ModifiedAt time.Time     `json:"modified_at,omitempty"`
	Size       int64         `json:"size,omitempty"`
	Digest     string        `json:"digest,omitempty"`
	Details    *ModelDetails `json:"details,omitempty"`

	// Provider is filled in by the gateway when merging listings.
	Provider string `json:"provider,omitempty"`
}

// TagsResponse is the model listing payload.
type TagsResponse struct {
	Models []ModelInfo `json:"models"`
}

// ProviderStatus is one provider's entry in the status payload.
type ProviderStatus struct {
	Provider      string    `json:"provider"`
	Kind          string    `json:"kind"`
	Available     bool      `json:"available"`
	LastCheckedAt time.Time `json:"last_checked_at,omitempty"`
}

// PerformanceStatus is one provider's ledger entry in the status payload.
type PerformanceStatus struct {
	Provider     string    `json:"provider"`
	AvgLatencyMs float64   `json:"avg_latency_ms"`
	SuccessRate  float64   `json:"success_rate"`
	RequestCount int64     `json:"request_count"`
	LastUpdated  time.Time `json:"last_updated"`
}

// StatusResponse is the gateway status payload: reachability plus the
// current performance ledger snapshot, both safe to poll.
type StatusResponse struct {
	Status      string              `json:"status"`
	Providers   []ProviderStatus    `json:"providers"`
	Performance []PerformanceStatus `json:"performance"`
}
