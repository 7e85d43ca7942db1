// Package vllm provides the vLLM backend adapter, speaking the
// Ollama-compatible API of a vLLM serving layer.
package vllm

import (
	"github.com/infergate/infergate/pkg/provider"
	"github.com/infergate/infergate/pkg/router"
	"github.com/infergate/infergate/providers/ollamalike"
)

const (
	ProviderName   = "vllm"
	DefaultBaseURL = "http://localhost:8000"
)

// DefaultModels lists models commonly deployed on vLLM. vLLM serves
// HuggingFace model paths rather than short tags.
var DefaultModels = []string{
	"meta-llama/Llama-2-7b-chat-hf",
	"meta-llama/Meta-Llama-3-70B-Instruct",
	"mistralai/Mistral-7B-Instruct-v0.1",
	"Qwen/Qwen2.5-14B-Instruct",
}

// vLLM batches continuously across requests, trading first-token latency
// for throughput. The serving layer answers server info on its root path.
var providerInfo = ollamalike.Info{
	Name:           ProviderName,
	Kind:           router.KindBatch,
	DefaultBaseURL: DefaultBaseURL,
	HealthEndpoint: "/",
}

type Provider struct{ *ollamalike.Provider }

func New(opts ...ollamalike.Option) *Provider {
	return &Provider{Provider: ollamalike.New(providerInfo, opts...)}
}

func NewFromConfig(cfg provider.Config) (provider.Provider, error) {
	return ollamalike.NewFromConfig(providerInfo, cfg)
}
