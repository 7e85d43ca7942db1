// Package lmdeploy provides the LMDeploy backend adapter, speaking the
// Ollama-compatible API of an LMDeploy serving layer.
package lmdeploy

import (
	"github.com/infergate/infergate/pkg/provider"
	"github.com/infergate/infergate/pkg/router"
	"github.com/infergate/infergate/providers/ollamalike"
)

const (
	ProviderName = "lmdeploy"
	// The serving layer conventionally binds one port above Ollama.
	DefaultBaseURL = "http://localhost:11435"
)

// DefaultModels lists models commonly deployed on LMDeploy.
var DefaultModels = []string{
	"TheBloke/deepseek-coder-1.3b-instruct-AWQ",
	"meta-llama/Llama-2-7b-chat-hf",
	"mistralai/Mistral-7B-Instruct-v0.1",
	"codellama/CodeLlama-7b-Python-hf",
	"microsoft/DialoGPT-medium",
}

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
