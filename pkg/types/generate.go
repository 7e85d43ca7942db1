// Package types defines the wire structures for LLM requests and responses.
// All types follow the Ollama-compatible JSON format that the supported
// local inference backends (ollama, vllm, lmdeploy) speak.
package types //nolint:revive // package name is intentional

import (
	"time"

	"github.com/goccy/go-json"
)

// GenerateRequest is a text completion request.
type GenerateRequest struct {
	Model    string `json:"model"`
	Prompt   string `json:"prompt"`
	System   string `json:"system,omitempty"`
	Template string `json:"template,omitempty"`
	// Stream defaults to true on the wire; the gateway treats a nil value
	// as false and only forwards streaming when explicitly requested.
	Stream *bool `json:"stream,omitempty"`
	Raw    bool  `json:"raw,omitempty"`
	// Context carries the conversation context tokens from a previous
	// generate call, passed through to the backend unchanged.
	Context []int `json:"context,omitempty"`

	// Options holds sampling parameters (temperature, top_p, num_predict,
	// ...) forwarded opaquely to the backend.
	Options map[string]any `json:"options,omitempty"`
}

// GenerateResponse is a completed (non-streamed) text completion.
type GenerateResponse struct {
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	Response  string    `json:"response"`
	Done      bool      `json:"done"`
	Context   []int     `json:"context,omitempty"`

	// Timing and token accounting, in nanoseconds / token counts.
	TotalDuration      int64 `json:"total_duration,omitempty"`
	LoadDuration       int64 `json:"load_duration,omitempty"`
	PromptEvalCount    int   `json:"prompt_eval_count,omitempty"`
	PromptEvalDuration int64 `json:"prompt_eval_duration,omitempty"`
	EvalCount          int   `json:"eval_count,omitempty"`
	EvalDuration       int64 `json:"eval_duration,omitempty"`
}

// Message is a single chat turn.
type Message struct {
	Role    string   `json:"role"` // "system", "user", "assistant", "tool"
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"` // base64-encoded, multimodal backends only
}

// Tool describes a function the model may call.
type Tool struct {
	Type     string          `json:"type"` // "function"
	Function json.RawMessage `json:"function"`
}

// ChatRequest is a chat completion request.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Tools    []Tool    `json:"tools,omitempty"`
	Stream   *bool     `json:"stream,omitempty"`

	Options map[string]any `json:"options,omitempty"`
}

// UsesTools reports whether the request declares callable tools.
func (r *ChatRequest) UsesTools() bool {
	return r != nil && len(r.Tools) > 0
}

// ChatResponse is a completed (non-streamed) chat turn.
type ChatResponse struct {
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	Message   Message   `json:"message"`
	Done      bool      `json:"done"`

	TotalDuration      int64 `json:"total_duration,omitempty"`
	LoadDuration       int64 `json:"load_duration,omitempty"`
	PromptEvalCount    int   `json:"prompt_eval_count,omitempty"`
	PromptEvalDuration int64 `json:"prompt_eval_duration,omitempty"`
	EvalCount          int   `json:"eval_count,omitempty"`
	EvalDuration       int64 `json:"eval_duration,omitempty"`
}

// WantsStream reports whether a request explicitly asked for streaming.
func WantsStream(stream *bool) bool {
	return stream != nil && *stream
}
