// Package ollamalike provides the shared client for backends that speak the
// Ollama-compatible HTTP API. The local inference servers in common use
// (ollama itself, vllm and lmdeploy behind their compatibility layers)
// differ only in endpoints and serving profile, which this package captures
// in an Info value.
package ollamalike

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/infergate/infergate/internal/httputil"
	"github.com/infergate/infergate/pkg/errors"
	"github.com/infergate/infergate/pkg/provider"
	"github.com/infergate/infergate/pkg/router"
	"github.com/infergate/infergate/pkg/types"
)

// DefaultTimeout bounds a single backend call when the configuration does
// not say otherwise. Local model inference is slow; this is deliberately
// generous.
const DefaultTimeout = 120 * time.Second

// Default API paths, shared by every Ollama-compatible backend.
const (
	defaultGenerateEndpoint = "/api/generate"
	defaultChatEndpoint     = "/api/chat"
	defaultTagsEndpoint     = "/api/tags"
)

// Info describes one backend flavor.
type Info struct {
	// Name is the backend identifier (e.g. "ollama", "vllm").
	Name string

	// Kind is the backend's serving profile.
	Kind router.Kind

	// DefaultBaseURL is where the backend listens out of the box.
	DefaultBaseURL string

	// Endpoint overrides. Empty fields use the standard /api paths.
	GenerateEndpoint string
	ChatEndpoint     string
	TagsEndpoint     string

	// HealthEndpoint is probed for availability. Empty means probe the
	// tags endpoint, which every compatible backend serves.
	HealthEndpoint string

	// ExtraHeaders are sent on every request to this backend flavor.
	ExtraHeaders map[string]string
}

// Provider implements the adapter contract over one backend instance.
type Provider struct {
	info    Info
	baseURL string
	apiKey  string
	models  []string
	headers map[string]string
	client  *http.Client
}

var _ provider.Provider = (*Provider)(nil)
var _ provider.Streamer = (*Provider)(nil)

// New creates a backend client with the flavor's defaults.
func New(info Info, opts ...Option) *Provider {
	p := &Provider{
		info:    info,
		baseURL: info.DefaultBaseURL,
		headers: make(map[string]string),
		client:  &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewFromConfig creates a backend client from a Config struct.
func NewFromConfig(info Info, cfg provider.Config) (provider.Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := New(info,
		WithAPIKey(cfg.APIKey),
		WithBaseURL(cfg.BaseURL),
		WithModels(cfg.Models...),
		WithTimeout(cfg.Timeout),
	)
	if cfg.Kind != "" {
		p.info.Kind = cfg.Kind
	}
	for k, v := range cfg.Headers {
		p.headers[k] = v
	}
	return p, nil
}

// Name returns the backend identifier.
func (p *Provider) Name() string {
	return p.info.Name
}

// Kind returns the backend's serving profile.
func (p *Provider) Kind() router.Kind {
	return p.info.Kind
}

// SupportedModels returns the configured model restriction list.
func (p *Provider) SupportedModels() []string {
	return p.models
}

// SupportsModel checks whether routing may send the model here. An empty
// restriction list accepts everything the backend reports.
func (p *Provider) SupportsModel(model string) bool {
	if len(p.models) == 0 {
		return true
	}
	for _, m := range p.models {
		if m == model {
			return true
		}
	}
	return false
}

// IsAvailable probes the backend's health endpoint. Any transport error or
// non-2xx status counts as unavailable.
func (p *Provider) IsAvailable(ctx context.Context) bool {
	endpoint := p.info.HealthEndpoint
	if endpoint == "" {
		endpoint = p.tagsEndpoint()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url(endpoint), nil)
	if err != nil {
		return false
	}
	p.setHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// GenerateText runs a non-streamed text completion.
func (p *Provider) GenerateText(ctx context.Context, req *types.GenerateRequest) (*types.GenerateResponse, error) {
	endpoint := p.info.GenerateEndpoint
	if endpoint == "" {
		endpoint = defaultGenerateEndpoint
	}

	// Force a single response body regardless of what the caller set.
	payload := *req
	stream := false
	payload.Stream = &stream

	var out types.GenerateResponse
	if err := p.postJSON(ctx, endpoint, &payload, req.Model, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Chat runs a non-streamed chat turn.
func (p *Provider) Chat(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	endpoint := p.info.ChatEndpoint
	if endpoint == "" {
		endpoint = defaultChatEndpoint
	}

	payload := *req
	stream := false
	payload.Stream = &stream

	var out types.ChatResponse
	if err := p.postJSON(ctx, endpoint, &payload, req.Model, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListModels queries the backend's tags endpoint and stamps each entry with
// the backend name.
func (p *Provider) ListModels(ctx context.Context) ([]types.ModelInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url(p.tagsEndpoint()), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	p.setHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, errors.NewProviderCallFailedError(p.info.Name, "", err)
	}
	defer resp.Body.Close()

	body, err := httputil.ReadLimitedBody(resp.Body, httputil.DefaultMaxResponseBodyBytes)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, p.mapError(resp.StatusCode, "", body)
	}

	var tags types.TagsResponse
	if err := json.Unmarshal(body, &tags); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	for i := range tags.Models {
		tags.Models[i].Provider = p.info.Name
	}
	return tags.Models, nil
}

// postJSON runs one POST round trip with the shared header and error
// handling. out must be a pointer.
func (p *Provider) postJSON(ctx context.Context, endpoint string, payload any, model string, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url(endpoint), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	p.setHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return errors.NewProviderCallFailedError(p.info.Name, model, err)
	}
	defer resp.Body.Close()

	respBody, err := httputil.ReadLimitedBody(resp.Body, httputil.DefaultMaxResponseBodyBytes)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return p.mapError(resp.StatusCode, model, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// setHeaders applies the shared header stack: content type, optional auth,
// flavor extras, then per-instance custom headers.
func (p *Provider) setHeaders(httpReq *http.Request) {
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	for k, v := range p.info.ExtraHeaders {
		httpReq.Header.Set(k, v)
	}
	for k, v := range p.headers {
		httpReq.Header.Set(k, v)
	}
}

// mapError converts a non-2xx backend answer into a RouterError. Both the
// Ollama error shape {"error": "..."} and plain text bodies are handled.
func (p *Provider) mapError(statusCode int, model string, body []byte) error {
	var errResp struct {
		Error string `json:"error"`
	}

	message := http.StatusText(statusCode)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		message = errResp.Error
	} else if trimmed := strings.TrimSpace(string(body)); trimmed != "" && len(trimmed) < 512 {
		message = trimmed
	}

	return errors.NewProviderHTTPError(p.info.Name, model, statusCode, message)
}

func (p *Provider) tagsEndpoint() string {
	if p.info.TagsEndpoint != "" {
		return p.info.TagsEndpoint
	}
	return defaultTagsEndpoint
}

func (p *Provider) url(endpoint string) string {
	return strings.TrimSuffix(p.baseURL, "/") + endpoint
}

// GetInfo returns the flavor description.
func (p *Provider) GetInfo() Info {
	return p.info
}

// GetBaseURL returns the effective base URL.
func (p *Provider) GetBaseURL() string {
	return p.baseURL
}
