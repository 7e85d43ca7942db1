package ollamalike

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/infergate/infergate/pkg/errors"
	"github.com/infergate/infergate/pkg/types"
)

// maxStreamLine bounds a single NDJSON line. The final generate chunk
// carries the full context token array, so this is well above the size of
// ordinary delta chunks.
const maxStreamLine = 1 << 20

// StreamGenerate relays the backend's NDJSON completion stream. fn is
// invoked once per line with the raw chunk; returning an error stops the
// stream and surfaces that error.
func (p *Provider) StreamGenerate(ctx context.Context, req *types.GenerateRequest, fn func(chunk []byte) error) error {
	endpoint := p.info.GenerateEndpoint
	if endpoint == "" {
		endpoint = defaultGenerateEndpoint
	}

	payload := *req
	stream := true
	payload.Stream = &stream
	return p.streamJSON(ctx, endpoint, &payload, req.Model, fn)
}

// StreamChat relays the backend's NDJSON chat stream.
func (p *Provider) StreamChat(ctx context.Context, req *types.ChatRequest, fn func(chunk []byte) error) error {
	endpoint := p.info.ChatEndpoint
	if endpoint == "" {
		endpoint = defaultChatEndpoint
	}

	payload := *req
	stream := true
	payload.Stream = &stream
	return p.streamJSON(ctx, endpoint, &payload, req.Model, fn)
}

func (p *Provider) streamJSON(ctx context.Context, endpoint string, payload any, model string, fn func(chunk []byte) error) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url(endpoint), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	p.setHeaders(httpReq)

	// The client-wide timeout covers the full body read and would cut long
	// generations mid-stream. Streams are bounded by ctx instead.
	client := &http.Client{Transport: p.client.Transport}

	resp, err := client.Do(httpReq)
	if err != nil {
		return errors.NewProviderCallFailedError(p.info.Name, model, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxStreamLine))
		return p.mapError(resp.StatusCode, model, respBody)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLine)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.NewProviderCallFailedError(p.info.Name, model, err)
	}
	return nil
}
