// Package llm implements the inference and embedding ports over the local
// Ollama-compatible HTTP runtime.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/classedge/sensei/pkg/config"
	"github.com/classedge/sensei/pkg/ports"
)

// Client streams generations from the local inference runtime.
type Client struct {
	http     *http.Client
	endpoint string
	model    string
}

var _ ports.LLM = (*Client)(nil)

// NewClient wires the client from configuration.
func NewClient(cfg config.LLMConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		http:     &http.Client{Timeout: timeout},
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
	}
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	NumPredict int      `json:"num_predict,omitempty"`
	Stop       []string `json:"stop,omitempty"`
}

// generateChunk is one NDJSON line of the streaming response.
type generateChunk struct {
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error"`
}

// Stream starts a generation and returns the chunk channel. Failures before
// the first byte surface as the returned error; mid-stream failures arrive
// as a terminal ErrorChunk. The channel closes when generation completes,
// fails, or ctx is cancelled.
func (c *Client) Stream(ctx context.Context, req ports.StreamRequest) (<-chan ports.LLMChunk, error) {
	body, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: req.Prompt,
		Stream: true,
		Options: generateOptions{
			NumPredict: req.MaxTokens,
			Stop:       req.StopSequences,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding generate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: inference backend unreachable: %v", ports.ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp.StatusCode)
	}

	chunks := make(chan ports.LLMChunk, 32)
	go func() {
		defer close(chunks)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var chunk generateChunk
			if err := json.Unmarshal(line, &chunk); err != nil {
				emit(ctx, chunks, ports.ErrorChunk{
					Err: fmt.Errorf("%w: malformed stream line: %v", ports.ErrUnavailable, err)})
				return
			}
			if chunk.Error != "" {
				emit(ctx, chunks, ports.ErrorChunk{
					Err: fmt.Errorf("%w: %s", ports.ErrUnavailable, chunk.Error)})
				return
			}
			if chunk.Response != "" {
				if !emit(ctx, chunks, ports.TokenChunk{Content: chunk.Response}) {
					return
				}
			}
			if chunk.Done {
				emit(ctx, chunks, ports.UsageChunk{Usage: ports.Usage{
					PromptTokens:     chunk.PromptEvalCount,
					CompletionTokens: chunk.EvalCount,
				}})
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			emit(ctx, chunks, ports.ErrorChunk{
				Err: fmt.Errorf("%w: stream interrupted: %v", ports.ErrUnavailable, err)})
		}
	}()
	return chunks, nil
}

// emit delivers a chunk unless the consumer is gone. Returns false when the
// stream should stop.
func emit(ctx context.Context, ch chan<- ports.LLMChunk, chunk ports.LLMChunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// Health checks the runtime version endpoint.
func (c *Client) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/api/version", nil)
	if err != nil {
		return fmt.Errorf("building health request: %w", err)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: inference backend unreachable: %v", ports.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp.StatusCode)
	}
	return nil
}

func statusError(code int) error {
	switch {
	case code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable:
		return fmt.Errorf("%w: inference backend returned %d", ports.ErrOverloaded, code)
	case code >= 400 && code < 500:
		return fmt.Errorf("%w: inference backend returned %d", ports.ErrMalformedInput, code)
	default:
		slog.Warn("Unexpected inference backend status", "status", code)
		return fmt.Errorf("%w: inference backend returned %d", ports.ErrUnavailable, code)
	}
}
