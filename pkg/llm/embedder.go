package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/classedge/sensei/pkg/config"
	"github.com/classedge/sensei/pkg/ports"
)

// HTTPEmbedder produces query embeddings through the local embedding
// backend.
type HTTPEmbedder struct {
	http      *http.Client
	endpoint  string
	model     string
	dimension int
}

var _ ports.Embedder = (*HTTPEmbedder)(nil)

// NewHTTPEmbedder wires the embedder from configuration.
func NewHTTPEmbedder(cfg config.EmbeddingConfig) *HTTPEmbedder {
	return &HTTPEmbedder{
		http:      &http.Client{Timeout: 30 * time.Second},
		endpoint:  cfg.Endpoint,
		model:     cfg.Model,
		dimension: cfg.Dimension,
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns the embedding for one text.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns embeddings for each text in order.
func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("encoding embed request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.endpoint+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building embed request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding backend unreachable: %v", ports.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading embed response: %v", ports.ErrUnavailable, err)
	}
	var out embedResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: malformed embed response: %v", ports.ErrUnavailable, err)
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: embed returned %d vectors for %d inputs",
			ports.ErrUnavailable, len(out.Embeddings), len(texts))
	}
	for _, v := range out.Embeddings {
		if len(v) != e.dimension {
			return nil, fmt.Errorf("%w: embed returned dimension %d, want %d",
				ports.ErrUnavailable, len(v), e.dimension)
		}
	}
	return out.Embeddings, nil
}

// Dimension returns the configured embedding dimension.
func (e *HTTPEmbedder) Dimension() int { return e.dimension }

// Health checks the backend version endpoint.
func (e *HTTPEmbedder) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, e.endpoint+"/api/version", nil)
	if err != nil {
		return fmt.Errorf("building health request: %w", err)
	}
	resp, err := e.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: embedding backend unreachable: %v", ports.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp.StatusCode)
	}
	return nil
}
