package llm

import (
	"context"
	"hash/fnv"
	"log/slog"
	"math"
	"strings"

	"github.com/classedge/sensei/pkg/config"
	"github.com/classedge/sensei/pkg/ports"
)

// LocalEmbedder is a deterministic degraded-mode embedder: token hashes
// folded into a fixed-dimension bag and L2-normalized. Retrieval quality
// drops but the node keeps answering when the embedding backend is down.
type LocalEmbedder struct {
	dimension int
}

var _ ports.Embedder = (*LocalEmbedder)(nil)

// NewLocalEmbedder builds the hash embedder at the given dimension.
func NewLocalEmbedder(dimension int) *LocalEmbedder {
	return &LocalEmbedder{dimension: dimension}
}

func (e *LocalEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dimension)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum64()
		bucket := int(sum % uint64(e.dimension))
		// Sign bit from the hash spreads tokens across both directions.
		if sum&(1<<63) != 0 {
			vec[bucket] -= 1
		} else {
			vec[bucket] += 1
		}
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

func (e *LocalEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *LocalEmbedder) Dimension() int { return e.dimension }

func (e *LocalEmbedder) Health(context.Context) error { return nil }

// FallbackEmbedder tries the primary backend and degrades to the local
// hash embedder when it fails.
type FallbackEmbedder struct {
	primary ports.Embedder
	local   *LocalEmbedder
}

var _ ports.Embedder = (*FallbackEmbedder)(nil)

// NewEmbedder wires the embedding stack from configuration.
func NewEmbedder(cfg config.EmbeddingConfig) ports.Embedder {
	primary := NewHTTPEmbedder(cfg)
	if !cfg.Fallback {
		return primary
	}
	return &FallbackEmbedder{
		primary: primary,
		local:   NewLocalEmbedder(cfg.Dimension),
	}
}

func (e *FallbackEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.primary.Embed(ctx, text)
	if err == nil {
		return vec, nil
	}
	slog.Warn("Embedding backend failed, using local hash embedder", "error", err)
	return e.local.Embed(ctx, text)
}

func (e *FallbackEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := e.primary.EmbedBatch(ctx, texts)
	if err == nil {
		return vecs, nil
	}
	slog.Warn("Embedding backend failed, using local hash embedder", "error", err)
	return e.local.EmbedBatch(ctx, texts)
}

func (e *FallbackEmbedder) Dimension() int { return e.primary.Dimension() }

// Health reports the primary backend's health; the local embedder never
// fails.
func (e *FallbackEmbedder) Health(ctx context.Context) error {
	return e.primary.Health(ctx)
}
