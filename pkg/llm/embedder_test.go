package llm

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classedge/sensei/pkg/config"
	"github.com/classedge/sensei/pkg/ports"
)

func embedConfig(url string) config.EmbeddingConfig {
	return config.EmbeddingConfig{Endpoint: url, Model: "embed-small", Dimension: 4}
}

func TestHTTPEmbedder_BatchRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embed", r.URL.Path)
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"a", "b"}, req.Input)
		_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{
			{1, 0, 0, 0}, {0, 1, 0, 0},
		}})
	}))
	defer srv.Close()

	vecs, err := NewHTTPEmbedder(embedConfig(srv.URL)).EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{0, 1, 0, 0}, vecs[1])
}

func TestHTTPEmbedder_DimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{1, 0}}})
	}))
	defer srv.Close()

	_, err := NewHTTPEmbedder(embedConfig(srv.URL)).Embed(context.Background(), "a")
	assert.ErrorIs(t, err, ports.ErrUnavailable)
}

func TestLocalEmbedder_DeterministicAndNormalized(t *testing.T) {
	e := NewLocalEmbedder(16)
	ctx := context.Background()

	v1, err := e.Embed(ctx, "what is a fraction")
	require.NoError(t, err)
	v2, err := e.Embed(ctx, "what is a fraction")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	require.Len(t, v1, 16)

	var norm float64
	for _, x := range v1 {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)

	other, err := e.Embed(ctx, "photosynthesis in plants")
	require.NoError(t, err)
	assert.NotEqual(t, v1, other)
}

func TestFallbackEmbedder_DegradesWhenPrimaryFails(t *testing.T) {
	cfg := embedConfig("http://127.0.0.1:1")
	cfg.Fallback = true
	e := NewEmbedder(cfg)

	vec, err := e.Embed(context.Background(), "what is a fraction")
	require.NoError(t, err)
	require.Len(t, vec, 4)

	var norm float64
	for _, x := range vec {
		norm += float64(x) * float64(x)
	}
	assert.False(t, math.IsNaN(norm))
	assert.InDelta(t, 1.0, norm, 1e-5)
}

func TestNewEmbedder_NoFallbackSurfacesError(t *testing.T) {
	cfg := embedConfig("http://127.0.0.1:1")
	e := NewEmbedder(cfg)

	_, err := e.Embed(context.Background(), "q")
	assert.ErrorIs(t, err, ports.ErrUnavailable)
}
