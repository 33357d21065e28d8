// Package ports declares the capability interfaces the core depends on.
// Implementations live in pkg/llm, pkg/vectorstore, pkg/database and
// pkg/blobstore; tests substitute their own.
package ports

import "context"

// StreamRequest is a single generation request.
type StreamRequest struct {
	Prompt        string
	MaxTokens     int
	StopSequences []string
}

// Usage reports token consumption for one generation.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// LLMChunk is the interface for streaming chunk variants.
type LLMChunk interface {
	llmChunk()
}

// TokenChunk is one generated token (or token group) in arrival order.
type TokenChunk struct{ Content string }

// UsageChunk is the final chunk of a successful stream.
type UsageChunk struct{ Usage Usage }

// ErrorChunk terminates a failed stream. Err is one of the typed port
// errors, possibly wrapped.
type ErrorChunk struct{ Err error }

func (TokenChunk) llmChunk() {}
func (UsageChunk) llmChunk() {}
func (ErrorChunk) llmChunk() {}

// LLM is the black-box token generator. Stream returns a channel that is
// closed when generation completes, fails, or ctx is cancelled; cancellation
// must take effect within a bounded grace window (next token boundary).
type LLM interface {
	Stream(ctx context.Context, req StreamRequest) (<-chan LLMChunk, error)
	Health(ctx context.Context) error
}

// Embedder produces query-side embeddings. Document-side embeddings are
// precomputed inside VKPs and never pass through this port.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Health(ctx context.Context) error
}
