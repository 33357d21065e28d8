package models

import "time"

// Chunk is the retrieval unit: a bounded text span with its precomputed
// embedding and source metadata. Document-side embeddings ship inside the
// VKP; the node never re-embeds curriculum text.
type Chunk struct {
	ID         string    `json:"chunk_id"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"embedding"`
	SourceFile string    `json:"source_file"`
	ChunkIndex int       `json:"chunk_index"`
	CharStart  int       `json:"char_start"`
	CharEnd    int       `json:"char_end"`
	Topic      string    `json:"topic"`
}

// VKPManifest describes one versioned knowledge package.
type VKPManifest struct {
	Subject        string    `json:"subject"`
	Grade          string    `json:"grade"`
	Version        string    `json:"version"` // MAJOR.MINOR.PATCH
	CreatedAt      time.Time `json:"created_at"`
	EmbeddingModel string    `json:"embedding_model"`
	ChunkSize      int       `json:"chunk_size"`
	ChunkOverlap   int       `json:"chunk_overlap"`
	TotalChunks    int       `json:"total_chunks"`
	SourceFiles    []string  `json:"source_files"`
}

// VKP is an immutable curriculum bundle for one (subject, grade) at one
// semantic version. Checksum covers manifest and chunks; it must validate
// before install.
type VKP struct {
	Manifest VKPManifest `json:"manifest"`
	Chunks   []Chunk     `json:"chunks"`
	Checksum string      `json:"checksum"` // "sha256:" + hex digest
}

// Dimension returns the embedding dimension of the package, 0 if empty.
func (v *VKP) Dimension() int {
	if len(v.Chunks) == 0 {
		return 0
	}
	return len(v.Chunks[0].Embedding)
}

// VKPInstallation records the active version for a (subject, grade) plus a
// bounded rollback history. Mutated only by the VKP manager.
type VKPInstallation struct {
	Subject       string
	Grade         string
	ActiveVersion string
	History       []string // most recent first
	InstalledAt   time.Time
}

// RetrievedChunk is a top-k hit from the vector store.
type RetrievedChunk struct {
	ChunkID    string
	Text       string
	SourceFile string
	Topic      string
	Similarity float64
}
