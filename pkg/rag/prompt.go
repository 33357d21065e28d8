package rag

import (
	"sort"
	"strings"

	"github.com/classedge/sensei/pkg/models"
)

// systemDirectives is the fixed preamble of every assembled prompt.
const systemDirectives = `You are a patient tutor answering a student's question.
Use only the curriculum excerpts below. If they do not contain the answer,
say so plainly instead of guessing. Keep the explanation at the student's level.`

// chunkDelimiter separates retrieved chunk texts in the prompt.
const chunkDelimiter = "\n\n---\n\n"

// assembledPrompt is the deterministic prompt plus the chunks that
// survived truncation, in retrieval order.
type assembledPrompt struct {
	Text string
	Kept []models.RetrievedChunk
}

// assemblePrompt builds (directives ∥ kept chunk texts ∥ question).
// Truncation drops the lowest-similarity chunks first until the chunk
// section fits contextBudget characters; chunks are never split.
func assemblePrompt(question string, retrieved []models.RetrievedChunk, contextBudget int) assembledPrompt {
	kept := truncateChunks(retrieved, contextBudget)

	var b strings.Builder
	b.WriteString(systemDirectives)
	b.WriteString("\n\nCurriculum excerpts:\n\n")
	for i, c := range kept {
		if i > 0 {
			b.WriteString(chunkDelimiter)
		}
		b.WriteString(c.Text)
	}
	b.WriteString("\n\nStudent question: ")
	b.WriteString(question)

	return assembledPrompt{Text: b.String(), Kept: kept}
}

// truncateChunks keeps as many chunks as fit, dropping lowest similarity
// first, and preserves retrieval order among the survivors.
func truncateChunks(retrieved []models.RetrievedChunk, budget int) []models.RetrievedChunk {
	total := 0
	for _, c := range retrieved {
		total += len(c.Text) + len(chunkDelimiter)
	}
	if total <= budget {
		return retrieved
	}

	// Indices sorted by ascending similarity; drop from the front.
	order := make([]int, len(retrieved))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return retrieved[order[a]].Similarity < retrieved[order[b]].Similarity
	})

	// The highest-similarity chunk always survives, even over budget:
	// confidence and sources need at least one kept chunk.
	dropped := make(map[int]bool)
	for _, idx := range order {
		if total <= budget || len(dropped) == len(retrieved)-1 {
			break
		}
		total -= len(retrieved[idx].Text) + len(chunkDelimiter)
		dropped[idx] = true
	}

	kept := make([]models.RetrievedChunk, 0, len(retrieved))
	for i, c := range retrieved {
		if !dropped[i] {
			kept = append(kept, c)
		}
	}
	return kept
}
