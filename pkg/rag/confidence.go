package rag

// Confidence maps the top retrieved similarity onto [0,1]:
//
//	confidence = clamp(0.25 + 0.75*topSimilarity, 0, 1)
//
// The mapping is monotone in the similarity and pinned by tests; the
// floor keeps any retrieval-backed answer above the canned-answer score.
func confidenceFromSimilarity(topSimilarity float64) float64 {
	c := 0.25 + 0.75*topSimilarity
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// noContextConfidence scores the canned answer produced when the subject
// has no retrievable chunks.
const noContextConfidence = 0.1
