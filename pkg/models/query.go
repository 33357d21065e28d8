// Package models contains the domain records shared across components.
package models

import "time"

// MaxQuestionLength bounds accepted question text (runes).
const MaxQuestionLength = 2000

// Query is a transient record created on admission. Ownership moves from
// scheduler to orchestrator to the persistence writer as it progresses.
type Query struct {
	ID          string
	UserID      string
	SubjectID   string
	Question    string
	SubmittedAt time.Time
	Deadline    time.Time // zero value = no deadline
}

// SourceRef points at one retrieved chunk that contributed to an answer.
type SourceRef struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Similarity float64 `json:"similarity"`
}

// Answer is immutable once the orchestrator constructs it.
type Answer struct {
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"`
	Sources    []SourceRef `json:"sources"`
	TokenCount int         `json:"token_count"`
	LatencyMS  int64       `json:"latency_ms"`
}

// QueryResult is the trailing record delivered after the token stream.
type QueryResult struct {
	QueryID       string    `json:"query_id"`
	Answer        *Answer   `json:"answer,omitempty"`
	CacheHit      bool      `json:"cache_hit"`
	QueuePosition int       `json:"queue_position_on_admit"`
	ErrorKind     ErrorKind `json:"error_kind,omitempty"`
}

// ChatRecord is the persisted copy of a completed query and answer.
type ChatRecord struct {
	ID         string
	UserID     string
	SubjectID  string
	Question   string
	Response   string
	Confidence float64
	CreatedAt  time.Time
}
