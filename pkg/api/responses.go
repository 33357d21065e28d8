package api

import (
	"time"

	"github.com/classedge/sensei/pkg/models"
)

// ErrorResponse is the uniform error body. Kind is the stable taxonomy
// value clients switch on; Error is a short human-readable message.
type ErrorResponse struct {
	Kind  models.ErrorKind `json:"kind,omitempty"`
	Error string           `json:"error"`
}

// AdmittedEvent opens the submit_query stream. QueuePosition is 0 when
// the query went straight to a worker, 1-indexed when it queued.
type AdmittedEvent struct {
	QueryID       string `json:"query_id"`
	QueuePosition int    `json:"queue_position"`
}

// TokenEvent carries one generated token.
type TokenEvent struct {
	Text string `json:"text"`
}

// CancelResponse acknowledges a cancellation.
type CancelResponse struct {
	QueryID   string `json:"query_id"`
	Cancelled bool   `json:"cancelled"`
}

// MasteryItem is one topic's read-time mastery view. Mastery is
// recomputed at read time so idle decay shows without a write.
type MasteryItem struct {
	Topic           string    `json:"topic"`
	Mastery         float64   `json:"mastery"`
	QuestionCount   int       `json:"question_count"`
	LastInteraction time.Time `json:"last_interaction"`
}

// MasteryResponse lists a student's per-topic mastery for one subject.
type MasteryResponse struct {
	UserID    string        `json:"user_id"`
	SubjectID string        `json:"subject_id"`
	Topics    []MasteryItem `json:"topics"`
}

// WeakAreaItem is one entry of the derived weak-area view.
type WeakAreaItem struct {
	Topic      string    `json:"topic"`
	Score      float64   `json:"score"`
	DetectedAt time.Time `json:"detected_at"`
}

// WeakAreasResponse lists a student's weak areas for one subject.
type WeakAreasResponse struct {
	UserID    string         `json:"user_id"`
	SubjectID string         `json:"subject_id"`
	Areas     []WeakAreaItem `json:"areas"`
}

// PracticeItem is one selected question-bank entry.
type PracticeItem struct {
	ID         string            `json:"id"`
	Topic      string            `json:"topic"`
	Question   string            `json:"question"`
	Answer     string            `json:"answer"`
	Difficulty models.Difficulty `json:"difficulty"`
}

// PracticeResponse lists the selected practice questions.
type PracticeResponse struct {
	UserID    string         `json:"user_id"`
	SubjectID string         `json:"subject_id"`
	Questions []PracticeItem `json:"questions"`
}

// InvalidateCacheResponse reports how many entries were dropped.
type InvalidateCacheResponse struct {
	Deleted int `json:"deleted"`
}

// VKPResponse reports the active version after an install or rollback.
type VKPResponse struct {
	Subject       string `json:"subject"`
	Grade         string `json:"grade"`
	ActiveVersion string `json:"active_version"`
}
