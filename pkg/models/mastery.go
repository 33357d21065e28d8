package models

import "time"

// MasteryRecord tracks a student's competence on one (user, subject, topic).
// MasteryLevel is a deterministic function of QuestionCount, CorrectCount,
// and elapsed time since LastInteraction; see pedagogy.MasteryLevel.
type MasteryRecord struct {
	UserID          string
	SubjectID       string
	Topic           string
	MasteryLevel    float64 // [0,1]
	QuestionCount   int
	CorrectCount    int
	WindowStart     time.Time // start of the current question burst window
	WindowCount     int       // questions asked since WindowStart
	LastInteraction time.Time
	CreatedAt       time.Time
}

// WeakArea is a derived view: a topic whose mastery fell below threshold.
// Rebuildable from MasteryRecord + ChatRecord.
type WeakArea struct {
	UserID     string
	SubjectID  string
	Topic      string
	Score      float64
	DetectedAt time.Time
}

// Difficulty bands for practice questions.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// PracticeQuestion is one pre-seeded question-bank item.
type PracticeQuestion struct {
	ID         string
	SubjectID  string
	Topic      string
	Question   string
	Answer     string
	Difficulty Difficulty
}
