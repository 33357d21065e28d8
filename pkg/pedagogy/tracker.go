package pedagogy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/classedge/sensei/pkg/metrics"
	"github.com/classedge/sensei/pkg/models"
	"github.com/classedge/sensei/pkg/ports"
	"github.com/classedge/sensei/pkg/rag"
)

// Tracker maintains MasteryRecords and the derived weak-area view. It
// implements rag.PedagogySink, so answer-driven updates run inside the
// orchestrator's chat-record transaction.
type Tracker struct {
	clock   ports.Clock
	metrics *metrics.Metrics
}

// NewTracker builds a tracker. m may be nil.
func NewTracker(clock ports.Clock, m *metrics.Metrics) *Tracker {
	return &Tracker{clock: clock, metrics: m}
}

var _ rag.PedagogySink = (*Tracker)(nil)

// ObserveAnswer records one answered question against the topic resolved
// from the retrieved chunks. With no grading source wired the correct
// count is left untouched; RecordGraded adds the signal later.
func (t *Tracker) ObserveAnswer(ctx context.Context, repos ports.RepositorySet, obs rag.AnswerObservation) error {
	topic := DominantTopic(obs.Retrieved)
	if topic == "" {
		t.metrics.IncTopicUnresolved()
		slog.Debug("Skipping mastery update, no topic resolved",
			"user_id", obs.UserID, "subject_id", obs.SubjectID)
		return nil
	}
	return t.applyUpdate(ctx, repos, obs.UserID, obs.SubjectID, topic, false, false)
}

// RecordGraded applies an external correctness signal for one answered
// question on a topic. Runs in its own transaction.
func (t *Tracker) RecordGraded(ctx context.Context, store ports.RelationalStore, userID, subjectID, topic string, correct bool) error {
	return store.WithinTx(ctx, func(repos ports.RepositorySet) error {
		return t.applyUpdate(ctx, repos, userID, subjectID, topic, true, correct)
	})
}

// applyUpdate is the single mastery update rule: bump counters, recompute
// the level, refresh the weak-area view.
func (t *Tracker) applyUpdate(ctx context.Context, repos ports.RepositorySet, userID, subjectID, topic string, graded, correct bool) error {
	now := t.clock.Now()

	rec, err := repos.Mastery().Get(ctx, userID, subjectID, topic)
	if err != nil {
		if !errors.Is(err, ports.ErrNotFound) {
			return fmt.Errorf("loading mastery record: %w", err)
		}
		rec = &models.MasteryRecord{
			UserID:    userID,
			SubjectID: subjectID,
			Topic:     topic,
			CreatedAt: now,
		}
	}

	rec.QuestionCount++
	if graded && correct {
		rec.CorrectCount++
	}
	if now.Sub(rec.WindowStart) >= burstWindow {
		rec.WindowStart = now
		rec.WindowCount = 1
	} else {
		rec.WindowCount++
	}
	rec.MasteryLevel = MasteryLevel(rec.QuestionCount, rec.CorrectCount, rec.LastInteraction, now)
	rec.LastInteraction = now

	if err := repos.Mastery().Upsert(ctx, rec); err != nil {
		return fmt.Errorf("upserting mastery record: %w", err)
	}
	return t.refreshWeakArea(ctx, repos, rec)
}

// refreshWeakArea applies the detection rule against the updated record.
// A topic enters on low mastery or a question burst in the current
// window; it leaves only once the level clears the exit threshold and
// the burst has passed.
func (t *Tracker) refreshWeakArea(ctx context.Context, repos ports.RepositorySet, rec *models.MasteryRecord) error {
	burst := rec.WindowCount >= burstThreshold
	switch {
	case rec.MasteryLevel < enterThreshold || burst:
		return repos.WeakAreas().Upsert(ctx, &models.WeakArea{
			UserID:     rec.UserID,
			SubjectID:  rec.SubjectID,
			Topic:      rec.Topic,
			Score:      rec.MasteryLevel,
			DetectedAt: t.clock.Now(),
		})
	case rec.MasteryLevel > exitThreshold:
		return repos.WeakAreas().Delete(ctx, rec.UserID, rec.SubjectID, rec.Topic)
	default:
		// Inside the hysteresis band the existing state stands.
		return nil
	}
}

// DominantTopic picks the topic label for an answer: the topic appearing
// on the most retrieved chunks, ties broken by the highest similarity
// among the tied topics. Empty when no chunk carries a topic.
func DominantTopic(retrieved []models.RetrievedChunk) string {
	counts := make(map[string]int)
	best := make(map[string]float64)
	for _, c := range retrieved {
		if c.Topic == "" {
			continue
		}
		counts[c.Topic]++
		if c.Similarity > best[c.Topic] {
			best[c.Topic] = c.Similarity
		}
	}

	var winner string
	for topic := range counts {
		if winner == "" {
			winner = topic
			continue
		}
		switch {
		case counts[topic] > counts[winner]:
			winner = topic
		case counts[topic] == counts[winner] && best[topic] > best[winner]:
			winner = topic
		}
	}
	return winner
}
