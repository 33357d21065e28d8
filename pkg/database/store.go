package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/classedge/sensei/pkg/models"
	"github.com/classedge/sensei/pkg/ports"
)

// querier is the execution scope shared by the repositories: either the
// pooled *sql.DB or a single *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements ports.RelationalStore over the PostgreSQL client.
type Store struct {
	client *Client
	repos  *repoSet
}

var _ ports.RelationalStore = (*Store)(nil)

// NewStore builds the repository store over an open client.
func NewStore(client *Client) *Store {
	return &Store{
		client: client,
		repos:  newRepoSet(client.DB()),
	}
}

// Repos returns the repositories bound to the pooled connection.
func (s *Store) Repos() ports.RepositorySet {
	return s.repos
}

// WithinTx runs fn inside one transaction. A nil return commits, any
// error rolls back.
func (s *Store) WithinTx(ctx context.Context, fn func(repos ports.RepositorySet) error) error {
	tx, err := s.client.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(newRepoSet(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("rolling back after %w: %v", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Health pings the pooled connection.
func (s *Store) Health(ctx context.Context) error {
	if err := s.client.DB().PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ports.ErrUnavailable, err)
	}
	return nil
}

type repoSet struct {
	q querier
}

var _ ports.RepositorySet = (*repoSet)(nil)

func newRepoSet(q querier) *repoSet { return &repoSet{q: q} }

func (r *repoSet) Chats() ports.ChatRepository                 { return &chatRepo{q: r.q} }
func (r *repoSet) Mastery() ports.MasteryRepository            { return &masteryRepo{q: r.q} }
func (r *repoSet) WeakAreas() ports.WeakAreaRepository         { return &weakAreaRepo{q: r.q} }
func (r *repoSet) Installations() ports.InstallationRepository { return &installationRepo{q: r.q} }
func (r *repoSet) Users() ports.UserRepository                 { return &userRepo{q: r.q} }
func (r *repoSet) Subjects() ports.SubjectRepository           { return &subjectRepo{q: r.q} }
func (r *repoSet) Practice() ports.PracticeRepository          { return &practiceRepo{q: r.q} }

type chatRepo struct {
	q querier
}

func (r *chatRepo) Insert(ctx context.Context, rec *models.ChatRecord) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO chat_history (id, user_id, subject_id, question, response, confidence, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.UserID, rec.SubjectID, rec.Question, rec.Response, rec.Confidence, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting chat record: %w", err)
	}
	return nil
}

func (r *chatRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_history`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting chat records: %w", err)
	}
	return n, nil
}

func (r *chatRepo) ListSince(ctx context.Context, since time.Time) ([]models.ChatRecord, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, user_id, subject_id, question, response, confidence, created_at
		 FROM chat_history WHERE created_at > $1 ORDER BY created_at`, since)
	if err != nil {
		return nil, fmt.Errorf("listing chat records: %w", err)
	}
	defer rows.Close()

	var out []models.ChatRecord
	for rows.Next() {
		var rec models.ChatRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.SubjectID,
			&rec.Question, &rec.Response, &rec.Confidence, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning chat record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type masteryRepo struct {
	q querier
}

func (r *masteryRepo) Get(ctx context.Context, userID, subjectID, topic string) (*models.MasteryRecord, error) {
	var rec models.MasteryRecord
	err := r.q.QueryRowContext(ctx,
		`SELECT user_id, subject_id, topic, mastery_level, question_count, correct_count, window_start, window_count, last_interaction, created_at
		 FROM topic_mastery WHERE user_id = $1 AND subject_id = $2 AND topic = $3`,
		userID, subjectID, topic).
		Scan(&rec.UserID, &rec.SubjectID, &rec.Topic, &rec.MasteryLevel,
			&rec.QuestionCount, &rec.CorrectCount, &rec.WindowStart, &rec.WindowCount,
			&rec.LastInteraction, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading mastery record: %w", err)
	}
	return &rec, nil
}

func (r *masteryRepo) Upsert(ctx context.Context, rec *models.MasteryRecord) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO topic_mastery (user_id, subject_id, topic, mastery_level, question_count, correct_count, window_start, window_count, last_interaction, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (user_id, subject_id, topic) DO UPDATE SET
		   mastery_level = EXCLUDED.mastery_level,
		   question_count = EXCLUDED.question_count,
		   correct_count = EXCLUDED.correct_count,
		   window_start = EXCLUDED.window_start,
		   window_count = EXCLUDED.window_count,
		   last_interaction = EXCLUDED.last_interaction`,
		rec.UserID, rec.SubjectID, rec.Topic, rec.MasteryLevel,
		rec.QuestionCount, rec.CorrectCount, rec.WindowStart, rec.WindowCount,
		rec.LastInteraction, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("upserting mastery record: %w", err)
	}
	return nil
}

func (r *masteryRepo) ListBySubject(ctx context.Context, userID, subjectID string) ([]models.MasteryRecord, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT user_id, subject_id, topic, mastery_level, question_count, correct_count, window_start, window_count, last_interaction, created_at
		 FROM topic_mastery WHERE user_id = $1 AND subject_id = $2 ORDER BY topic`,
		userID, subjectID)
	if err != nil {
		return nil, fmt.Errorf("listing mastery records: %w", err)
	}
	defer rows.Close()

	var out []models.MasteryRecord
	for rows.Next() {
		var rec models.MasteryRecord
		if err := rows.Scan(&rec.UserID, &rec.SubjectID, &rec.Topic, &rec.MasteryLevel,
			&rec.QuestionCount, &rec.CorrectCount, &rec.WindowStart, &rec.WindowCount,
			&rec.LastInteraction, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning mastery record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type weakAreaRepo struct {
	q querier
}

func (r *weakAreaRepo) Upsert(ctx context.Context, area *models.WeakArea) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO weak_areas (user_id, subject_id, topic, score, detected_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id, subject_id, topic) DO UPDATE SET
		   score = EXCLUDED.score`,
		area.UserID, area.SubjectID, area.Topic, area.Score, area.DetectedAt)
	if err != nil {
		return fmt.Errorf("upserting weak area: %w", err)
	}
	return nil
}

func (r *weakAreaRepo) Delete(ctx context.Context, userID, subjectID, topic string) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM weak_areas WHERE user_id = $1 AND subject_id = $2 AND topic = $3`,
		userID, subjectID, topic)
	if err != nil {
		return fmt.Errorf("deleting weak area: %w", err)
	}
	return nil
}

func (r *weakAreaRepo) List(ctx context.Context, userID, subjectID string) ([]models.WeakArea, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT user_id, subject_id, topic, score, detected_at
		 FROM weak_areas WHERE user_id = $1 AND subject_id = $2 ORDER BY topic`,
		userID, subjectID)
	if err != nil {
		return nil, fmt.Errorf("listing weak areas: %w", err)
	}
	defer rows.Close()

	var out []models.WeakArea
	for rows.Next() {
		var area models.WeakArea
		if err := rows.Scan(&area.UserID, &area.SubjectID, &area.Topic,
			&area.Score, &area.DetectedAt); err != nil {
			return nil, fmt.Errorf("scanning weak area: %w", err)
		}
		out = append(out, area)
	}
	return out, rows.Err()
}

// installationRepo is backed by the books table. The rollback history is
// stored as a JSONB array, most recent first.
type installationRepo struct {
	q querier
}

func (r *installationRepo) Get(ctx context.Context, subject, grade string) (*models.VKPInstallation, error) {
	var inst models.VKPInstallation
	var history []byte
	err := r.q.QueryRowContext(ctx,
		`SELECT subject_id, grade, active_version, version_history, installed_at
		 FROM books WHERE subject_id = $1 AND grade = $2`, subject, grade).
		Scan(&inst.Subject, &inst.Grade, &inst.ActiveVersion, &history, &inst.InstalledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading installation: %w", err)
	}
	if err := json.Unmarshal(history, &inst.History); err != nil {
		return nil, fmt.Errorf("decoding version history: %w", err)
	}
	return &inst, nil
}

func (r *installationRepo) Upsert(ctx context.Context, inst *models.VKPInstallation) error {
	history, err := json.Marshal(inst.History)
	if err != nil {
		return fmt.Errorf("encoding version history: %w", err)
	}
	_, err = r.q.ExecContext(ctx,
		`INSERT INTO books (subject_id, grade, active_version, version_history, installed_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (subject_id, grade) DO UPDATE SET
		   active_version = EXCLUDED.active_version,
		   version_history = EXCLUDED.version_history,
		   installed_at = EXCLUDED.installed_at`,
		inst.Subject, inst.Grade, inst.ActiveVersion, history, inst.InstalledAt)
	if err != nil {
		return fmt.Errorf("upserting installation: %w", err)
	}
	return nil
}

func (r *installationRepo) List(ctx context.Context) ([]models.VKPInstallation, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT subject_id, grade, active_version, version_history, installed_at
		 FROM books ORDER BY subject_id, grade`)
	if err != nil {
		return nil, fmt.Errorf("listing installations: %w", err)
	}
	defer rows.Close()

	var out []models.VKPInstallation
	for rows.Next() {
		var inst models.VKPInstallation
		var history []byte
		if err := rows.Scan(&inst.Subject, &inst.Grade, &inst.ActiveVersion,
			&history, &inst.InstalledAt); err != nil {
			return nil, fmt.Errorf("scanning installation: %w", err)
		}
		if err := json.Unmarshal(history, &inst.History); err != nil {
			return nil, fmt.Errorf("decoding version history: %w", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

type userRepo struct {
	q querier
}

func (r *userRepo) Exists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := r.q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking user: %w", err)
	}
	return exists, nil
}

type subjectRepo struct {
	q querier
}

func (r *subjectRepo) Exists(ctx context.Context, subjectID string) (bool, error) {
	var exists bool
	err := r.q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM subjects WHERE id = $1)`, subjectID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking subject: %w", err)
	}
	return exists, nil
}

type practiceRepo struct {
	q querier
}

func (r *practiceRepo) ListBySubject(ctx context.Context, subjectID string) ([]models.PracticeQuestion, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, subject_id, topic, question, answer, difficulty
		 FROM practice_questions WHERE subject_id = $1 ORDER BY id`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("listing practice questions: %w", err)
	}
	defer rows.Close()

	var out []models.PracticeQuestion
	for rows.Next() {
		var pq models.PracticeQuestion
		if err := rows.Scan(&pq.ID, &pq.SubjectID, &pq.Topic,
			&pq.Question, &pq.Answer, &pq.Difficulty); err != nil {
			return nil, fmt.Errorf("scanning practice question: %w", err)
		}
		out = append(out, pq)
	}
	return out, rows.Err()
}
