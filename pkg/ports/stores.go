package ports

import (
	"context"
	"time"

	"github.com/classedge/sensei/pkg/models"
)

// VectorStore holds per-subject chunk collections keyed by chunk id.
// TopK is deterministic given identical inputs and store state.
// ReplaceSubject swaps the full chunk set for a subject; readers observe
// either the old set or the new set, never a mix.
type VectorStore interface {
	TopK(ctx context.Context, subject string, queryVec []float32, k int) ([]models.RetrievedChunk, error)
	Upsert(ctx context.Context, subject string, chunks []models.Chunk) error
	ReplaceSubject(ctx context.Context, subject string, chunks []models.Chunk) error
	DeleteSubject(ctx context.Context, subject string) error
	CountChunks(ctx context.Context, subject string) (int, error)
	Health(ctx context.Context) error
}

// ChatRepository persists completed query/answer pairs. Append-only from
// the core's perspective.
type ChatRepository interface {
	Insert(ctx context.Context, rec *models.ChatRecord) error
	Count(ctx context.Context) (int, error)
	ListSince(ctx context.Context, since time.Time) ([]models.ChatRecord, error)
}

// MasteryRepository stores per-(user, subject, topic) mastery state.
type MasteryRepository interface {
	Get(ctx context.Context, userID, subjectID, topic string) (*models.MasteryRecord, error)
	Upsert(ctx context.Context, rec *models.MasteryRecord) error
	ListBySubject(ctx context.Context, userID, subjectID string) ([]models.MasteryRecord, error)
}

// WeakAreaRepository stores the derived weak-area view.
type WeakAreaRepository interface {
	Upsert(ctx context.Context, area *models.WeakArea) error
	Delete(ctx context.Context, userID, subjectID, topic string) error
	List(ctx context.Context, userID, subjectID string) ([]models.WeakArea, error)
}

// InstallationRepository records the active VKP version per (subject, grade).
type InstallationRepository interface {
	Get(ctx context.Context, subject, grade string) (*models.VKPInstallation, error)
	Upsert(ctx context.Context, inst *models.VKPInstallation) error
	List(ctx context.Context) ([]models.VKPInstallation, error)
}

// UserRepository is the small user directory used for admission checks.
type UserRepository interface {
	Exists(ctx context.Context, userID string) (bool, error)
}

// SubjectRepository lists the subjects this node serves.
type SubjectRepository interface {
	Exists(ctx context.Context, subjectID string) (bool, error)
}

// PracticeRepository reads the pre-seeded question bank.
type PracticeRepository interface {
	ListBySubject(ctx context.Context, subjectID string) ([]models.PracticeQuestion, error)
}

// RepositorySet groups the repositories sharing one execution scope
// (either the pooled connection or a single transaction).
type RepositorySet interface {
	Chats() ChatRepository
	Mastery() MasteryRepository
	WeakAreas() WeakAreaRepository
	Installations() InstallationRepository
	Users() UserRepository
	Subjects() SubjectRepository
	Practice() PracticeRepository
}

// RelationalStore is the transactional store behind the repositories.
// WithinTx runs fn inside one transaction: fn's RepositorySet shares the
// transaction, a nil return commits, any error rolls back.
type RelationalStore interface {
	Repos() RepositorySet
	WithinTx(ctx context.Context, fn func(repos RepositorySet) error) error
	Health(ctx context.Context) error
}

// ObjectInfo describes one listed blob.
type ObjectInfo struct {
	Key  string
	Size int64
	ETag string
}

// BlobStore is used only by background jobs (curriculum pull, telemetry
// push, backup). Never on the request path.
type BlobStore interface {
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Get(ctx context.Context, key string) ([]byte, string, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// Random abstracts the seed source for deterministic selection in tests.
type Random interface {
	Int64() int64
}
