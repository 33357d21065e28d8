package vkp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/classedge/sensei/pkg/cache"
	"github.com/classedge/sensei/pkg/metrics"
	"github.com/classedge/sensei/pkg/models"
	"github.com/classedge/sensei/pkg/ports"
)

// historyDepth bounds the rollback history per (subject, grade).
const historyDepth = 3

// Manager owns VKP installations: verify, swap the subject's chunk set,
// record the installation, invalidate cached responses. Installs on one
// (subject, grade) are serialized; reads of the active version are
// lock-free snapshots.
type Manager struct {
	store     ports.RelationalStore
	vectors   ports.VectorStore
	cache     *cache.Service
	archive   ports.BlobStore // local package archive backing rollback
	dimension int             // active embedding backend dimension
	clock     ports.Clock
	metrics   *metrics.Metrics

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per (subject, grade)

	active sync.Map // subject -> version string
}

// NewManager wires the manager. dimension is the embedding backend's
// vector dimension; packages that disagree are refused.
func NewManager(
	store ports.RelationalStore,
	vectors ports.VectorStore,
	cacheSvc *cache.Service,
	archive ports.BlobStore,
	dimension int,
	clock ports.Clock,
	m *metrics.Metrics,
) *Manager {
	return &Manager{
		store:     store,
		vectors:   vectors,
		cache:     cacheSvc,
		archive:   archive,
		dimension: dimension,
		clock:     clock,
		metrics:   m,
		locks:     make(map[string]*sync.Mutex),
	}
}

// LoadInstalled hydrates the active-version snapshots from the store.
// Called once at startup before the node serves queries.
func (m *Manager) LoadInstalled(ctx context.Context) error {
	installed, err := m.store.Repos().Installations().List(ctx)
	if err != nil {
		return fmt.Errorf("listing installations: %w", err)
	}
	for _, inst := range installed {
		m.active.Store(inst.Subject, inst.ActiveVersion)
	}
	return nil
}

// ActiveVersion returns the active version for a subject, empty when no
// package is installed. Lock-free; safe on the request path.
func (m *Manager) ActiveVersion(subjectID string) string {
	if v, ok := m.active.Load(subjectID); ok {
		return v.(string)
	}
	return ""
}

// Install verifies and activates a serialized package. On any verification
// failure the node's state is untouched.
func (m *Manager) Install(ctx context.Context, data []byte) (*models.VKPInstallation, error) {
	pkg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := Verify(pkg); err != nil {
		return nil, err
	}
	if dim := pkg.Dimension(); dim != m.dimension {
		return nil, models.Kindf(models.KindIncompatibleEmbedding,
			"package dimension %d, embedding backend %d", dim, m.dimension)
	}

	subject, grade, version := pkg.Manifest.Subject, pkg.Manifest.Grade, pkg.Manifest.Version
	unlock := m.lockSubject(subject, grade)
	defer unlock()

	// Archive the verified bytes first so rollback can restore this
	// version later.
	if err := m.archive.Put(ctx, archiveKey(subject, grade, version), data); err != nil {
		return nil, models.NewKindError(models.KindDependencyUnavailable,
			fmt.Errorf("archiving package: %w", err))
	}

	if err := m.vectors.ReplaceSubject(ctx, subject, pkg.Chunks); err != nil {
		return nil, models.NewKindError(models.KindDependencyUnavailable,
			fmt.Errorf("replacing chunk set: %w", err))
	}

	inst, err := m.recordInstall(ctx, subject, grade, version)
	if err != nil {
		return nil, models.NewKindError(models.KindDependencyUnavailable, err)
	}

	m.active.Store(subject, version)
	m.cache.Invalidate(ctx, cache.SubjectWildcard(subject))
	m.metrics.IncVKPInstall()
	slog.Info("VKP installed",
		"subject", subject, "grade", grade, "version", version,
		"chunks", len(pkg.Chunks))
	return inst, nil
}

// Rollback reactivates the most recent history entry from the archive.
func (m *Manager) Rollback(ctx context.Context, subject, grade string) (*models.VKPInstallation, error) {
	unlock := m.lockSubject(subject, grade)
	defer unlock()

	inst, err := m.store.Repos().Installations().Get(ctx, subject, grade)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil, models.Kindf(models.KindNoRollbackTarget,
				"no installation for %s grade %s", subject, grade)
		}
		return nil, models.NewKindError(models.KindDependencyUnavailable, err)
	}
	if len(inst.History) == 0 {
		return nil, models.Kindf(models.KindNoRollbackTarget,
			"%s grade %s has no prior version", subject, grade)
	}

	target := inst.History[0]
	data, _, err := m.archive.Get(ctx, archiveKey(subject, grade, target))
	if err != nil {
		return nil, models.NewKindError(models.KindNoRollbackTarget,
			fmt.Errorf("archived package %s unavailable: %w", target, err))
	}
	pkg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if err := m.vectors.ReplaceSubject(ctx, subject, pkg.Chunks); err != nil {
		return nil, models.NewKindError(models.KindDependencyUnavailable,
			fmt.Errorf("restoring chunk set: %w", err))
	}

	inst.ActiveVersion = target
	inst.History = inst.History[1:]
	inst.InstalledAt = m.clock.Now()
	if err := m.store.Repos().Installations().Upsert(ctx, inst); err != nil {
		return nil, models.NewKindError(models.KindDependencyUnavailable, err)
	}

	m.active.Store(subject, target)
	m.cache.Invalidate(ctx, cache.SubjectWildcard(subject))
	m.metrics.IncVKPRollback()
	slog.Info("VKP rolled back",
		"subject", subject, "grade", grade, "version", target)
	return inst, nil
}

// recordInstall pushes the previous active version into bounded history
// and activates the new one.
func (m *Manager) recordInstall(ctx context.Context, subject, grade, version string) (*models.VKPInstallation, error) {
	repos := m.store.Repos()
	inst, err := repos.Installations().Get(ctx, subject, grade)
	if err != nil {
		if !errors.Is(err, ports.ErrNotFound) {
			return nil, fmt.Errorf("loading installation: %w", err)
		}
		inst = &models.VKPInstallation{Subject: subject, Grade: grade}
	}

	if inst.ActiveVersion != "" && inst.ActiveVersion != version {
		inst.History = append([]string{inst.ActiveVersion}, inst.History...)
		if len(inst.History) > historyDepth {
			inst.History = inst.History[:historyDepth]
		}
	}
	inst.ActiveVersion = version
	inst.InstalledAt = m.clock.Now()

	if err := repos.Installations().Upsert(ctx, inst); err != nil {
		return nil, fmt.Errorf("recording installation: %w", err)
	}
	return inst, nil
}

func (m *Manager) lockSubject(subject, grade string) func() {
	key := subject + "|" + grade
	m.mu.Lock()
	lock, ok := m.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[key] = lock
	}
	m.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

func archiveKey(subject, grade, version string) string {
	return fmt.Sprintf("vkp/%s/%s/%s.json", subject, grade, version)
}
