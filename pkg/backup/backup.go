// Package backup writes scheduled snapshots of the relational and vector
// stores through the blob store and prunes expired ones.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/classedge/sensei/pkg/models"
	"github.com/classedge/sensei/pkg/ports"
)

// DefaultPrefix is the blob-store namespace snapshots land under.
const DefaultPrefix = "backups/"

// Snapshot kinds.
const (
	KindFull        = "full"
	KindIncremental = "incremental"
)

// Snapshot is the serialized backup document. An incremental snapshot
// carries only chat rows written since its base full snapshot.
type Snapshot struct {
	ID            string                   `json:"id"`
	Kind          string                   `json:"kind"`
	BaseID        string                   `json:"base_id,omitempty"`
	CreatedAt     time.Time                `json:"created_at"`
	Chats         []models.ChatRecord      `json:"chats"`
	Installations []models.VKPInstallation `json:"installations"`
	ChunkCounts   map[string]int           `json:"chunk_counts"`
}

// Config carries the cron schedules and the retention window.
type Config struct {
	FullSchedule        string // cron, default weekly
	IncrementalSchedule string // cron, default daily
	RetentionDays       int
	Prefix              string
}

// Service runs the snapshot schedules. Snapshot work happens on the cron
// goroutine and never touches the inference worker pool.
type Service struct {
	store   ports.RelationalStore
	vectors ports.VectorStore
	blob    ports.BlobStore
	clock   ports.Clock
	cfg     Config

	cron *cron.Cron

	mu           sync.Mutex
	lastFullID   string
	lastFullTime time.Time
}

// New wires the service and validates the schedules.
func New(store ports.RelationalStore, vectors ports.VectorStore, blob ports.BlobStore, clock ports.Clock, cfg Config) (*Service, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	s := &Service{
		store:   store,
		vectors: vectors,
		blob:    blob,
		clock:   clock,
		cfg:     cfg,
		cron:    cron.New(),
	}

	if _, err := s.cron.AddFunc(cfg.FullSchedule, func() {
		if _, err := s.RunFull(context.Background()); err != nil {
			slog.Error("Full backup failed", "error", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid full backup schedule %q: %w", cfg.FullSchedule, err)
	}
	if _, err := s.cron.AddFunc(cfg.IncrementalSchedule, func() {
		if _, err := s.RunIncremental(context.Background()); err != nil {
			slog.Error("Incremental backup failed", "error", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid incremental backup schedule %q: %w", cfg.IncrementalSchedule, err)
	}
	return s, nil
}

// Start launches the schedules.
func (s *Service) Start() {
	s.cron.Start()
	slog.Info("Backup schedules started",
		"full", s.cfg.FullSchedule, "incremental", s.cfg.IncrementalSchedule)
}

// Stop halts the schedules and waits for a running snapshot.
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
}

// RunFull snapshots all chat history plus installation state, then prunes
// expired snapshots.
func (s *Service) RunFull(ctx context.Context) (*Snapshot, error) {
	snap, err := s.buildSnapshot(ctx, KindFull, "", time.Time{})
	if err != nil {
		return nil, err
	}
	if err := s.write(ctx, snap); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.lastFullID = snap.ID
	s.lastFullTime = snap.CreatedAt
	s.mu.Unlock()

	s.Prune(ctx)
	slog.Info("Full backup written", "backup_id", snap.ID, "chats", len(snap.Chats))
	return snap, nil
}

// RunIncremental snapshots chat rows since the last full snapshot. With
// no full snapshot yet it runs a full one instead.
func (s *Service) RunIncremental(ctx context.Context) (*Snapshot, error) {
	s.mu.Lock()
	baseID, since := s.lastFullID, s.lastFullTime
	s.mu.Unlock()
	if baseID == "" {
		return s.RunFull(ctx)
	}

	snap, err := s.buildSnapshot(ctx, KindIncremental, baseID, since)
	if err != nil {
		return nil, err
	}
	if err := s.write(ctx, snap); err != nil {
		return nil, err
	}
	slog.Info("Incremental backup written",
		"backup_id", snap.ID, "base_id", baseID, "chats", len(snap.Chats))
	return snap, nil
}

// Prune removes snapshots older than the retention window.
func (s *Service) Prune(ctx context.Context) {
	if s.cfg.RetentionDays <= 0 {
		return
	}
	objects, err := s.blob.List(ctx, s.cfg.Prefix)
	if err != nil {
		slog.Warn("Backup prune skipped, listing failed", "error", err)
		return
	}

	cutoff := s.clock.Now().AddDate(0, 0, -s.cfg.RetentionDays)
	for _, obj := range objects {
		created, ok := snapshotTime(obj.Key, s.cfg.Prefix)
		if !ok || !created.Before(cutoff) {
			continue
		}
		if err := s.blob.Delete(ctx, obj.Key); err != nil {
			slog.Warn("Failed to prune expired backup", "key", obj.Key, "error", err)
		}
	}
}

func (s *Service) buildSnapshot(ctx context.Context, kind, baseID string, since time.Time) (*Snapshot, error) {
	repos := s.store.Repos()
	chats, err := repos.Chats().ListSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("reading chat history: %w", err)
	}
	installations, err := repos.Installations().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading installations: %w", err)
	}

	counts := make(map[string]int, len(installations))
	for _, inst := range installations {
		n, err := s.vectors.CountChunks(ctx, inst.Subject)
		if err != nil {
			return nil, fmt.Errorf("counting chunks for %s: %w", inst.Subject, err)
		}
		counts[inst.Subject] = n
	}

	return &Snapshot{
		ID:            uuid.NewString(),
		Kind:          kind,
		BaseID:        baseID,
		CreatedAt:     s.clock.Now(),
		Chats:         chats,
		Installations: installations,
		ChunkCounts:   counts,
	}, nil
}

func (s *Service) write(ctx context.Context, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	key := fmt.Sprintf("%s%d-%s-%s.json", s.cfg.Prefix, snap.CreatedAt.Unix(), snap.Kind, snap.ID)
	if err := s.blob.Put(ctx, key, data); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

// snapshotTime recovers the creation time from a snapshot key.
func snapshotTime(key, prefix string) (time.Time, bool) {
	name, ok := strings.CutPrefix(key, prefix)
	if !ok {
		return time.Time{}, false
	}
	ts, _, ok := strings.Cut(name, "-")
	if !ok {
		return time.Time{}, false
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(unix, 0), true
}
