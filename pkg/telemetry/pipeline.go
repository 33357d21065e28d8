package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/classedge/sensei/pkg/metrics"
	"github.com/classedge/sensei/pkg/ports"
)

// DefaultUploadPrefix is where pushed summaries land in the blob store.
const DefaultUploadPrefix = "telemetry/"

// StorageProbe reads current storage usage per store for the summary.
type StorageProbe func(ctx context.Context) map[string]int64

// PipelineConfig bounds the upload pipeline.
type PipelineConfig struct {
	Interval     time.Duration
	QueueDir     string
	HighWater    int // max queued files before oldest-first culling
	SchoolID     string
	Salt         string
	UploadPrefix string
	NodeVersion  string // stamped into summaries for rollout tracking
}

// Pipeline drains the collector on a tick, writes scrubbed summaries to a
// persistent queue directory, and pushes the queue through the blob
// store. A nil remote (sovereign mode) queues without pushing.
type Pipeline struct {
	collector *Collector
	remote    ports.BlobStore
	probe     StorageProbe
	clock     ports.Clock
	metrics   *metrics.Metrics
	cfg       PipelineConfig

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewPipeline wires the pipeline. probe and remote may be nil.
func NewPipeline(collector *Collector, remote ports.BlobStore, probe StorageProbe, clock ports.Clock, m *metrics.Metrics, cfg PipelineConfig) (*Pipeline, error) {
	if cfg.HighWater <= 0 {
		cfg.HighWater = 500
	}
	if cfg.UploadPrefix == "" {
		cfg.UploadPrefix = DefaultUploadPrefix
	}
	if err := os.MkdirAll(cfg.QueueDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating telemetry queue dir: %w", err)
	}
	return &Pipeline{
		collector: collector,
		remote:    remote,
		probe:     probe,
		clock:     clock,
		metrics:   m,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Start launches the tick loop.
func (p *Pipeline) Start(ctx context.Context) {
	go func() {
		defer close(p.doneCh)
		ticker := time.NewTicker(p.cfg.Interval)
		defer ticker.Stop()

		slog.Info("Telemetry pipeline started",
			"interval", p.cfg.Interval, "queue_dir", p.cfg.QueueDir)
		for {
			select {
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.RunOnce(ctx)
			}
		}
	}()
}

// Stop halts the loop, then flushes buffered events to the queue so a
// restart loses nothing.
func (p *Pipeline) Stop() {
	close(p.stopCh)
	<-p.doneCh
	p.Flush(context.Background())
}

// RunOnce performs one aggregate-queue-push cycle.
func (p *Pipeline) RunOnce(ctx context.Context) {
	p.Flush(ctx)
	p.push(ctx)
}

// Flush aggregates the ring into queued summary files without pushing.
func (p *Pipeline) Flush(ctx context.Context) {
	events := p.collector.Snapshot()
	if len(events) == 0 {
		return
	}

	var storage map[string]int64
	if p.probe != nil {
		storage = p.probe(ctx)
	}
	schoolHash := SchoolHash(p.cfg.SchoolID, p.cfg.Salt)

	for _, summary := range Aggregate(events, schoolHash, storage) {
		summary.NodeVersion = p.cfg.NodeVersion
		payload, err := json.Marshal(summary)
		if err != nil {
			slog.Error("Failed to encode telemetry summary", "error", err)
			continue
		}
		// Hard gate: a payload that fails scrub is dropped and counted,
		// never logged with contents.
		if err := Scrub(payload); err != nil {
			p.metrics.IncTelemetryDropped()
			slog.Warn("Telemetry summary dropped by scrubber", "reason", err)
			continue
		}
		if err := p.enqueue(payload); err != nil {
			slog.Error("Failed to queue telemetry summary", "error", err)
		}
	}
	p.cull()
}

func (p *Pipeline) enqueue(payload []byte) error {
	name := fmt.Sprintf("%d-%s.json", p.clock.Now().UnixNano(), uuid.NewString())
	return os.WriteFile(filepath.Join(p.cfg.QueueDir, name), payload, 0o644)
}

// cull drops the oldest queued files past the high-water mark. Offline
// nodes queue indefinitely up to this bound.
func (p *Pipeline) cull() {
	files, err := p.queuedFiles()
	if err != nil || len(files) <= p.cfg.HighWater {
		return
	}
	excess := files[:len(files)-p.cfg.HighWater]
	for _, f := range excess {
		_ = os.Remove(filepath.Join(p.cfg.QueueDir, f))
	}
	slog.Warn("Telemetry queue over high-water mark, culled oldest entries",
		"culled", len(excess), "high_water", p.cfg.HighWater)
}

// push uploads queued files oldest first, removing each on success. The
// first failure stops the pass; remaining files wait for the next tick.
func (p *Pipeline) push(ctx context.Context) {
	if p.remote == nil {
		return
	}
	files, err := p.queuedFiles()
	if err != nil {
		slog.Error("Failed to list telemetry queue", "error", err)
		return
	}

	for _, name := range files {
		path := filepath.Join(p.cfg.QueueDir, name)
		payload, err := os.ReadFile(path)
		if err != nil {
			slog.Error("Failed to read queued telemetry", "file", name, "error", err)
			continue
		}
		if err := p.remote.Put(ctx, p.cfg.UploadPrefix+name, payload); err != nil {
			slog.Warn("Telemetry push failed, leaving queue intact", "error", err)
			return
		}
		_ = os.Remove(path)
	}
}

// queuedFiles lists queue entries sorted oldest first (names begin with a
// nanosecond timestamp).
func (p *Pipeline) queuedFiles() ([]string, error) {
	entries, err := os.ReadDir(p.cfg.QueueDir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// QueueDepth reports the number of queued summaries.
func (p *Pipeline) QueueDepth() int {
	files, err := p.queuedFiles()
	if err != nil {
		return 0
	}
	return len(files)
}
