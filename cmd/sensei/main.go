// Sensei edge node: answers student questions over locally installed
// curriculum packages, tracks mastery, and syncs curriculum and telemetry
// with the cloud when a link exists.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/classedge/sensei/pkg/api"
	"github.com/classedge/sensei/pkg/backup"
	"github.com/classedge/sensei/pkg/blobstore"
	"github.com/classedge/sensei/pkg/cache"
	"github.com/classedge/sensei/pkg/config"
	"github.com/classedge/sensei/pkg/database"
	"github.com/classedge/sensei/pkg/health"
	"github.com/classedge/sensei/pkg/llm"
	"github.com/classedge/sensei/pkg/metrics"
	"github.com/classedge/sensei/pkg/pedagogy"
	"github.com/classedge/sensei/pkg/ports"
	"github.com/classedge/sensei/pkg/puller"
	"github.com/classedge/sensei/pkg/rag"
	"github.com/classedge/sensei/pkg/scheduler"
	"github.com/classedge/sensei/pkg/telemetry"
	"github.com/classedge/sensei/pkg/vectorstore"
	"github.com/classedge/sensei/pkg/version"
	"github.com/classedge/sensei/pkg/vkp"
)

// exitDrained tells the supervisor the node drained after repeated
// critical health checks and wants a restart.
const exitDrained = 3

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	os.Exit(run())
}

func run() int {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	}

	ctx := context.Background()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		return 1
	}

	slog.Info("Starting sensei",
		"version", version.Full(),
		"school_id", cfg.Node.SchoolID,
		"sovereign_mode", cfg.Node.SovereignMode,
		"http_port", cfg.Node.HTTPPort)

	if err := os.MkdirAll(cfg.Node.DataDir, 0o755); err != nil {
		slog.Error("Failed to create data directory", "path", cfg.Node.DataDir, "error", err)
		return 1
	}

	clock := ports.SystemClock{}
	m := metrics.New()

	// Relational store (runs embedded migrations).
	dbClient, err := database.NewClient(ctx, database.FromConfig(cfg.Database))
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		return 1
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	store := database.NewStore(dbClient)
	slog.Info("Connected to PostgreSQL database")

	// Vector store.
	vectors, err := vectorstore.New(cfg.Database.VectorPath)
	if err != nil {
		slog.Error("Failed to open vector store", "path", cfg.Database.VectorPath, "error", err)
		return 1
	}
	defer func() {
		if err := vectors.Close(); err != nil {
			slog.Error("Error closing vector store", "error", err)
		}
	}()

	// Blob stores: the configured remote plus the local package archive
	// backing rollback.
	blob, err := blobstore.New(ctx, cfg.Blob, cfg.Node.DataDir)
	if err != nil {
		slog.Error("Failed to initialize blob store", "kind", cfg.Blob.Kind, "error", err)
		return 1
	}
	archive, err := blobstore.NewFS(filepath.Join(cfg.Node.DataDir, "archive"))
	if err != nil {
		slog.Error("Failed to initialize package archive", "error", err)
		return 1
	}

	// Response cache.
	cacheSvc, err := cache.New(cfg.Cache.MaxEntries, cfg.Cache.TTL,
		cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB, clock)
	if err != nil {
		slog.Error("Failed to initialize response cache", "error", err)
		return 1
	}
	defer func() { _ = cacheSvc.Close() }()

	// Local inference and embedding backends.
	llmClient := llm.NewClient(cfg.LLM)
	embedder := llm.NewEmbedder(cfg.Embedding)

	// Telemetry collection.
	collector := telemetry.NewCollector(cfg.Telemetry.RingCapacity, m)

	// VKP manager, hydrated with the installed versions.
	manager := vkp.NewManager(store, vectors, cacheSvc, archive, embedder.Dimension(), clock, m)
	if err := manager.LoadInstalled(ctx); err != nil {
		slog.Error("Failed to load installed packages", "error", err)
		return 1
	}

	// Pedagogy.
	tracker := pedagogy.NewTracker(clock, m)
	selector := pedagogy.NewPracticeSelector(ports.SystemRandom{})

	// Answer pipeline and worker pool.
	orch := rag.New(llmClient, embedder, vectors, store, cacheSvc, manager, tracker, collector,
		clock, m, rag.Config{
			TopK:          cfg.RAG.TopK,
			MaxTokens:     cfg.LLM.MaxTokens,
			ContextWindow: cfg.LLM.ContextWindow,
		}, uuid.NewString)
	sched := scheduler.New(orch, cfg.Scheduler.Workers, cfg.Scheduler.QueueCapacity, clock, m)
	sched.Start(ctx)

	// Telemetry pipeline. Sovereign mode keeps collection and the local
	// queue but never pushes.
	var telemetryRemote ports.BlobStore
	if !cfg.Node.SovereignMode {
		telemetryRemote = blob
	}
	resourceProbe := health.OSProbe(cfg.Node.DataDir)
	storageProbe := func(context.Context) map[string]int64 {
		diskFree, memFree, err := resourceProbe()
		if err != nil {
			return nil
		}
		return map[string]int64{"disk_free": diskFree, "mem_available": memFree}
	}
	pipeline, err := telemetry.NewPipeline(collector, telemetryRemote, storageProbe, clock, m,
		telemetry.PipelineConfig{
			Interval:     cfg.Telemetry.UploadInterval,
			QueueDir:     filepath.Join(cfg.Node.DataDir, "telemetry-queue"),
			HighWater:    cfg.Telemetry.QueueHighWater,
			SchoolID:     cfg.Node.SchoolID,
			Salt:         cfg.Telemetry.Salt,
			UploadPrefix: cfg.Telemetry.UploadPrefix,
			NodeVersion:  version.Full(),
		})
	if err != nil {
		slog.Error("Failed to initialize telemetry pipeline", "error", err)
		return 1
	}
	pipeline.Start(ctx)

	// Curriculum puller, disabled in sovereign mode.
	var pull *puller.Service
	if cfg.Node.SovereignMode {
		slog.Info("Sovereign mode: curriculum pull and telemetry push disabled")
	} else {
		pull = puller.New(blob, manager, cfg.Puller.Interval, cfg.Puller.RemotePrefix)
		pull.Start(ctx)
	}

	// Backup schedules.
	bk, err := backup.New(store, vectors, blob, clock, backup.Config{
		FullSchedule:        cfg.Backup.FullSchedule,
		IncrementalSchedule: cfg.Backup.IncrementalSchedule,
		RetentionDays:       cfg.Backup.RetentionDays,
		Prefix:              cfg.Backup.Prefix,
	})
	if err != nil {
		slog.Error("Failed to initialize backup schedules", "error", err)
		return 1
	}
	bk.Start()

	// Health monitor. Repeated critical checks drain the node and exit
	// with the restart code.
	criticalCh := make(chan struct{}, 1)
	monitor := health.NewMonitor(llmClient, vectors, store, resourceProbe,
		clock, health.Config{
			Interval:            cfg.Health.CheckInterval,
			DiskWarnBytes:       cfg.Health.DiskWarnBytes,
			DiskCriticalBytes:   cfg.Health.DiskCriticalBytes,
			MemWarnBytes:        cfg.Health.MemWarnBytes,
			MemCriticalBytes:    cfg.Health.MemCriticalBytes,
			ConsecutiveCritical: cfg.Health.ConsecutiveCritical,
			MaxRestartAttempts:  cfg.Health.MaxRestartAttempts,
		}, func() {
			select {
			case criticalCh <- struct{}{}:
			default:
			}
		})
	monitor.Start(ctx)

	// HTTP server (non-blocking).
	apiServer := api.NewServer(sched, cacheSvc, manager, monitor, store, selector, m, clock, uuid.NewString)
	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Node.HTTPPort)
		slog.Info("HTTP server listening", "addr", addr)
		if err := apiServer.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	slog.Info("Sensei started",
		"workers", cfg.Scheduler.Workers,
		"queue_capacity", cfg.Scheduler.QueueCapacity)

	// Wait for a shutdown signal, a server error, or the restart policy.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	exitCode := 0
	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
		exitCode = 1
	case <-criticalCh:
		slog.Error("Draining after repeated critical health checks")
		exitCode = exitDrained
	}

	// Staged shutdown: stop admitting and cancel in-flight queries, stop
	// the background jobs (flushing the telemetry queue), then close the
	// HTTP listener.
	sched.Stop()
	if pull != nil {
		pull.Stop()
	}
	bk.Stop()
	monitor.Stop()
	pipeline.Stop()

	httpCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(httpCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
	return exitCode
}
