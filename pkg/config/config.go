// Package config loads, validates, and exposes node configuration.
package config

import (
	"time"
)

// Config is the root configuration for one edge node. All long-lived
// components receive the sections they need at construction; there is no
// global mutable configuration state.
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Cache     CacheConfig     `yaml:"cache"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	RAG       RAGConfig       `yaml:"rag"`
	Database  DatabaseConfig  `yaml:"database"`
	Blob      BlobConfig      `yaml:"blob"`
	Puller    PullerConfig    `yaml:"puller"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Backup    BackupConfig    `yaml:"backup"`
	Health    HealthConfig    `yaml:"health"`
}

// NodeConfig holds node identity and operating mode.
type NodeConfig struct {
	// SchoolID identifies this deployment. It never leaves the node in
	// clear form; telemetry carries a salted hash.
	SchoolID string `yaml:"school_id"`

	// SovereignMode disables all cloud-bound background jobs (curriculum
	// pull and telemetry push). Inference and embedding stay local.
	SovereignMode bool `yaml:"sovereign_mode"`

	// DataDir is the root for VKP staging, telemetry queue, and local
	// backups.
	DataDir string `yaml:"data_dir"`

	HTTPPort int `yaml:"http_port"`
}

// SchedulerConfig bounds the inference worker pool.
type SchedulerConfig struct {
	Workers       int `yaml:"workers"`
	QueueCapacity int `yaml:"queue_capacity"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`

	// RedisAddr enables the remote tier when non-empty. On remote failure
	// the cache falls back to the in-process tier for the outage.
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// LLMConfig points at the local inference runtime.
type LLMConfig struct {
	Endpoint      string        `yaml:"endpoint"`
	Model         string        `yaml:"model"`
	MaxTokens     int           `yaml:"max_tokens"`
	ContextWindow int           `yaml:"context_window"` // characters of assembled context
	Timeout       time.Duration `yaml:"timeout"`
}

// EmbeddingConfig points at the query-side embedding backend.
type EmbeddingConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`

	// Fallback enables switching to the local hash embedder when the
	// primary backend fails its retry.
	Fallback bool `yaml:"fallback"`
}

// RAGConfig tunes retrieval.
type RAGConfig struct {
	TopK int `yaml:"top_k"`
}

// DatabaseConfig holds relational store connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`

	MaxOpenConns int `yaml:"max_open_conns"`
	MaxIdleConns int `yaml:"max_idle_conns"`

	// VectorPath is the sqlite-vec database file for the vector store.
	VectorPath string `yaml:"vector_path"`
}

// BlobConfig selects the blob store backend. Kind "fs" stores under
// DataDir; kind "s3" uses the configured bucket.
type BlobConfig struct {
	Kind   string `yaml:"kind"` // "fs" or "s3"
	Bucket string `yaml:"bucket"`
	Region string `yaml:"region"`
	Prefix string `yaml:"prefix"`
}

// PullerConfig controls the curriculum pull job.
type PullerConfig struct {
	Interval     time.Duration `yaml:"interval"`
	RemotePrefix string        `yaml:"remote_prefix"`
}

// TelemetryConfig controls collection and upload.
type TelemetryConfig struct {
	UploadInterval time.Duration `yaml:"upload_interval"`
	RingCapacity   int           `yaml:"ring_capacity"`

	// Salt for the one-way school-id hash in uploaded summaries.
	Salt string `yaml:"salt"`

	// QueueHighWater bounds the persistent upload queue; oldest entries
	// are culled past it.
	QueueHighWater int `yaml:"queue_high_water"`

	UploadPrefix string `yaml:"upload_prefix"`
}

// BackupConfig controls snapshot schedules (cron expressions) and retention.
type BackupConfig struct {
	FullSchedule        string `yaml:"full_schedule"`
	IncrementalSchedule string `yaml:"incremental_schedule"`
	RetentionDays       int    `yaml:"retention_days"`
	Prefix              string `yaml:"prefix"`
}

// HealthConfig controls the component monitor.
type HealthConfig struct {
	CheckInterval time.Duration `yaml:"check_interval"`

	DiskWarnBytes     int64 `yaml:"disk_warn_bytes"`
	DiskCriticalBytes int64 `yaml:"disk_critical_bytes"`
	MemWarnBytes      int64 `yaml:"mem_warn_bytes"`
	MemCriticalBytes  int64 `yaml:"mem_critical_bytes"`

	// ConsecutiveCritical triggers the restart policy when a component
	// reports critical this many checks in a row.
	ConsecutiveCritical int `yaml:"consecutive_critical"`
	MaxRestartAttempts  int `yaml:"max_restart_attempts"`
}
