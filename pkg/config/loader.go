package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the YAML file expected in the config directory.
const ConfigFileName = "sensei.yaml"

// Initialize loads, validates, and returns ready-to-use configuration.
//
// Steps performed:
//  1. Read sensei.yaml from configDir (absent file = all defaults)
//  2. Expand environment variables
//  3. Parse YAML into Config
//  4. Apply default values
//  5. Validate
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg := &Config{}

	path := filepath.Join(configDir, ConfigFileName)
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Warn("No config file found, using defaults", "path", path)
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		expanded := ExpandEnv(data)
		if err := yaml.Unmarshal(expanded, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", ConfigFileName, err)
		}
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized",
		"workers", cfg.Scheduler.Workers,
		"queue_capacity", cfg.Scheduler.QueueCapacity,
		"sovereign_mode", cfg.Node.SovereignMode,
		"blob_kind", cfg.Blob.Kind)

	return cfg, nil
}

// validate rejects configurations that can never run.
func validate(cfg *Config) error {
	if cfg.Scheduler.Workers < 1 {
		return fmt.Errorf("scheduler.workers must be >= 1, got %d", cfg.Scheduler.Workers)
	}
	if cfg.Scheduler.QueueCapacity < 1 {
		return fmt.Errorf("scheduler.queue_capacity must be >= 1, got %d", cfg.Scheduler.QueueCapacity)
	}
	if cfg.Cache.MaxEntries < 1 {
		return fmt.Errorf("cache.max_entries must be >= 1, got %d", cfg.Cache.MaxEntries)
	}
	if cfg.Embedding.Dimension < 1 {
		return fmt.Errorf("embedding.dimension must be >= 1, got %d", cfg.Embedding.Dimension)
	}
	if cfg.RAG.TopK < 1 {
		return fmt.Errorf("rag.top_k must be >= 1, got %d", cfg.RAG.TopK)
	}
	switch cfg.Blob.Kind {
	case "fs":
	case "s3":
		if cfg.Blob.Bucket == "" {
			return fmt.Errorf("blob.bucket is required when blob.kind is s3")
		}
	default:
		return fmt.Errorf("blob.kind must be fs or s3, got %q", cfg.Blob.Kind)
	}
	if !cfg.Node.SovereignMode && cfg.Telemetry.Salt == "" && cfg.Node.SchoolID != "" {
		return fmt.Errorf("telemetry.salt is required when school_id is set and telemetry upload is enabled")
	}
	return nil
}
