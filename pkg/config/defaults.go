package config

import "time"

// applyDefaults fills unset fields with production defaults. Called after
// YAML parsing and before validation.
func applyDefaults(cfg *Config) {
	if cfg.Node.DataDir == "" {
		cfg.Node.DataDir = "./data"
	}
	if cfg.Node.HTTPPort == 0 {
		cfg.Node.HTTPPort = 8080
	}

	if cfg.Scheduler.Workers == 0 {
		cfg.Scheduler.Workers = 5
	}
	if cfg.Scheduler.QueueCapacity == 0 {
		cfg.Scheduler.QueueCapacity = 1000
	}

	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 24 * time.Hour
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 1000
	}

	if cfg.LLM.Endpoint == "" {
		cfg.LLM.Endpoint = "http://localhost:11434"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 1024
	}
	if cfg.LLM.ContextWindow == 0 {
		cfg.LLM.ContextWindow = 8192
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 2 * time.Minute
	}

	if cfg.Embedding.Endpoint == "" {
		cfg.Embedding.Endpoint = cfg.LLM.Endpoint
	}
	if cfg.Embedding.Dimension == 0 {
		cfg.Embedding.Dimension = 384
	}

	if cfg.RAG.TopK == 0 {
		cfg.RAG.TopK = 5
	}

	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.VectorPath == "" {
		cfg.Database.VectorPath = cfg.Node.DataDir + "/vectors.db"
	}

	if cfg.Blob.Kind == "" {
		cfg.Blob.Kind = "fs"
	}

	if cfg.Puller.Interval == 0 {
		cfg.Puller.Interval = time.Hour
	}
	if cfg.Puller.RemotePrefix == "" {
		cfg.Puller.RemotePrefix = "vkp/"
	}

	if cfg.Telemetry.UploadInterval == 0 {
		cfg.Telemetry.UploadInterval = time.Hour
	}
	if cfg.Telemetry.RingCapacity == 0 {
		cfg.Telemetry.RingCapacity = 4096
	}
	if cfg.Telemetry.QueueHighWater == 0 {
		cfg.Telemetry.QueueHighWater = 500
	}
	if cfg.Telemetry.UploadPrefix == "" {
		cfg.Telemetry.UploadPrefix = "telemetry/"
	}

	if cfg.Backup.FullSchedule == "" {
		cfg.Backup.FullSchedule = "0 2 * * 0" // weekly, Sunday 02:00
	}
	if cfg.Backup.IncrementalSchedule == "" {
		cfg.Backup.IncrementalSchedule = "0 3 * * *" // daily 03:00
	}
	if cfg.Backup.RetentionDays == 0 {
		cfg.Backup.RetentionDays = 28
	}
	if cfg.Backup.Prefix == "" {
		cfg.Backup.Prefix = "backup/"
	}

	if cfg.Health.CheckInterval == 0 {
		cfg.Health.CheckInterval = 5 * time.Minute
	}
	if cfg.Health.DiskWarnBytes == 0 {
		cfg.Health.DiskWarnBytes = 5 << 30 // 5 GiB free
	}
	if cfg.Health.DiskCriticalBytes == 0 {
		cfg.Health.DiskCriticalBytes = 1 << 30
	}
	if cfg.Health.MemWarnBytes == 0 {
		cfg.Health.MemWarnBytes = 1 << 30
	}
	if cfg.Health.MemCriticalBytes == 0 {
		cfg.Health.MemCriticalBytes = 256 << 20
	}
	if cfg.Health.ConsecutiveCritical == 0 {
		cfg.Health.ConsecutiveCritical = 3
	}
	if cfg.Health.MaxRestartAttempts == 0 {
		cfg.Health.MaxRestartAttempts = 3
	}
}
