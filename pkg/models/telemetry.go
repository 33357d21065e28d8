package models

import "time"

// TelemetryEvent is the per-query anonymized record. The schema is closed:
// no user id, no question or answer text, no IP, no session token. The PII
// scrubber enforces this again on the serialized payload before upload.
type TelemetryEvent struct {
	HourBucket   time.Time `json:"hour_bucket"` // truncated to the hour
	LatencyMS    int64     `json:"latency_ms"`
	Success      bool      `json:"success"`
	ErrorKind    ErrorKind `json:"error_kind,omitempty"`
	SubjectID    string    `json:"subject_id"`
	VKPVersion   string    `json:"vkp_version"`
	CacheHit     bool      `json:"cache_hit"`
}

// TelemetrySummary is one hour-bucketed aggregate ready for upload.
type TelemetrySummary struct {
	SchoolHash    string            `json:"school_hash,omitempty"`
	NodeVersion   string            `json:"node_version,omitempty"`
	HourBucket    time.Time         `json:"hour_bucket"`
	Count         int               `json:"count"`
	Successes     int               `json:"successes"`
	Failures      int               `json:"failures"`
	LatencyP50MS  int64             `json:"latency_p50_ms"`
	LatencyP90MS  int64             `json:"latency_p90_ms"`
	LatencyP99MS  int64             `json:"latency_p99_ms"`
	ErrorKinds    map[string]int    `json:"error_kinds,omitempty"`
	CacheHitRate  float64           `json:"cache_hit_rate"`
	SubjectCounts map[string]int    `json:"subject_counts,omitempty"`
	VersionCounts map[string]int    `json:"version_counts,omitempty"`
	StorageBytes  map[string]int64  `json:"storage_bytes,omitempty"`
}
