package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sort"
	"time"

	"github.com/classedge/sensei/pkg/models"
)

// Aggregate folds raw events into one summary per hour bucket, ordered by
// bucket. schoolHash is attached as-is (already anonymized by the caller).
func Aggregate(events []models.TelemetryEvent, schoolHash string, storage map[string]int64) []models.TelemetrySummary {
	byBucket := make(map[time.Time][]models.TelemetryEvent)
	for _, ev := range events {
		byBucket[ev.HourBucket] = append(byBucket[ev.HourBucket], ev)
	}

	buckets := make([]time.Time, 0, len(byBucket))
	for b := range byBucket {
		buckets = append(buckets, b)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Before(buckets[j]) })

	out := make([]models.TelemetrySummary, 0, len(buckets))
	for _, bucket := range buckets {
		out = append(out, summarize(bucket, byBucket[bucket], schoolHash, storage))
	}
	return out
}

func summarize(bucket time.Time, events []models.TelemetryEvent, schoolHash string, storage map[string]int64) models.TelemetrySummary {
	s := models.TelemetrySummary{
		SchoolHash:    schoolHash,
		HourBucket:    bucket,
		Count:         len(events),
		ErrorKinds:    make(map[string]int),
		SubjectCounts: make(map[string]int),
		VersionCounts: make(map[string]int),
		StorageBytes:  storage,
	}

	latencies := make([]int64, 0, len(events))
	hits := 0
	for _, ev := range events {
		latencies = append(latencies, ev.LatencyMS)
		if ev.Success {
			s.Successes++
		} else {
			s.Failures++
			s.ErrorKinds[string(ev.ErrorKind)]++
		}
		if ev.CacheHit {
			hits++
		}
		if ev.SubjectID != "" {
			s.SubjectCounts[ev.SubjectID]++
		}
		if ev.VKPVersion != "" {
			s.VersionCounts[ev.VKPVersion]++
		}
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	s.LatencyP50MS = percentile(latencies, 0.50)
	s.LatencyP90MS = percentile(latencies, 0.90)
	s.LatencyP99MS = percentile(latencies, 0.99)
	if len(events) > 0 {
		s.CacheHitRate = float64(hits) / float64(len(events))
	}
	return s
}

// percentile uses the nearest-rank method over a sorted slice.
func percentile(sorted []int64, q float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(q*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	return sorted[rank]
}

// SchoolHash anonymizes a school identifier with a salted one-way hash.
// Empty school id yields an empty hash.
func SchoolHash(schoolID, salt string) string {
	if schoolID == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(salt + ":" + schoolID))
	return hex.EncodeToString(sum[:])
}
