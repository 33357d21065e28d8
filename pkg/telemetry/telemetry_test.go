package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classedge/sensei/pkg/models"
	"github.com/classedge/sensei/pkg/ports/portstest"
)

func event(latency int64, success bool) models.TelemetryEvent {
	return models.TelemetryEvent{
		HourBucket: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
		LatencyMS:  latency,
		Success:    success,
		SubjectID:  "math-5",
		VKPVersion: "1.2.0",
	}
}

func TestCollector_RecordAndSnapshot(t *testing.T) {
	c := NewCollector(8, nil)
	for i := 0; i < 5; i++ {
		c.Record(event(int64(i), true))
	}

	events := c.Snapshot()
	require.Len(t, events, 5)
	for i, ev := range events {
		assert.Equal(t, int64(i), ev.LatencyMS, "arrival order preserved")
	}
	assert.Empty(t, c.Snapshot(), "snapshot resets the ring")
	assert.Zero(t, c.Overflows())
}

func TestCollector_OverflowOverwritesOldest(t *testing.T) {
	c := NewCollector(3, nil)
	for i := 0; i < 5; i++ {
		c.Record(event(int64(i), true))
	}

	events := c.Snapshot()
	require.Len(t, events, 3)
	assert.Equal(t, int64(2), events[0].LatencyMS)
	assert.Equal(t, int64(4), events[2].LatencyMS)
	assert.Equal(t, int64(2), c.Overflows())
}

func TestScrub(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		clean   bool
	}{
		{"clean summary", `{"hour_bucket":"2026-03-10T09:00:00Z","count":12,"latency_p50_ms":950}`, true},
		{"school hash hex survives", `{"school_hash":"ab12345678901cdef90123456fff"}`, true},
		{"email rejected", `{"note":"contact bob@school.example.org"}`, false},
		{"phone digit run rejected", `{"note":"call 5551234567"}`, false},
		{"question field rejected", `{"question":"what is"}`, false},
		{"user_id field rejected", `{"user_id":"u1"}`, false},
		{"long latency rejected as digit run", `{"latency_p99_ms":12345678}`, false},
		{"short digit runs pass", `{"count":123456}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Scrub([]byte(tt.payload))
			if tt.clean {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestScrub_SummarySchemaIsClean(t *testing.T) {
	events := []models.TelemetryEvent{event(950, true), event(2100, false)}
	events[1].ErrorKind = models.KindTimeout

	summaries := Aggregate(events, SchoolHash("school-17", "pepper"), map[string]int64{"relational": 4096})
	require.Len(t, summaries, 1)
	payload, err := json.Marshal(summaries[0])
	require.NoError(t, err)
	assert.NoError(t, Scrub(payload))
}

func TestAggregate(t *testing.T) {
	bucket := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	var events []models.TelemetryEvent
	for i := 1; i <= 100; i++ {
		ev := event(int64(i*10), i%5 != 0) // every 5th fails
		ev.CacheHit = i%2 == 0
		if !ev.Success {
			ev.ErrorKind = models.KindDependencyUnavailable
		}
		events = append(events, ev)
	}
	// A second hour bucket aggregates separately.
	late := event(42, true)
	late.HourBucket = bucket.Add(time.Hour)
	events = append(events, late)

	summaries := Aggregate(events, "", nil)
	require.Len(t, summaries, 2)

	s := summaries[0]
	assert.Equal(t, bucket, s.HourBucket)
	assert.Equal(t, 100, s.Count)
	assert.Equal(t, 80, s.Successes)
	assert.Equal(t, 20, s.Failures)
	assert.Equal(t, 20, s.ErrorKinds[string(models.KindDependencyUnavailable)])
	assert.Equal(t, int64(500), s.LatencyP50MS)
	assert.Equal(t, int64(900), s.LatencyP90MS)
	assert.Equal(t, int64(990), s.LatencyP99MS)
	assert.InDelta(t, 0.5, s.CacheHitRate, 1e-9)
	assert.Equal(t, 100, s.SubjectCounts["math-5"])
	assert.Equal(t, 100, s.VersionCounts["1.2.0"])

	assert.Equal(t, 1, summaries[1].Count)
}

func TestAggregate_Empty(t *testing.T) {
	assert.Empty(t, Aggregate(nil, "hash", nil))
}

func TestSchoolHash(t *testing.T) {
	h1 := SchoolHash("school-17", "pepper")
	h2 := SchoolHash("school-17", "pepper")
	h3 := SchoolHash("school-17", "other-salt")
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.NotContains(t, h1, "school-17")
	assert.Empty(t, SchoolHash("", "pepper"))
}

func TestPipeline_FlushAndPush(t *testing.T) {
	c := NewCollector(16, nil)
	c.Record(event(950, true))
	c.Record(event(1200, false))

	remote := portstest.NewMemBlobStore()
	clock := portstest.NewFakeClock(time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC))
	p, err := NewPipeline(c, remote, nil, clock, nil, PipelineConfig{
		Interval:    time.Hour,
		QueueDir:    t.TempDir(),
		SchoolID:    "school-17",
		Salt:        "pepper",
		NodeVersion: "sensei/abc123de",
	})
	require.NoError(t, err)

	p.RunOnce(context.Background())

	assert.Zero(t, p.QueueDepth(), "pushed summaries leave the queue")
	keys := remote.Keys()
	require.Len(t, keys, 1)

	payload, _, err := remote.Get(context.Background(), keys[0])
	require.NoError(t, err)
	var summary models.TelemetrySummary
	require.NoError(t, json.Unmarshal(payload, &summary))
	assert.Equal(t, 2, summary.Count)
	assert.Equal(t, SchoolHash("school-17", "pepper"), summary.SchoolHash)
	assert.Equal(t, "sensei/abc123de", summary.NodeVersion)
}

func TestPipeline_PushFailureLeavesQueue(t *testing.T) {
	c := NewCollector(16, nil)
	c.Record(event(950, true))

	remote := portstest.NewMemBlobStore()
	remote.PutErr = fmt.Errorf("network unreachable")
	clock := portstest.NewFakeClock(time.Now())
	p, err := NewPipeline(c, remote, nil, clock, nil, PipelineConfig{
		Interval: time.Hour, QueueDir: t.TempDir(),
	})
	require.NoError(t, err)

	p.RunOnce(context.Background())
	assert.Equal(t, 1, p.QueueDepth())

	// Remote recovers; the next tick drains the queue.
	remote.PutErr = nil
	p.RunOnce(context.Background())
	assert.Zero(t, p.QueueDepth())
	assert.Len(t, remote.Keys(), 1)
}

func TestPipeline_SovereignModeQueuesWithoutPushing(t *testing.T) {
	c := NewCollector(16, nil)
	c.Record(event(950, true))

	clock := portstest.NewFakeClock(time.Now())
	p, err := NewPipeline(c, nil, nil, clock, nil, PipelineConfig{
		Interval: time.Hour, QueueDir: t.TempDir(),
	})
	require.NoError(t, err)

	p.RunOnce(context.Background())
	assert.Equal(t, 1, p.QueueDepth())
}

func TestPipeline_HighWaterCullsOldest(t *testing.T) {
	clock := portstest.NewFakeClock(time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC))
	c := NewCollector(16, nil)
	p, err := NewPipeline(c, nil, nil, clock, nil, PipelineConfig{
		Interval: time.Hour, QueueDir: t.TempDir(), HighWater: 3,
	})
	require.NoError(t, err)

	// Each flush writes one summary file; advance the clock so filenames
	// stay ordered.
	for i := 0; i < 6; i++ {
		c.Record(event(int64(100+i), true))
		p.Flush(context.Background())
		clock.Advance(time.Second)
	}

	assert.Equal(t, 3, p.QueueDepth())
}
