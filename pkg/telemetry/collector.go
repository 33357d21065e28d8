// Package telemetry collects per-query events in a bounded ring, folds
// them into hourly anonymized summaries, and uploads them through the
// blob store with a persistent on-disk queue.
package telemetry

import (
	"sync"
	"sync/atomic"

	"github.com/classedge/sensei/pkg/metrics"
	"github.com/classedge/sensei/pkg/models"
)

// Collector is the request-path sink. Record never blocks: when the ring
// is full the oldest event is overwritten and the overflow counted.
type Collector struct {
	mu   sync.Mutex
	buf  []models.TelemetryEvent
	head int // next write position
	size int

	overflows atomic.Int64
	metrics   *metrics.Metrics
}

// NewCollector builds a ring of the given capacity.
func NewCollector(capacity int, m *metrics.Metrics) *Collector {
	if capacity <= 0 {
		capacity = 1
	}
	return &Collector{
		buf:     make([]models.TelemetryEvent, capacity),
		metrics: m,
	}
}

// Record appends one event, overwriting the oldest when full.
func (c *Collector) Record(ev models.TelemetryEvent) {
	c.mu.Lock()
	if c.size == len(c.buf) {
		c.overflows.Add(1)
		c.metrics.IncTelemetryOverflow()
	} else {
		c.size++
	}
	c.buf[c.head] = ev
	c.head = (c.head + 1) % len(c.buf)
	c.mu.Unlock()
}

// Snapshot drains the ring in arrival order and resets it.
func (c *Collector) Snapshot() []models.TelemetryEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.TelemetryEvent, 0, c.size)
	start := (c.head - c.size + len(c.buf)) % len(c.buf)
	for i := 0; i < c.size; i++ {
		out = append(out, c.buf[(start+i)%len(c.buf)])
	}
	c.head = 0
	c.size = 0
	return out
}

// Overflows reports how many events were overwritten before aggregation.
func (c *Collector) Overflows() int64 {
	return c.overflows.Load()
}
