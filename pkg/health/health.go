// Package health runs periodic component checks and drives the restart
// policy when a component stays critical.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/classedge/sensei/pkg/ports"
)

// Status levels per component and overall.
type Status string

const (
	StatusOK       Status = "ok"
	StatusWarn     Status = "warn"
	StatusCritical Status = "critical"
)

// Component names in the report.
const (
	ComponentLLM        = "llm"
	ComponentVector     = "vector_store"
	ComponentRelational = "relational_store"
	ComponentDisk       = "disk"
	ComponentMemory     = "memory"
)

// ComponentStatus is one component's latest check result.
type ComponentStatus struct {
	Status    Status    `json:"status"`
	LatencyMS int64     `json:"latency_ms"`
	Detail    string    `json:"detail,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Report is the aggregated health view served by the API.
type Report struct {
	Overall    Status                     `json:"overall"`
	Components map[string]ComponentStatus `json:"components"`
	GivenUp    bool                       `json:"given_up,omitempty"`
}

// ResourceProbe reads free disk and memory bytes. Injected for tests.
type ResourceProbe func() (diskFree, memFree int64, err error)

// Config carries thresholds and the escalation policy.
type Config struct {
	Interval time.Duration

	DiskWarnBytes     int64
	DiskCriticalBytes int64
	MemWarnBytes      int64
	MemCriticalBytes  int64

	// ConsecutiveCritical checks before OnCritical fires.
	ConsecutiveCritical int
	// MaxRestartAttempts bounds OnCritical invocations; past it the node
	// surfaces a persistent critical status instead.
	MaxRestartAttempts int
}

// Monitor checks the LLM backend, both stores, disk, and memory on a
// fixed interval. OnCritical is the drain-and-exit hook wired by main.
type Monitor struct {
	llm        ports.LLM
	vectors    ports.VectorStore
	store      ports.RelationalStore
	probe      ResourceProbe
	clock      ports.Clock
	cfg        Config
	onCritical func()

	mu             sync.Mutex
	report         Report
	criticalStreak int
	attempts       int

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewMonitor wires the monitor. probe defaults to the OS probe.
func NewMonitor(llm ports.LLM, vectors ports.VectorStore, store ports.RelationalStore, probe ResourceProbe, clock ports.Clock, cfg Config, onCritical func()) *Monitor {
	if probe == nil {
		probe = osResourceProbe
	}
	if cfg.ConsecutiveCritical <= 0 {
		cfg.ConsecutiveCritical = 3
	}
	if cfg.MaxRestartAttempts <= 0 {
		cfg.MaxRestartAttempts = 3
	}
	return &Monitor{
		llm:        llm,
		vectors:    vectors,
		store:      store,
		probe:      probe,
		clock:      clock,
		cfg:        cfg,
		onCritical: onCritical,
		report:     Report{Overall: StatusOK, Components: map[string]ComponentStatus{}},
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start launches the check loop with an immediate first pass.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		defer close(m.doneCh)
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()

		slog.Info("Health monitor started", "interval", m.cfg.Interval)
		m.RunOnce(ctx)
		for {
			select {
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.RunOnce(ctx)
			}
		}
	}()
}

// Stop halts the loop.
func (m *Monitor) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

// Report returns a copy of the latest aggregated view.
func (m *Monitor) Report() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := Report{Overall: m.report.Overall, GivenUp: m.report.GivenUp,
		Components: make(map[string]ComponentStatus, len(m.report.Components))}
	for k, v := range m.report.Components {
		out.Components[k] = v
	}
	return out
}

// RunOnce executes one check pass and applies the escalation policy.
func (m *Monitor) RunOnce(ctx context.Context) {
	components := map[string]ComponentStatus{
		ComponentLLM:        m.checkDependency(ctx, m.llm.Health),
		ComponentVector:     m.checkDependency(ctx, m.vectors.Health),
		ComponentRelational: m.checkDependency(ctx, m.store.Health),
	}
	disk, mem := m.checkResources()
	components[ComponentDisk] = disk
	components[ComponentMemory] = mem

	overall := StatusOK
	for name, c := range components {
		if c.Status == StatusWarn && overall == StatusOK {
			overall = StatusWarn
		}
		if c.Status == StatusCritical {
			overall = StatusCritical
			slog.Warn("Component critical", "component", name, "detail", c.Detail)
		}
	}

	m.mu.Lock()
	m.report.Components = components
	m.report.Overall = overall
	if overall == StatusCritical {
		m.criticalStreak++
	} else {
		m.criticalStreak = 0
	}
	escalate := m.criticalStreak >= m.cfg.ConsecutiveCritical && !m.report.GivenUp
	if escalate {
		m.criticalStreak = 0
		m.attempts++
		if m.attempts > m.cfg.MaxRestartAttempts {
			m.report.GivenUp = true
			escalate = false
		}
	}
	m.mu.Unlock()

	if escalate && m.onCritical != nil {
		slog.Error("Consecutive critical checks, triggering restart policy",
			"attempt", m.attempts, "max_attempts", m.cfg.MaxRestartAttempts)
		m.onCritical()
	}
	if m.Report().GivenUp {
		slog.Error("Restart attempts exhausted, surfacing persistent critical status")
	}
}

func (m *Monitor) checkDependency(ctx context.Context, check func(context.Context) error) ComponentStatus {
	start := m.clock.Now()
	err := check(ctx)
	status := ComponentStatus{
		Status:    StatusOK,
		LatencyMS: m.clock.Now().Sub(start).Milliseconds(),
		CheckedAt: m.clock.Now(),
	}
	if err != nil {
		status.Status = StatusCritical
		status.Detail = err.Error()
	}
	return status
}

func (m *Monitor) checkResources() (disk, mem ComponentStatus) {
	now := m.clock.Now()
	diskFree, memFree, err := m.probe()
	if err != nil {
		failed := ComponentStatus{Status: StatusWarn, Detail: err.Error(), CheckedAt: now}
		return failed, failed
	}
	return thresholdStatus(diskFree, m.cfg.DiskWarnBytes, m.cfg.DiskCriticalBytes, now),
		thresholdStatus(memFree, m.cfg.MemWarnBytes, m.cfg.MemCriticalBytes, now)
}

func thresholdStatus(free, warn, critical int64, now time.Time) ComponentStatus {
	s := ComponentStatus{Status: StatusOK, CheckedAt: now}
	switch {
	case critical > 0 && free < critical:
		s.Status = StatusCritical
	case warn > 0 && free < warn:
		s.Status = StatusWarn
	}
	return s
}
