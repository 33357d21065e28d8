package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/classedge/sensei/pkg/metrics"
	"github.com/classedge/sensei/pkg/models"
	"github.com/classedge/sensei/pkg/ports"
)

const tokenBuffer = 64

// Scheduler admits queries into a fixed worker pool of size W with a
// bounded FIFO queue of depth Q. Admission is synchronous: dispatch
// (position 0), enqueue (1-indexed position), or reject with OverCapacity.
// Every admitted request carries a cancel signal reachable via Cancel.
type Scheduler struct {
	executor Executor
	metrics  *metrics.Metrics
	clock    ports.Clock

	workers  int
	queueCap int
	tasks    chan *task

	mu       sync.Mutex
	active   int
	queued   int
	draining bool
	cancels  map[string]context.CancelFunc

	rejections    atomic.Int64
	cancellations atomic.Int64

	rootCtx  context.Context
	rootStop context.CancelFunc
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool
}

// New creates a scheduler. m may be nil (no Prometheus counters).
func New(executor Executor, workers, queueCapacity int, clock ports.Clock, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		executor: executor,
		metrics:  m,
		clock:    clock,
		workers:  workers,
		queueCap: queueCapacity,
		// Sized so an admitted task never blocks the submitter.
		tasks:   make(chan *task, workers+queueCapacity),
		cancels: make(map[string]context.CancelFunc),
		stopCh:  make(chan struct{}),
	}
}

// Start spawns the worker goroutines. Safe to call once.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		slog.Warn("Scheduler already started, ignoring duplicate Start call")
		return
	}
	s.started = true
	s.rootCtx, s.rootStop = context.WithCancel(ctx)

	slog.Info("Starting scheduler", "workers", s.workers, "queue_capacity", s.queueCap)
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.runWorker(fmt.Sprintf("worker-%d", i))
	}
}

// Submit admits a query or rejects it synchronously. The returned handle
// carries the token stream and the trailing record.
func (s *Scheduler) Submit(query *models.Query) (*Handle, error) {
	s.mu.Lock()
	if s.draining || !s.started {
		s.mu.Unlock()
		return nil, models.Kindf(models.KindUnhealthy, "scheduler is draining")
	}

	var position int
	var wasQueued bool
	switch {
	case s.active < s.workers:
		s.active++
		position = 0
	case s.queued < s.queueCap:
		// A request whose deadline already passed would time out in the
		// queue before ever running; reject it now.
		if !query.Deadline.IsZero() && !query.Deadline.After(s.clock.Now()) {
			s.mu.Unlock()
			s.cancellations.Add(1)
			s.metrics.IncCancellation()
			return nil, models.Kindf(models.KindTimeout, "deadline expired before admission")
		}
		s.queued++
		position = s.queued
		wasQueued = true
	default:
		s.mu.Unlock()
		s.rejections.Add(1)
		s.metrics.IncRejection()
		return nil, models.Kindf(models.KindOverCapacity, "queue full (%d queued, %d active)", s.queueCap, s.workers)
	}

	var reqCtx context.Context
	var cancel context.CancelFunc
	if query.Deadline.IsZero() {
		reqCtx, cancel = context.WithCancel(s.rootCtx)
	} else {
		reqCtx, cancel = context.WithDeadline(s.rootCtx, query.Deadline)
	}
	s.cancels[query.ID] = cancel
	s.mu.Unlock()

	t := &task{
		query:    query,
		ctx:      reqCtx,
		cancel:   cancel,
		tokens:   make(chan string, tokenBuffer),
		result:   make(chan *models.QueryResult, 1),
		queued:   wasQueued,
		position: position,
	}
	s.tasks <- t

	return &Handle{
		QueryID:  query.ID,
		Position: position,
		Tokens:   t.tokens,
		Result:   t.result,
	}, nil
}

// Cancel triggers context cancellation for an in-flight or queued query.
// Returns false when the query id is unknown (already finished or never
// admitted).
func (s *Scheduler) Cancel(queryID string) bool {
	s.mu.Lock()
	cancel, ok := s.cancels[queryID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Drain refuses all further admissions and cancels in-flight requests.
// Used by the health monitor's restart policy.
func (s *Scheduler) Drain() {
	s.mu.Lock()
	s.draining = true
	cancels := make([]context.CancelFunc, 0, len(s.cancels))
	for _, c := range s.cancels {
		cancels = append(cancels, c)
	}
	s.mu.Unlock()

	slog.Warn("Scheduler entering drain state", "in_flight", len(cancels))
	for _, c := range cancels {
		c()
	}
}

// Draining reports whether new admissions are refused.
func (s *Scheduler) Draining() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draining
}

// Stats returns the current admission counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	active, queued := s.active, s.queued
	s.mu.Unlock()
	return Stats{
		Active:             active,
		Queued:             queued,
		Capacity:           s.workers,
		QueueCapacity:      s.queueCap,
		RejectionsTotal:    s.rejections.Load(),
		CancellationsTotal: s.cancellations.Load(),
	}
}

// Stop shuts the pool down: workers finish their current request, then
// any still-queued tasks are resolved with Unhealthy so no handle is left
// dangling.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		slog.Info("Stopping scheduler")
		s.Drain()
		close(s.stopCh)
		s.wg.Wait()
		if s.rootStop != nil {
			s.rootStop()
		}

		for {
			select {
			case t := <-s.tasks:
				close(t.tokens)
				t.result <- &models.QueryResult{QueryID: t.query.ID, QueuePosition: t.position, ErrorKind: models.KindUnhealthy}
				close(t.result)
				t.cancel()
			default:
				slog.Info("Scheduler stopped")
				return
			}
		}
	})
}
