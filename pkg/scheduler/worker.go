package scheduler

import (
	"context"
	"errors"
	"log/slog"

	"github.com/classedge/sensei/pkg/models"
)

// runWorker is the main worker loop: claim a task, run it through the
// executor, deliver the trailing record.
func (s *Scheduler) runWorker(id string) {
	defer s.wg.Done()

	log := slog.With("worker_id", id)
	log.Info("Worker started")

	for {
		select {
		case <-s.stopCh:
			log.Info("Worker shutting down")
			return
		case t := <-s.tasks:
			s.process(t, log)
		}
	}
}

func (s *Scheduler) process(t *task, log *slog.Logger) {
	s.mu.Lock()
	if t.queued {
		s.queued--
		s.active++
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.active--
		delete(s.cancels, t.query.ID)
		s.mu.Unlock()
		t.cancel()
	}()

	result := s.runTask(t)
	result.QueuePosition = t.position

	switch result.ErrorKind {
	case models.KindCancelled, models.KindTimeout:
		s.cancellations.Add(1)
		s.metrics.IncCancellation()
	}
	s.metrics.IncKind(outcomeLabel(result.ErrorKind))

	close(t.tokens)
	t.result <- result
	close(t.result)

	log.Debug("Query processing complete",
		"query_id", t.query.ID,
		"cache_hit", result.CacheHit,
		"error_kind", result.ErrorKind)
}

// runTask executes one claimed task, translating pre-execution and
// post-execution context state into the wire taxonomy.
func (s *Scheduler) runTask(t *task) *models.QueryResult {
	// A request whose deadline or cancel fired while it waited in the
	// queue is rejected before ever running.
	if err := t.ctx.Err(); err != nil {
		return &models.QueryResult{
			QueryID:   t.query.ID,
			ErrorKind: contextKind(err),
		}
	}

	result := s.executor.Execute(t.ctx, t.query, &TokenSink{ch: t.tokens, ctx: t.ctx})

	// Nil-guard: synthesize a safe result if the executor returned nil.
	if result == nil {
		kind := models.KindInternal
		if err := t.ctx.Err(); err != nil {
			kind = contextKind(err)
		}
		result = &models.QueryResult{QueryID: t.query.ID, ErrorKind: kind}
	}
	return result
}

func contextKind(err error) models.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return models.KindTimeout
	}
	return models.KindCancelled
}

func outcomeLabel(kind models.ErrorKind) string {
	if kind == models.KindNone {
		return "success"
	}
	return string(kind)
}
