// Package scheduler provides bounded-concurrency admission and the
// inference worker pool.
package scheduler

import (
	"context"

	"github.com/classedge/sensei/pkg/models"
)

// Executor processes one admitted query. The executor owns the entire
// answer pipeline (cache probe, retrieval, generation, persistence) and
// streams tokens through the sink as they arrive. The worker only handles
// admission accounting, cancellation plumbing, and result delivery.
type Executor interface {
	Execute(ctx context.Context, query *models.Query, sink *TokenSink) *models.QueryResult
}

// TokenSink forwards generated tokens to the request's handle.
type TokenSink struct {
	ch  chan<- string
	ctx context.Context
}

// NewTokenSink builds a sink over an arbitrary channel. Used by tests
// and tools that drive an Executor without the worker pool.
func NewTokenSink(ctx context.Context, ch chan<- string) *TokenSink {
	return &TokenSink{ch: ch, ctx: ctx}
}

// Send delivers one token to the caller. It returns the context error when
// the request was cancelled, so generation loops stop at the next token
// boundary.
func (s *TokenSink) Send(token string) error {
	select {
	case s.ch <- token:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// Handle is the caller's view of an admitted request. Tokens closes when
// streaming ends; Result then delivers exactly one trailing record and
// closes.
type Handle struct {
	QueryID  string
	Position int
	Tokens   <-chan string
	Result   <-chan *models.QueryResult
}

// Stats is the scheduler's observable state.
type Stats struct {
	Active             int   `json:"active"`
	Queued             int   `json:"queued"`
	Capacity           int   `json:"capacity"`
	QueueCapacity      int   `json:"queue_capacity"`
	RejectionsTotal    int64 `json:"rejections_total"`
	CancellationsTotal int64 `json:"cancellations_total"`
}

// task is the internal unit flowing from admission to a worker.
type task struct {
	query    *models.Query
	ctx      context.Context
	cancel   context.CancelFunc
	tokens   chan string
	result   chan *models.QueryResult
	queued   bool
	position int
}
