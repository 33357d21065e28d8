package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/classedge/sensei/pkg/models"
	"github.com/classedge/sensei/pkg/ports"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubExecutor blocks each execution until released, recording the order
// in which queries began running.
type stubExecutor struct {
	mu       sync.Mutex
	started  []string
	release  chan struct{}
	tokens   []string
	executed int
}

func newStubExecutor(tokens ...string) *stubExecutor {
	return &stubExecutor{release: make(chan struct{}), tokens: tokens}
}

func (e *stubExecutor) Execute(ctx context.Context, q *models.Query, sink *TokenSink) *models.QueryResult {
	e.mu.Lock()
	e.started = append(e.started, q.ID)
	e.executed++
	e.mu.Unlock()

	for _, tok := range e.tokens {
		if err := sink.Send(tok); err != nil {
			return &models.QueryResult{QueryID: q.ID, ErrorKind: models.KindOf(err)}
		}
	}

	select {
	case <-e.release:
		return &models.QueryResult{
			QueryID: q.ID,
			Answer:  &models.Answer{Text: "done"},
		}
	case <-ctx.Done():
		return &models.QueryResult{QueryID: q.ID, ErrorKind: models.KindOf(ctx.Err())}
	}
}

func (e *stubExecutor) startedIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.started...)
}

func query(id string) *models.Query {
	return &models.Query{ID: id, UserID: "u1", SubjectID: "s1", Question: "q", SubmittedAt: time.Now()}
}

func newScheduler(t *testing.T, exec Executor, workers, queueCap int) *Scheduler {
	t.Helper()
	s := New(exec, workers, queueCap, ports.SystemClock{}, nil)
	s.Start(context.Background())
	t.Cleanup(s.Stop)
	return s
}

func drainHandle(t *testing.T, h *Handle) *models.QueryResult {
	t.Helper()
	for range h.Tokens {
	}
	select {
	case res := <-h.Result:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for result")
		return nil
	}
}

func TestSubmit_ImmediateDispatch(t *testing.T) {
	exec := newStubExecutor("tok")
	s := newScheduler(t, exec, 2, 2)

	h, err := s.Submit(query("q1"))
	require.NoError(t, err)
	assert.Equal(t, 0, h.Position)

	close(exec.release)
	res := drainHandle(t, h)
	assert.Equal(t, models.KindNone, res.ErrorKind)
	assert.Equal(t, "done", res.Answer.Text)
	assert.Equal(t, 0, res.QueuePosition)
}

func TestSubmit_PositionsAndOverCapacity(t *testing.T) {
	exec := newStubExecutor()
	s := newScheduler(t, exec, 2, 2)

	// Wait until both workers are busy so queue accounting is stable.
	h1, err := s.Submit(query("q1"))
	require.NoError(t, err)
	h2, err := s.Submit(query("q2"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(exec.startedIDs()) == 2 }, time.Second, time.Millisecond)

	h3, err := s.Submit(query("q3"))
	require.NoError(t, err)
	h4, err := s.Submit(query("q4"))
	require.NoError(t, err)

	assert.Equal(t, []int{0, 0, 1, 2}, []int{h1.Position, h2.Position, h3.Position, h4.Position})

	_, err = s.Submit(query("q5"))
	require.Error(t, err)
	assert.Equal(t, models.KindOverCapacity, models.KindOf(err))

	stats := s.Stats()
	assert.Equal(t, 2, stats.Active)
	assert.Equal(t, 2, stats.Queued)
	assert.Equal(t, int64(1), stats.RejectionsTotal)

	close(exec.release)
	for _, h := range []*Handle{h1, h2, h3, h4} {
		res := drainHandle(t, h)
		assert.Equal(t, h.Position, res.QueuePosition, "trailing record carries the admission position")
	}
}

func TestQueue_FIFO(t *testing.T) {
	exec := newStubExecutor()
	s := newScheduler(t, exec, 1, 5)

	h0, err := s.Submit(query("running"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(exec.startedIDs()) == 1 }, time.Second, time.Millisecond)

	handles := []*Handle{h0}
	for _, id := range []string{"a", "b", "c"} {
		h, err := s.Submit(query(id))
		require.NoError(t, err)
		handles = append(handles, h)
	}

	close(exec.release)
	for _, h := range handles {
		drainHandle(t, h)
	}

	assert.Equal(t, []string{"running", "a", "b", "c"}, exec.startedIDs())
}

func TestCancel_MidStream(t *testing.T) {
	exec := newStubExecutor("t1", "t2")
	s := newScheduler(t, exec, 1, 1)

	h, err := s.Submit(query("q1"))
	require.NoError(t, err)

	// Receive the two tokens, then cancel while the executor blocks.
	tok1 := <-h.Tokens
	tok2 := <-h.Tokens
	assert.Equal(t, []string{"t1", "t2"}, []string{tok1, tok2})

	require.True(t, s.Cancel("q1"))

	res := drainHandle(t, h)
	assert.Equal(t, models.KindCancelled, res.ErrorKind)
	assert.Nil(t, res.Answer)
	assert.Equal(t, int64(1), s.Stats().CancellationsTotal)
}

func TestCancel_UnknownQuery(t *testing.T) {
	s := newScheduler(t, newStubExecutor(), 1, 1)
	assert.False(t, s.Cancel("nope"))
}

func TestSubmit_ExpiredDeadlineWithBusyPool(t *testing.T) {
	exec := newStubExecutor()
	s := newScheduler(t, exec, 1, 5)

	_, err := s.Submit(query("running"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(exec.startedIDs()) == 1 }, time.Second, time.Millisecond)

	q := query("late")
	q.Deadline = time.Now().Add(-time.Second)
	_, err = s.Submit(q)
	require.Error(t, err)
	assert.Equal(t, models.KindTimeout, models.KindOf(err))

	close(exec.release)
}

func TestQueuedTask_DeadlineExpiresBeforeRun(t *testing.T) {
	exec := newStubExecutor()
	s := newScheduler(t, exec, 1, 5)

	_, err := s.Submit(query("running"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(exec.startedIDs()) == 1 }, time.Second, time.Millisecond)

	q := query("doomed")
	q.Deadline = time.Now().Add(30 * time.Millisecond)
	h, err := s.Submit(q)
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	close(exec.release)

	res := drainHandle(t, h)
	assert.Equal(t, models.KindTimeout, res.ErrorKind)
	assert.NotContains(t, exec.startedIDs(), "doomed", "expired request must never execute")
}

func TestDrain_RejectsWithUnhealthy(t *testing.T) {
	exec := newStubExecutor()
	s := newScheduler(t, exec, 1, 1)

	h, err := s.Submit(query("q1"))
	require.NoError(t, err)

	s.Drain()

	_, err = s.Submit(query("q2"))
	require.Error(t, err)
	assert.Equal(t, models.KindUnhealthy, models.KindOf(err))

	// The in-flight request was cancelled by the drain.
	res := drainHandle(t, h)
	assert.Equal(t, models.KindCancelled, res.ErrorKind)
}

func TestStats_CapacityInvariants(t *testing.T) {
	exec := newStubExecutor()
	s := newScheduler(t, exec, 2, 3)

	var handles []*Handle
	for i := 0; i < 5; i++ {
		h, err := s.Submit(query(string(rune('a' + i))))
		require.NoError(t, err)
		handles = append(handles, h)
	}

	stats := s.Stats()
	assert.LessOrEqual(t, stats.Active, stats.Capacity)
	assert.LessOrEqual(t, stats.Queued, stats.QueueCapacity)

	close(exec.release)
	for _, h := range handles {
		drainHandle(t, h)
	}
}
