package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/classedge/sensei/pkg/cache"
	"github.com/classedge/sensei/pkg/health"
	"github.com/classedge/sensei/pkg/models"
	"github.com/classedge/sensei/pkg/pedagogy"
	"github.com/classedge/sensei/pkg/ports/portstest"
	"github.com/classedge/sensei/pkg/scheduler"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	goleak.VerifyTestMain(m)
}

// stubScheduler scripts admission outcomes and records submissions. The
// returned handles honor the scheduler contract: the token channel closes,
// then exactly one trailing record is delivered.
type stubScheduler struct {
	mu        sync.Mutex
	submitted []*models.Query
	cancelled []string

	submitErr error
	tokens    []string
	result    models.QueryResult
	position  int
	known     map[string]bool
	stats     scheduler.Stats
}

func newStubScheduler() *stubScheduler {
	return &stubScheduler{known: make(map[string]bool)}
}

func (s *stubScheduler) Submit(q *models.Query) (*scheduler.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	s.submitted = append(s.submitted, q)

	tokens := make(chan string, len(s.tokens))
	for _, tok := range s.tokens {
		tokens <- tok
	}
	close(tokens)

	res := s.result
	res.QueryID = q.ID
	res.QueuePosition = s.position
	result := make(chan *models.QueryResult, 1)
	result <- &res
	close(result)

	return &scheduler.Handle{QueryID: q.ID, Position: s.position, Tokens: tokens, Result: result}, nil
}

func (s *stubScheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, id)
	return s.known[id]
}

func (s *stubScheduler) Stats() scheduler.Stats { return s.stats }

func (s *stubScheduler) lastSubmitted() *models.Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.submitted) == 0 {
		return nil
	}
	return s.submitted[len(s.submitted)-1]
}

// stubInstaller scripts VKP install and rollback outcomes.
type stubInstaller struct {
	mu        sync.Mutex
	installs  [][]byte
	rollbacks []string

	inst *models.VKPInstallation
	err  error
}

func (i *stubInstaller) Install(_ context.Context, data []byte) (*models.VKPInstallation, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.err != nil {
		return nil, i.err
	}
	i.installs = append(i.installs, append([]byte(nil), data...))
	return i.inst, nil
}

func (i *stubInstaller) Rollback(_ context.Context, subject, grade string) (*models.VKPInstallation, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.err != nil {
		return nil, i.err
	}
	i.rollbacks = append(i.rollbacks, subject+"|"+grade)
	return i.inst, nil
}

func (i *stubInstaller) installCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.installs)
}

type stubHealth struct{ report health.Report }

func (h *stubHealth) Report() health.Report { return h.report }

type apiFixture struct {
	store   *portstest.InMemoryStore
	cache   *cache.Service
	sched   *stubScheduler
	install *stubInstaller
	health  *stubHealth
	clock   *portstest.FakeClock
	router  *gin.Engine
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	clock := portstest.NewFakeClock(time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC))
	cacheSvc, err := cache.New(64, time.Hour, "", "", 0, clock)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cacheSvc.Close() })

	store := portstest.NewInMemoryStore()
	store.AddUser("u1")
	store.AddSubject("math")

	f := &apiFixture{
		store:   store,
		cache:   cacheSvc,
		sched:   newStubScheduler(),
		install: &stubInstaller{},
		health: &stubHealth{report: health.Report{
			Overall:    health.StatusOK,
			Components: map[string]health.ComponentStatus{},
		}},
		clock: clock,
	}

	var seq int
	srv := NewServer(f.sched, cacheSvc, f.install, f.health, store,
		pedagogy.NewPracticeSelector(portstest.NewFakeRandom(7)),
		nil, clock,
		func() string { seq++; return fmt.Sprintf("q-%d", seq) })
	f.router = srv.Router()
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

type sseEvent struct {
	name string
	data string
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var out []sseEvent
	for _, frame := range strings.Split(strings.TrimSpace(body), "\n\n") {
		lines := strings.SplitN(frame, "\n", 2)
		require.Len(t, lines, 2, "malformed SSE frame %q", frame)
		out = append(out, sseEvent{
			name: strings.TrimPrefix(lines[0], "event: "),
			data: strings.TrimPrefix(lines[1], "data: "),
		})
	}
	return out
}

func TestRouterSetsSecurityHeaders(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestRouterUnknownRoute(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/nonexistent", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestShutdownWithoutStart(t *testing.T) {
	f := newAPIFixture(t)
	srv := NewServer(f.sched, f.cache, f.install, f.health, f.store,
		pedagogy.NewPracticeSelector(portstest.NewFakeRandom(1)),
		nil, f.clock, func() string { return "q" })
	assert.NoError(t, srv.Shutdown(context.Background()))
}
