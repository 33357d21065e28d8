package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classedge/sensei/pkg/models"
	"github.com/classedge/sensei/pkg/scheduler"
)

func submitBody(question string) map[string]any {
	return map[string]any{"user_id": "u1", "subject_id": "math", "question": question}
}

func TestSubmitQueryStreamsTokensThenDone(t *testing.T) {
	f := newAPIFixture(t)
	f.sched.tokens = []string{"Photosynthesis", " converts", " light."}
	f.sched.result = models.QueryResult{
		Answer: &models.Answer{
			Text:       "Photosynthesis converts light.",
			Confidence: 0.87,
			Sources:    []models.SourceRef{{ChunkID: "c1", DocumentID: "bio.md", Similarity: 0.91}},
			TokenCount: 3,
			LatencyMS:  42,
		},
	}

	rec := f.do(t, http.MethodPost, "/api/v1/queries", submitBody("How does photosynthesis work?"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := parseSSE(t, rec.Body.String())
	require.Len(t, events, 5)

	assert.Equal(t, eventAdmitted, events[0].name)
	var admitted AdmittedEvent
	require.NoError(t, json.Unmarshal([]byte(events[0].data), &admitted))
	assert.Equal(t, "q-1", admitted.QueryID)
	assert.Equal(t, 0, admitted.QueuePosition)

	var text strings.Builder
	for _, ev := range events[1:4] {
		require.Equal(t, eventToken, ev.name)
		var tok TokenEvent
		require.NoError(t, json.Unmarshal([]byte(ev.data), &tok))
		text.WriteString(tok.Text)
	}
	assert.Equal(t, "Photosynthesis converts light.", text.String())

	require.Equal(t, eventDone, events[4].name)
	var res models.QueryResult
	require.NoError(t, json.Unmarshal([]byte(events[4].data), &res))
	assert.Equal(t, "q-1", res.QueryID)
	assert.False(t, res.CacheHit)
	require.NotNil(t, res.Answer)
	assert.InDelta(t, 0.87, res.Answer.Confidence, 1e-9)
	require.Len(t, res.Answer.Sources, 1)
	assert.Equal(t, "c1", res.Answer.Sources[0].ChunkID)
}

func TestSubmitQueryQueuedPositionReported(t *testing.T) {
	f := newAPIFixture(t)
	f.sched.position = 3
	f.sched.result = models.QueryResult{Answer: &models.Answer{Text: "ok"}}

	rec := f.do(t, http.MethodPost, "/api/v1/queries", submitBody("What is a fraction?"))

	events := parseSSE(t, rec.Body.String())
	var admitted AdmittedEvent
	require.NoError(t, json.Unmarshal([]byte(events[0].data), &admitted))
	assert.Equal(t, 3, admitted.QueuePosition)

	var res models.QueryResult
	require.NoError(t, json.Unmarshal([]byte(events[len(events)-1].data), &res))
	assert.Equal(t, 3, res.QueuePosition)
}

func TestSubmitQueryFailureEndsWithErrorEvent(t *testing.T) {
	f := newAPIFixture(t)
	f.sched.tokens = []string{"partial"}
	f.sched.result = models.QueryResult{ErrorKind: models.KindTimeout}

	rec := f.do(t, http.MethodPost, "/api/v1/queries", submitBody("Slow question"))

	require.Equal(t, http.StatusOK, rec.Code)
	events := parseSSE(t, rec.Body.String())
	last := events[len(events)-1]
	require.Equal(t, eventError, last.name)

	var res models.QueryResult
	require.NoError(t, json.Unmarshal([]byte(last.data), &res))
	assert.Equal(t, models.KindTimeout, res.ErrorKind)
	assert.Nil(t, res.Answer)
}

func TestSubmitQueryValidation(t *testing.T) {
	tests := []struct {
		name    string
		body    map[string]any
		wantMsg string
	}{
		{"empty question", submitBody(""), "question"},
		{"whitespace question", submitBody("   \n\t"), "question"},
		{"over length", submitBody(strings.Repeat("k", models.MaxQuestionLength+1)), "limit"},
		{"unknown user", map[string]any{"user_id": "ghost", "subject_id": "math", "question": "hi"}, "unknown user"},
		{"unknown subject", map[string]any{"user_id": "u1", "subject_id": "alchemy", "question": "hi"}, "unknown subject"},
		{
			"negative deadline",
			map[string]any{"user_id": "u1", "subject_id": "math", "question": "hi", "deadline_ms": -5},
			"deadline_ms",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newAPIFixture(t)
			rec := f.do(t, http.MethodPost, "/api/v1/queries", tc.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, models.KindBadRequest, body.Kind)
			assert.Contains(t, body.Error, tc.wantMsg)
			assert.Nil(t, f.sched.lastSubmitted(), "rejected request must not be admitted")
		})
	}
}

func TestSubmitQueryInvalidBody(t *testing.T) {
	f := newAPIFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/queries", strings.NewReader(`{"user_id": 42}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, models.KindBadRequest, decodeError(t, rec).Kind)
}

func TestSubmitQueryOverCapacity(t *testing.T) {
	f := newAPIFixture(t)
	f.sched.submitErr = models.Kindf(models.KindOverCapacity, "queue full")

	rec := f.do(t, http.MethodPost, "/api/v1/queries", submitBody("hello"))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, models.KindOverCapacity, decodeError(t, rec).Kind)
}

func TestSubmitQueryDraining(t *testing.T) {
	f := newAPIFixture(t)
	f.sched.submitErr = models.Kindf(models.KindUnhealthy, "scheduler is draining")

	rec := f.do(t, http.MethodPost, "/api/v1/queries", submitBody("hello"))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, models.KindUnhealthy, decodeError(t, rec).Kind)
}

func TestSubmitQueryDeadlinePropagates(t *testing.T) {
	f := newAPIFixture(t)
	f.sched.result = models.QueryResult{Answer: &models.Answer{Text: "ok"}}

	body := submitBody("What is 2+2?")
	body["deadline_ms"] = 5000
	f.do(t, http.MethodPost, "/api/v1/queries", body)

	q := f.sched.lastSubmitted()
	require.NotNil(t, q)
	assert.Equal(t, f.clock.Now(), q.SubmittedAt)
	assert.Equal(t, f.clock.Now().Add(5*time.Second), q.Deadline)
	assert.Equal(t, "What is 2+2?", q.Question)
}

func TestSubmitQueryNoDeadlineByDefault(t *testing.T) {
	f := newAPIFixture(t)
	f.sched.result = models.QueryResult{Answer: &models.Answer{Text: "ok"}}

	f.do(t, http.MethodPost, "/api/v1/queries", submitBody("What is 2+2?"))

	q := f.sched.lastSubmitted()
	require.NotNil(t, q)
	assert.True(t, q.Deadline.IsZero())
}

func TestCancelQuery(t *testing.T) {
	f := newAPIFixture(t)
	f.sched.known["q-7"] = true

	rec := f.do(t, http.MethodPost, "/api/v1/queries/q-7/cancel", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var ack CancelResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.Equal(t, "q-7", ack.QueryID)
	assert.True(t, ack.Cancelled)
}

func TestCancelQueryUnknown(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/queries/nope/cancel", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decodeError(t, rec).Error, "unknown query")
}

func TestQueueStats(t *testing.T) {
	f := newAPIFixture(t)
	f.sched.stats = scheduler.Stats{
		Active:          2,
		Queued:          4,
		Capacity:        5,
		QueueCapacity:   1000,
		RejectionsTotal: 9,
	}

	rec := f.do(t, http.MethodGet, "/api/v1/queue/stats", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var stats scheduler.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, f.sched.stats, stats)
}
