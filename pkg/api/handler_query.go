package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/classedge/sensei/pkg/models"
)

// SSE event names on the submit_query stream.
const (
	eventAdmitted = "admitted"
	eventToken    = "token"
	eventDone     = "done"
	eventError    = "error"
)

// SubmitQuery handles POST /api/v1/queries. The response is a
// server-sent-event stream: one admitted event, token events while the
// answer is generated, then a terminal done or error event carrying the
// trailing record. An error event means the stream is incomplete.
func (s *Server) SubmitQuery(c *gin.Context) {
	var req SubmitQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}
	if !s.validateQuery(c, &req) {
		return
	}

	q := &models.Query{
		ID:          s.idgen(),
		UserID:      req.UserID,
		SubjectID:   req.SubjectID,
		Question:    req.Question,
		SubmittedAt: s.clock.Now(),
	}
	if req.DeadlineMS > 0 {
		q.Deadline = q.SubmittedAt.Add(time.Duration(req.DeadlineMS) * time.Millisecond)
	}

	handle, err := s.sched.Submit(q)
	if err != nil {
		respondError(c, err)
		return
	}

	w := c.Writer
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := sendEvent(w, eventAdmitted, AdmittedEvent{
		QueryID:       handle.QueryID,
		QueuePosition: handle.Position,
	}); err != nil {
		s.sched.Cancel(handle.QueryID)
		return
	}

	clientGone := c.Request.Context().Done()
	for {
		select {
		case tok, ok := <-handle.Tokens:
			if !ok {
				// Token stream closed; exactly one trailing record follows.
				res := <-handle.Result
				terminal := eventDone
				if res.ErrorKind != models.KindNone {
					terminal = eventError
				}
				_ = sendEvent(w, terminal, res)
				return
			}
			if err := sendEvent(w, eventToken, TokenEvent{Text: tok}); err != nil {
				s.sched.Cancel(handle.QueryID)
				return
			}
		case <-clientGone:
			// The result channel is buffered, so abandoning the handle
			// never blocks the worker.
			s.sched.Cancel(handle.QueryID)
			return
		}
	}
}

// validateQuery enforces admission preconditions, writing the error
// response itself. Returns false when the request was rejected.
func (s *Server) validateQuery(c *gin.Context, req *SubmitQueryRequest) bool {
	if strings.TrimSpace(req.Question) == "" {
		respondBadRequest(c, "question must not be empty")
		return false
	}
	if n := utf8.RuneCountInString(req.Question); n > models.MaxQuestionLength {
		respondBadRequest(c, fmt.Sprintf("question is %d characters, limit is %d", n, models.MaxQuestionLength))
		return false
	}
	if req.DeadlineMS < 0 {
		respondBadRequest(c, "deadline_ms must not be negative")
		return false
	}

	ctx := c.Request.Context()
	repos := s.store.Repos()

	ok, err := repos.Users().Exists(ctx, req.UserID)
	if err != nil {
		respondError(c, models.NewKindError(models.KindDependencyUnavailable, err))
		return false
	}
	if !ok {
		respondBadRequest(c, "unknown user: "+req.UserID)
		return false
	}

	ok, err = repos.Subjects().Exists(ctx, req.SubjectID)
	if err != nil {
		respondError(c, models.NewKindError(models.KindDependencyUnavailable, err))
		return false
	}
	if !ok {
		respondBadRequest(c, "unknown subject: "+req.SubjectID)
		return false
	}
	return true
}

// CancelQuery handles POST /api/v1/queries/:id/cancel.
func (s *Server) CancelQuery(c *gin.Context) {
	id := c.Param("id")
	if !s.sched.Cancel(id) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "unknown query: " + id})
		return
	}
	c.JSON(http.StatusOK, CancelResponse{QueryID: id, Cancelled: true})
}

// QueueStats handles GET /api/v1/queue/stats.
func (s *Server) QueueStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.sched.Stats())
}

// sendEvent writes one SSE frame and flushes it to the client.
func sendEvent(w gin.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	w.Flush()
	return nil
}
