package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/classedge/sensei/pkg/models"
	"github.com/classedge/sensei/pkg/pedagogy"
)

const defaultPracticeLimit = 5

// GetMastery handles GET /api/v1/users/:user_id/subjects/:subject_id/mastery.
func (s *Server) GetMastery(c *gin.Context) {
	userID, subjectID := c.Param("user_id"), c.Param("subject_id")

	recs, err := s.store.Repos().Mastery().ListBySubject(c.Request.Context(), userID, subjectID)
	if err != nil {
		respondError(c, models.NewKindError(models.KindDependencyUnavailable, err))
		return
	}

	now := s.clock.Now()
	items := make([]MasteryItem, 0, len(recs))
	for _, rec := range recs {
		items = append(items, MasteryItem{
			Topic:           rec.Topic,
			Mastery:         pedagogy.MasteryLevel(rec.QuestionCount, rec.CorrectCount, rec.LastInteraction, now),
			QuestionCount:   rec.QuestionCount,
			LastInteraction: rec.LastInteraction,
		})
	}
	c.JSON(http.StatusOK, MasteryResponse{UserID: userID, SubjectID: subjectID, Topics: items})
}

// GetWeakAreas handles GET /api/v1/users/:user_id/subjects/:subject_id/weak-areas.
func (s *Server) GetWeakAreas(c *gin.Context) {
	userID, subjectID := c.Param("user_id"), c.Param("subject_id")

	areas, err := s.store.Repos().WeakAreas().List(c.Request.Context(), userID, subjectID)
	if err != nil {
		respondError(c, models.NewKindError(models.KindDependencyUnavailable, err))
		return
	}

	items := make([]WeakAreaItem, 0, len(areas))
	for _, a := range areas {
		items = append(items, WeakAreaItem{Topic: a.Topic, Score: a.Score, DetectedAt: a.DetectedAt})
	}
	c.JSON(http.StatusOK, WeakAreasResponse{UserID: userID, SubjectID: subjectID, Areas: items})
}

// GetPracticeQuestions handles GET
// /api/v1/users/:user_id/subjects/:subject_id/practice?limit=n.
func (s *Server) GetPracticeQuestions(c *gin.Context) {
	userID, subjectID := c.Param("user_id"), c.Param("subject_id")

	limit := defaultPracticeLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondBadRequest(c, "limit must be a positive integer")
			return
		}
		limit = n
	}

	questions, err := s.practice.Select(c.Request.Context(), s.store.Repos(), userID, subjectID, limit)
	if err != nil {
		respondError(c, models.NewKindError(models.KindDependencyUnavailable, err))
		return
	}

	items := make([]PracticeItem, 0, len(questions))
	for _, q := range questions {
		items = append(items, PracticeItem{
			ID:         q.ID,
			Topic:      q.Topic,
			Question:   q.Question,
			Answer:     q.Answer,
			Difficulty: q.Difficulty,
		})
	}
	c.JSON(http.StatusOK, PracticeResponse{UserID: userID, SubjectID: subjectID, Questions: items})
}
