// Package api exposes the node's request-serving surface over HTTP:
// query submission with SSE token streaming, pedagogy reads, cache and
// VKP administration, queue stats, and health.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/classedge/sensei/pkg/cache"
	"github.com/classedge/sensei/pkg/health"
	"github.com/classedge/sensei/pkg/metrics"
	"github.com/classedge/sensei/pkg/models"
	"github.com/classedge/sensei/pkg/pedagogy"
	"github.com/classedge/sensei/pkg/ports"
	"github.com/classedge/sensei/pkg/scheduler"
)

// Scheduler is the slice of the admission scheduler the handlers use.
type Scheduler interface {
	Submit(query *models.Query) (*scheduler.Handle, error)
	Cancel(queryID string) bool
	Stats() scheduler.Stats
}

// Installer is the slice of the VKP manager the handlers use.
type Installer interface {
	Install(ctx context.Context, data []byte) (*models.VKPInstallation, error)
	Rollback(ctx context.Context, subject, grade string) (*models.VKPInstallation, error)
}

// HealthSource serves the monitor's latest component report.
type HealthSource interface {
	Report() health.Report
}

// Server wires HTTP routes to the node's components.
type Server struct {
	sched    Scheduler
	cache    *cache.Service
	vkp      Installer
	health   HealthSource
	store    ports.RelationalStore
	practice *pedagogy.PracticeSelector
	metrics  *metrics.Metrics
	clock    ports.Clock
	idgen    func() string

	httpServer *http.Server
}

// NewServer creates the API server. idgen supplies query ids; metrics may
// be nil.
func NewServer(
	sched Scheduler,
	cacheSvc *cache.Service,
	installer Installer,
	healthSrc HealthSource,
	store ports.RelationalStore,
	selector *pedagogy.PracticeSelector,
	m *metrics.Metrics,
	clock ports.Clock,
	idgen func() string,
) *Server {
	return &Server{
		sched:    sched,
		cache:    cacheSvc,
		vkp:      installer,
		health:   healthSrc,
		store:    store,
		practice: selector,
		metrics:  m,
		clock:    clock,
		idgen:    idgen,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), securityHeaders())

	r.GET("/health", s.Health)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	v1 := r.Group("/api/v1")
	{
		v1.POST("/queries", s.SubmitQuery)
		v1.POST("/queries/:id/cancel", s.CancelQuery)
		v1.GET("/queue/stats", s.QueueStats)

		v1.GET("/users/:user_id/subjects/:subject_id/mastery", s.GetMastery)
		v1.GET("/users/:user_id/subjects/:subject_id/weak-areas", s.GetWeakAreas)
		v1.GET("/users/:user_id/subjects/:subject_id/practice", s.GetPracticeQuestions)

		v1.GET("/cache/stats", s.CacheStats)
		v1.POST("/cache/invalidate", s.InvalidateCache)

		v1.POST("/vkp/install", s.InstallVKP)
		v1.POST("/vkp/rollback", s.RollbackVKP)
	}
	return r
}

// Start serves HTTP on addr, blocking until Shutdown or listener failure.
// No write timeout: submit_query streams for the query's lifetime.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
