package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classedge/sensei/pkg/cache"
	"github.com/classedge/sensei/pkg/health"
	"github.com/classedge/sensei/pkg/metrics"
	"github.com/classedge/sensei/pkg/models"
	"github.com/classedge/sensei/pkg/pedagogy"
	"github.com/classedge/sensei/pkg/ports/portstest"
)

func TestCacheStats(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	key := cache.Key("what is a fraction", "math", "1.0.0")
	f.cache.Put(ctx, key, &models.Answer{Text: "a part of a whole"}, time.Hour)
	require.NotNil(t, f.cache.Get(ctx, key))
	require.Nil(t, f.cache.Get(ctx, cache.Key("unseen", "math", "1.0.0")))

	rec := f.do(t, http.MethodGet, "/api/v1/cache/stats", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var stats cache.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, "local", stats.Backend)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.KeyCount)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
}

func TestInvalidateCache(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	f.cache.Put(ctx, cache.Key("q one", "math", "1.0.0"), &models.Answer{Text: "a"}, time.Hour)
	f.cache.Put(ctx, cache.Key("q two", "math", "1.0.0"), &models.Answer{Text: "b"}, time.Hour)
	f.cache.Put(ctx, cache.Key("q three", "science", "2.0.0"), &models.Answer{Text: "c"}, time.Hour)

	rec := f.do(t, http.MethodPost, "/api/v1/cache/invalidate", InvalidateCacheRequest{
		Pattern: cache.SubjectWildcard("math"),
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp InvalidateCacheResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Deleted)
	assert.Nil(t, f.cache.Get(ctx, cache.Key("q one", "math", "1.0.0")))
	assert.NotNil(t, f.cache.Get(ctx, cache.Key("q three", "science", "2.0.0")))
}

func TestInvalidateCacheMissingPattern(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/cache/invalidate", map[string]any{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, models.KindBadRequest, decodeError(t, rec).Kind)
}

func TestHealthOK(t *testing.T) {
	f := newAPIFixture(t)
	f.health.report = health.Report{
		Overall: health.StatusOK,
		Components: map[string]health.ComponentStatus{
			health.ComponentLLM:  {Status: health.StatusOK, LatencyMS: 12},
			health.ComponentDisk: {Status: health.StatusWarn, Detail: "free space low"},
		},
	}

	rec := f.do(t, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var report health.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, health.StatusOK, report.Overall)
	assert.Equal(t, health.StatusWarn, report.Components[health.ComponentDisk].Status)
}

func TestHealthCriticalIs503(t *testing.T) {
	f := newAPIFixture(t)
	f.health.report = health.Report{
		Overall: health.StatusCritical,
		Components: map[string]health.ComponentStatus{
			health.ComponentRelational: {Status: health.StatusCritical, Detail: "ping failed"},
		},
	}

	rec := f.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	srv := NewServer(f.sched, f.cache, f.install, f.health, f.store,
		pedagogy.NewPracticeSelector(portstest.NewFakeRandom(1)),
		metrics.New(), f.clock, func() string { return "q" })

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sensei_query_rejections_total")
}
