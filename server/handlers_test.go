package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drugboard/feedengine/analytics"
	"github.com/drugboard/feedengine/cache"
	"github.com/drugboard/feedengine/server/middlewares"
)

func newAnalyticsRouter(t *testing.T) (*gin.Engine, analytics.Collector) {
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	c := cache.NewCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	collector := analytics.NewRedisCollector(c)
	h := &Handlers{Analytics: analytics.NewService(collector, nil, c)}
	return NewRouter(h), collector
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string, userId int) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if userId > 0 {
		req.Header.Set(middlewares.IdentityHeader, strconv.Itoa(userId))
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestTrackingEndpointsRequireIdentity(t *testing.T) {
	router, _ := newAnalyticsRouter(t)
	w := doJSON(t, router, http.MethodPost, "/feed-analytics/refresh", "", 0)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTrackingEndpointsRecordSignals(t *testing.T) {
	router, collector := newAnalyticsRouter(t)
	ctx := context.Background()

	require.Equal(t, http.StatusOK, doJSON(t, router, http.MethodPost, "/feed-analytics/impression", `{"postId": 1}`, 7).Code)
	require.Equal(t, http.StatusOK, doJSON(t, router, http.MethodPost, "/feed-analytics/view", `{"postId": 1, "viewDuration": 12}`, 7).Code)
	require.Equal(t, http.StatusOK, doJSON(t, router, http.MethodPost, "/feed-analytics/refresh", "", 7).Code)
	require.Equal(t, http.StatusOK, doJSON(t, router, http.MethodPost, "/feed-analytics/refresh", "", 7).Code)
	require.Equal(t, http.StatusOK, doJSON(t, router, http.MethodPost, "/feed-analytics/scroll", `{"scrollDepth": 0.8}`, 7).Code)
	require.Equal(t, http.StatusOK, doJSON(t, router, http.MethodPost, "/feed-analytics/prefetch-hit", `{"hit": true}`, 7).Code)
	require.Equal(t, http.StatusOK, doJSON(t, router, http.MethodPost, "/feed-analytics/prefetch-hit", `{"hit": false}`, 7).Code)

	impressions, err := collector.Count(ctx, "impressions:7")
	require.Nil(t, err)
	assert.Equal(t, 1, impressions)
	views, _ := collector.Count(ctx, "views:7")
	assert.Equal(t, 1, views)
	refreshes, _ := collector.Count(ctx, "refreshes:7")
	assert.Equal(t, 2, refreshes)
	hits, _ := collector.Count(ctx, "prefetch_hits:7")
	assert.Equal(t, 1, hits)
	misses, _ := collector.Count(ctx, "prefetch_misses:7")
	assert.Equal(t, 1, misses)
	depths, _ := collector.Samples(ctx, "scroll_depths:7")
	assert.Equal(t, []float64{0.8}, depths)
}

func TestTrackFeedScrollRejectsOutOfRangeDepth(t *testing.T) {
	router, _ := newAnalyticsRouter(t)
	w := doJSON(t, router, http.MethodPost, "/feed-analytics/scroll", `{"scrollDepth": 1.5}`, 7)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCleanupAnalyticsForgetsTheUser(t *testing.T) {
	router, collector := newAnalyticsRouter(t)
	ctx := context.Background()

	require.Equal(t, http.StatusOK, doJSON(t, router, http.MethodPost, "/feed-analytics/refresh", "", 7).Code)
	require.Equal(t, http.StatusOK, doJSON(t, router, http.MethodPost, "/feed-analytics/impression", "", 7).Code)

	w := doJSON(t, router, http.MethodDelete, "/feed-analytics", "", 7)
	require.Equal(t, http.StatusOK, w.Code)

	refreshes, _ := collector.Count(ctx, "refreshes:7")
	assert.Equal(t, 0, refreshes)
	impressions, _ := collector.Count(ctx, "impressions:7")
	assert.Equal(t, 0, impressions)
}
