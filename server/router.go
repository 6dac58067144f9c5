// Package server wires the HTTP API. All client routes sit behind the
// identity middleware and answer with the uniform {success, data, message}
// envelope.
package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/drugboard/feedengine/server/middlewares"
)

// NewRouter assembles the gin engine. The default engine already carries the
// logger and recovery middlewares.
func NewRouter(h *Handlers) *gin.Engine {
	router := gin.Default()
	router.Use(cors.Default())

	router.GET("/health", h.Health)

	api := router.Group("/", middlewares.Identity())
	{
		api.GET("/feed", h.GetFeed)
		api.GET("/feed/updates", h.GetFeedUpdates)
		api.GET("/feed/polling-interval", h.GetPollingInterval)

		api.POST("/feed-position", h.SavePosition)
		api.GET("/feed-position", h.GetPosition)
		api.PATCH("/feed-position", h.UpdatePosition)
		api.DELETE("/feed-position", h.ClearPosition)
		api.GET("/feed-position/posts", h.GetPostsAroundPosition)

		api.POST("/view-states/:postId/view", h.TrackView)
		api.GET("/view-states/:postId", h.GetViewState)
		api.POST("/view-states/:postId/interaction", h.TrackInteraction)
		api.GET("/view-states/:postId/count", h.GetViewCount)

		api.POST("/prefetch/init", h.InitPrefetch)
		api.GET("/prefetch/state", h.GetPrefetchState)
		api.POST("/prefetch/trigger", h.TriggerPrefetch)
		api.POST("/prefetch/specialization", h.PrefetchSpecialization)
		api.POST("/prefetch/trending", h.PrefetchTrending)
		api.DELETE("/prefetch", h.CleanupPrefetch)

		api.GET("/feed-analytics", h.GetFeedMetrics)
		api.GET("/feed-analytics/content-types", h.GetContentTypeMetrics)
		api.POST("/feed-analytics/impression", h.TrackFeedImpression)
		api.POST("/feed-analytics/view", h.TrackFeedView)
		api.POST("/feed-analytics/scroll", h.TrackFeedScroll)
		api.POST("/feed-analytics/refresh", h.TrackFeedRefresh)
		api.POST("/feed-analytics/prefetch-hit", h.TrackPrefetchHit)
		api.DELETE("/feed-analytics", h.CleanupAnalytics)

		api.GET("/feed-optimization/content-mix", h.GetOptimizedContentMix)
		api.GET("/feed-optimization/prefetch-threshold", h.GetOptimalPrefetchThreshold)
	}

	// Internal ingest surface for the upstream content service. Deployed
	// behind the service mesh, never exposed to clients.
	internal := router.Group("/internal")
	{
		internal.POST("/posts", h.IngestPost)
		internal.PUT("/posts", h.IngestPostUpdate)
		internal.POST("/follows", h.IngestFollow)
		internal.DELETE("/follows", h.IngestUnfollow)
	}

	return router
}
