package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/drugboard/feedengine/analytics"
	"github.com/drugboard/feedengine/apperr"
	"github.com/drugboard/feedengine/event"
	"github.com/drugboard/feedengine/feed"
	"github.com/drugboard/feedengine/model"
	"github.com/drugboard/feedengine/position"
	"github.com/drugboard/feedengine/prefetch"
	"github.com/drugboard/feedengine/server/middlewares"
	"github.com/drugboard/feedengine/viewstate"
)

// Handlers bundles every service the API fronts.
type Handlers struct {
	Feeds      *feed.Service
	Strategist *feed.Strategist
	ViewStates *viewstate.Service
	Prefetch   *prefetch.Service
	Positions  *position.Service
	Analytics  *analytics.Service
	Optimizer  *analytics.Optimizer
	Monitor    *analytics.Monitor
	Producer   *event.Producer
}

// GetFeed serves one feed page, cache first.
func (h *Handlers) GetFeed(c *gin.Context) {
	start := time.Now()
	userId := middlewares.UserId(c)
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	lastUpdate := c.Query("lastUpdate")

	fp, err := h.Feeds.Generate(c.Request.Context(), userId, page, lastUpdate)
	if err != nil {
		h.Monitor.TrackError(c.Request.Context(), "feed_generation")
		fail(c, err)
		return
	}
	h.Monitor.TrackOperation(c.Request.Context(), "get_feed", start)
	ok(c, fp)
}

// GetFeedUpdates serves the differential update stream: only posts newer
// than the caller's watermark.
func (h *Handlers) GetFeedUpdates(c *gin.Context) {
	userId := middlewares.UserId(c)
	lastUpdate := c.Query("lastUpdate")
	if lastUpdate == "" {
		fail(c, apperr.Validation("lastUpdate is required"))
		return
	}

	posts, watermark, err := h.Feeds.DifferentialUpdates(c.Request.Context(), userId, lastUpdate)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{
		"posts":      posts,
		"lastUpdate": watermark,
		"count":      len(posts),
	})
}

// GetPollingInterval tells the client how often to ask for updates, tuned
// to its own refresh cadence.
func (h *Handlers) GetPollingInterval(c *gin.Context) {
	userId := middlewares.UserId(c)
	interval := h.Optimizer.OptimalRefreshInterval(c.Request.Context(), userId)
	ok(c, gin.H{"intervalMs": interval.Milliseconds()})
}

func (h *Handlers) TrackView(c *gin.Context) {
	userId := middlewares.UserId(c)
	postId, err := strconv.Atoi(c.Param("postId"))
	if err != nil || postId <= 0 {
		fail(c, apperr.Validation("postId must be a positive integer"))
		return
	}

	var in viewstate.ViewInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, apperr.Validation("malformed view payload"))
		return
	}

	state, err := h.ViewStates.TrackView(c.Request.Context(), userId, postId, in)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, state)
}

func (h *Handlers) GetViewState(c *gin.Context) {
	userId := middlewares.UserId(c)
	postId, err := strconv.Atoi(c.Param("postId"))
	if err != nil || postId <= 0 {
		fail(c, apperr.Validation("postId must be a positive integer"))
		return
	}

	state, err := h.ViewStates.Get(c.Request.Context(), userId, postId)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, state)
}

func (h *Handlers) TrackInteraction(c *gin.Context) {
	userId := middlewares.UserId(c)
	postId, err := strconv.Atoi(c.Param("postId"))
	if err != nil || postId <= 0 {
		fail(c, apperr.Validation("postId must be a positive integer"))
		return
	}

	var body struct {
		Type string `json:"type"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Type == "" {
		fail(c, apperr.Validation("interaction type is required"))
		return
	}

	state, err := h.ViewStates.TrackInteraction(c.Request.Context(), userId, postId, body.Type)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, state)
}

func (h *Handlers) GetViewCount(c *gin.Context) {
	postId, err := strconv.Atoi(c.Param("postId"))
	if err != nil || postId <= 0 {
		fail(c, apperr.Validation("postId must be a positive integer"))
		return
	}
	count, err := h.ViewStates.ViewCount(c.Request.Context(), postId)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"postId": postId, "views": count})
}

func (h *Handlers) InitPrefetch(c *gin.Context) {
	userId := middlewares.UserId(c)
	var body struct {
		Threshold float64 `json:"threshold"`
	}
	// Body is optional; an absent threshold means the tuned default.
	_ = c.ShouldBindJSON(&body)
	if body.Threshold == 0 {
		body.Threshold = h.Optimizer.OptimalPrefetchThreshold(c.Request.Context(), userId)
	}

	state, err := h.Prefetch.Init(c.Request.Context(), userId, body.Threshold)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, state)
}

func (h *Handlers) GetPrefetchState(c *gin.Context) {
	state, err := h.Prefetch.GetState(c.Request.Context(), middlewares.UserId(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, state)
}

// TriggerPrefetch evaluates a scroll report against the threshold and warms
// the next page when crossed.
func (h *Handlers) TriggerPrefetch(c *gin.Context) {
	userId := middlewares.UserId(c)
	var body struct {
		ScrollPosition float64 `json:"scrollPosition"`
		TotalHeight    float64 `json:"totalHeight"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, apperr.Validation("malformed prefetch payload"))
		return
	}

	result, err := h.Prefetch.MaybePrefetch(c.Request.Context(), userId, body.ScrollPosition, body.TotalHeight)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, result)
}

func (h *Handlers) PrefetchSpecialization(c *gin.Context) {
	result, err := h.Prefetch.PrefetchSpecialization(c.Request.Context(), middlewares.UserId(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, result)
}

func (h *Handlers) PrefetchTrending(c *gin.Context) {
	result, err := h.Prefetch.PrefetchTrending(c.Request.Context(), middlewares.UserId(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, result)
}

func (h *Handlers) CleanupPrefetch(c *gin.Context) {
	if err := h.Prefetch.Cleanup(c.Request.Context(), middlewares.UserId(c)); err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"cleaned": true})
}

func (h *Handlers) SavePosition(c *gin.Context) {
	var pos position.Position
	if err := c.ShouldBindJSON(&pos); err != nil {
		fail(c, apperr.Validation("malformed position payload"))
		return
	}
	saved, err := h.Positions.Save(c.Request.Context(), middlewares.UserId(c), pos)
	if err != nil {
		fail(c, err)
		return
	}
	created(c, saved)
}

func (h *Handlers) GetPosition(c *gin.Context) {
	pos, err := h.Positions.Get(c.Request.Context(), middlewares.UserId(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, pos)
}

func (h *Handlers) UpdatePosition(c *gin.Context) {
	var change position.Position
	if err := c.ShouldBindJSON(&change); err != nil {
		fail(c, apperr.Validation("malformed position payload"))
		return
	}
	updated, err := h.Positions.Update(c.Request.Context(), middlewares.UserId(c), change)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, updated)
}

func (h *Handlers) ClearPosition(c *gin.Context) {
	if err := h.Positions.Clear(c.Request.Context(), middlewares.UserId(c)); err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"cleared": true})
}

func (h *Handlers) GetPostsAroundPosition(c *gin.Context) {
	radius, _ := strconv.Atoi(c.DefaultQuery("radius", "5"))
	posts, pos, err := h.Positions.PostsAround(c.Request.Context(), middlewares.UserId(c), radius)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"position": pos, "posts": posts})
}

func (h *Handlers) GetFeedMetrics(c *gin.Context) {
	metrics, err := h.Analytics.FeedMetrics(c.Request.Context(), middlewares.UserId(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, metrics)
}

func (h *Handlers) GetContentTypeMetrics(c *gin.Context) {
	rows, err := h.Analytics.ContentTypeMetrics(c.Request.Context(), middlewares.UserId(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, rows)
}

// The tracking endpoints below are the client's side of the analytics
// loop: the client reports what it showed and what the user did with it,
// the optimizer reads the rollup back out.

func (h *Handlers) TrackFeedImpression(c *gin.Context) {
	var body struct {
		PostId int `json:"postId"`
	}
	_ = c.ShouldBindJSON(&body)
	h.Analytics.TrackImpression(c.Request.Context(), middlewares.UserId(c), body.PostId)
	ok(c, gin.H{"tracked": true})
}

func (h *Handlers) TrackFeedView(c *gin.Context) {
	var body struct {
		PostId       int `json:"postId"`
		ViewDuration int `json:"viewDuration"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, apperr.Validation("malformed view payload"))
		return
	}
	h.Analytics.TrackView(c.Request.Context(), middlewares.UserId(c), body.PostId, body.ViewDuration)
	ok(c, gin.H{"tracked": true})
}

func (h *Handlers) TrackFeedScroll(c *gin.Context) {
	var body struct {
		ScrollDepth float64 `json:"scrollDepth"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.ScrollDepth < 0 || body.ScrollDepth > 1 {
		fail(c, apperr.Validation("scrollDepth must be a fraction in [0, 1]"))
		return
	}
	h.Analytics.TrackScrollDepth(c.Request.Context(), middlewares.UserId(c), body.ScrollDepth)
	ok(c, gin.H{"tracked": true})
}

func (h *Handlers) TrackFeedRefresh(c *gin.Context) {
	h.Analytics.TrackRefresh(c.Request.Context(), middlewares.UserId(c))
	ok(c, gin.H{"tracked": true})
}

func (h *Handlers) TrackPrefetchHit(c *gin.Context) {
	var body struct {
		Hit bool `json:"hit"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, apperr.Validation("malformed prefetch hit payload"))
		return
	}
	h.Analytics.TrackPrefetch(c.Request.Context(), middlewares.UserId(c), body.Hit)
	ok(c, gin.H{"tracked": true})
}

func (h *Handlers) CleanupAnalytics(c *gin.Context) {
	if err := h.Analytics.Cleanup(c.Request.Context(), middlewares.UserId(c)); err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"cleaned": true})
}

// GetOptimizedContentMix returns the mixer weights tuned to the caller's
// engagement history.
func (h *Handlers) GetOptimizedContentMix(c *gin.Context) {
	cfg, err := h.Optimizer.OptimizeSourceMix(c.Request.Context(), middlewares.UserId(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, cfg)
}

func (h *Handlers) GetOptimalPrefetchThreshold(c *gin.Context) {
	threshold := h.Optimizer.OptimalPrefetchThreshold(c.Request.Context(), middlewares.UserId(c))
	ok(c, gin.H{"threshold": threshold})
}

// Health is unauthenticated so load balancers can poll it.
func (h *Handlers) Health(c *gin.Context) {
	health := h.Monitor.CheckHealth(c.Request.Context())
	status := 200
	if !health.Healthy {
		status = 503
	}
	c.JSON(status, envelope{Success: health.Healthy, Data: health})
}

// IngestPost receives post creation notifications from the content service
// and runs fan-out classification. Internal surface, not client facing.
func (h *Handlers) IngestPost(c *gin.Context) {
	var post model.Post
	if err := c.ShouldBindJSON(&post); err != nil || post.Id <= 0 || post.UserId <= 0 {
		fail(c, apperr.Validation("post id and author are required"))
		return
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now()
	}

	if err := h.Strategist.HandlePostCreated(c.Request.Context(), &post); err != nil {
		fail(c, err)
		return
	}
	created(c, gin.H{"postId": post.Id})
}

// IngestPostUpdate receives post edit notifications.
func (h *Handlers) IngestPostUpdate(c *gin.Context) {
	var post model.Post
	if err := c.ShouldBindJSON(&post); err != nil || post.Id <= 0 || post.UserId <= 0 {
		fail(c, apperr.Validation("post id and author are required"))
		return
	}
	if err := h.Strategist.HandlePostUpdated(c.Request.Context(), &post); err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"postId": post.Id})
}

// IngestFollow receives follow/unfollow notifications and republishes them
// onto the bus.
func (h *Handlers) IngestFollow(c *gin.Context) {
	var body event.FollowPayload
	if err := c.ShouldBindJSON(&body); err != nil || body.FollowerId <= 0 || body.FollowingId <= 0 {
		fail(c, apperr.Validation("followerId and followingId are required"))
		return
	}
	if err := h.Producer.UserFollowed(body); err != nil {
		fail(c, apperr.Dependency(err, "failed to publish follow"))
		return
	}
	ok(c, body)
}

func (h *Handlers) IngestUnfollow(c *gin.Context) {
	var body event.FollowPayload
	if err := c.ShouldBindJSON(&body); err != nil || body.FollowerId <= 0 || body.FollowingId <= 0 {
		fail(c, apperr.Validation("followerId and followingId are required"))
		return
	}
	if err := h.Producer.UserUnfollowed(body); err != nil {
		fail(c, apperr.Dependency(err, "failed to publish unfollow"))
		return
	}
	ok(c, body)
}
