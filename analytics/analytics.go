package analytics

import (
	"context"
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/drugboard/feedengine/apperr"
	"github.com/drugboard/feedengine/cache"
	"github.com/drugboard/feedengine/feed"
	. "github.com/drugboard/feedengine/utils/log"
)

// FeedMetrics is the per user engagement rollup served to clients and fed
// to the optimizer.
type FeedMetrics struct {
	Impressions     int     `json:"impressions"`
	Views           int     `json:"views"`
	Refreshes       int     `json:"refreshes"`
	BounceRate      float64 `json:"bounceRate"`
	AvgViewDuration float64 `json:"avgViewDuration"`
	AvgScrollDepth  float64 `json:"avgScrollDepth"`
	CompletionRate  float64 `json:"completionRate"`
	PrefetchHitRate float64 `json:"prefetchHitRate"`
}

// Service records engagement signals and aggregates them on demand.
// Tracking is fire and forget from the caller's point of view: a metrics
// write failing must never fail the user-facing request, so failures are
// logged and swallowed.
type Service struct {
	collector Collector
	store     *feed.Store
	cache     *cache.Cache
}

func NewService(collector Collector, store *feed.Store, c *cache.Cache) *Service {
	return &Service{collector: collector, store: store, cache: c}
}

func userMetric(name string, userId int) string {
	return fmt.Sprintf("%s:%d", name, userId)
}

// userMetricNames is every per user metric the service records; Cleanup
// iterates it so forgetting a user drops all of their history.
var userMetricNames = []string{
	"impressions", "views", "refreshes", "view_durations",
	"scroll_depths", "refresh_intervals", "prefetch_hits", "prefetch_misses",
}

func (s *Service) TrackImpression(ctx context.Context, userId, postId int) {
	s.incr(ctx, userMetric("impressions", userId))
	s.incr(ctx, "impressions:total")
}

func (s *Service) TrackView(ctx context.Context, userId, postId, durationSeconds int) {
	s.incr(ctx, userMetric("views", userId))
	s.incr(ctx, "views:total")
	if durationSeconds > 0 {
		s.observe(ctx, userMetric("view_durations", userId), float64(durationSeconds))
	}
}

// TrackScrollDepth records how far down the feed the user got, as a
// fraction in [0, 1].
func (s *Service) TrackScrollDepth(ctx context.Context, userId int, depth float64) {
	if depth < 0 || depth > 1 {
		return
	}
	s.observe(ctx, userMetric("scroll_depths", userId), depth)
}

// TrackRefresh counts the refresh and, when a previous refresh timestamp is
// known, records the interval between the two for the optimizer.
func (s *Service) TrackRefresh(ctx context.Context, userId int) {
	s.incr(ctx, userMetric("refreshes", userId))

	key := fmt.Sprintf("last_refresh:%d", userId)
	now := time.Now().UnixMilli()
	var last int64
	found, err := s.cache.GetJSON(ctx, key, &last)
	if err == nil && found && now > last {
		s.observe(ctx, userMetric("refresh_intervals", userId), float64(now-last))
	}
	if err := s.cache.SetJSON(ctx, key, now, sampleExpiry); err != nil {
		Log.Warnf("fail to record refresh timestamp for user %d: %v", userId, err)
	}
}

// TrackPrefetch records whether a page request was served by a previously
// prefetched page.
func (s *Service) TrackPrefetch(ctx context.Context, userId int, hit bool) {
	if hit {
		s.incr(ctx, userMetric("prefetch_hits", userId))
		s.incr(ctx, "prefetch_hits:total")
	} else {
		s.incr(ctx, userMetric("prefetch_misses", userId))
		s.incr(ctx, "prefetch_misses:total")
	}
}

// Cleanup forgets the user's accumulated engagement history, counters and
// sample windows alike, along with the refresh timestamp.
func (s *Service) Cleanup(ctx context.Context, userId int) error {
	names := make([]string, 0, len(userMetricNames))
	for _, name := range userMetricNames {
		names = append(names, userMetric(name, userId))
	}
	if err := s.collector.Reset(ctx, names...); err != nil {
		return apperr.Dependency(err, "failed to clean up analytics")
	}
	return apperr.Dependency(
		s.cache.Delete(ctx, fmt.Sprintf("last_refresh:%d", userId)),
		"failed to drop refresh timestamp")
}

// FeedMetrics aggregates the user's engagement rollup. Counter reads that
// fail degrade to zero rather than failing the whole rollup.
func (s *Service) FeedMetrics(ctx context.Context, userId int) (*FeedMetrics, error) {
	impressions := s.count(ctx, userMetric("impressions", userId))
	views := s.count(ctx, userMetric("views", userId))
	refreshes := s.count(ctx, userMetric("refreshes", userId))
	prefetchHits := s.count(ctx, userMetric("prefetch_hits", userId))
	prefetchMisses := s.count(ctx, userMetric("prefetch_misses", userId))

	m := &FeedMetrics{
		Impressions: impressions,
		Views:       views,
		Refreshes:   refreshes,
	}
	if impressions > 0 {
		m.BounceRate = 1 - float64(views)/float64(impressions)
		if m.BounceRate < 0 {
			m.BounceRate = 0
		}
	}
	if prefetchHits+prefetchMisses > 0 {
		m.PrefetchHitRate = float64(prefetchHits) / float64(prefetchHits+prefetchMisses)
	}
	m.AvgViewDuration = s.mean(ctx, userMetric("view_durations", userId))
	m.AvgScrollDepth = s.mean(ctx, userMetric("scroll_depths", userId))

	completion, err := s.store.UserCompletionRate(userId)
	if err != nil {
		return nil, apperr.Dependency(err, "failed to aggregate completion rate")
	}
	m.CompletionRate = completion
	return m, nil
}

// ContentTypeMetrics returns the per content type engagement rollup straight
// from the store.
func (s *Service) ContentTypeMetrics(ctx context.Context, userId int) ([]feed.ContentTypeEngagement, error) {
	rows, err := s.store.GetContentTypeEngagement(userId)
	if err != nil {
		return nil, apperr.Dependency(err, "failed to aggregate content type metrics")
	}
	return rows, nil
}

func (s *Service) incr(ctx context.Context, name string) {
	if err := s.collector.Incr(ctx, name); err != nil {
		Log.Warnf("fail to bump metric %s: %v", name, err)
	}
}

func (s *Service) observe(ctx context.Context, name string, value float64) {
	if err := s.collector.Observe(ctx, name, value); err != nil {
		Log.Warnf("fail to observe metric %s: %v", name, err)
	}
}

func (s *Service) count(ctx context.Context, name string) int {
	n, err := s.collector.Count(ctx, name)
	if err != nil {
		Log.Warnf("fail to read metric %s: %v", name, err)
		return 0
	}
	return n
}

func (s *Service) mean(ctx context.Context, name string) float64 {
	samples, err := s.collector.Samples(ctx, name)
	if err != nil {
		Log.Warnf("fail to read samples %s: %v", name, err)
		return 0
	}
	if len(samples) == 0 {
		return 0
	}
	return stat.Mean(samples, nil)
}
