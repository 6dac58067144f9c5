package jobs

import (
	"context"
	"time"

	"github.com/drugboard/feedengine/cache"
	"github.com/drugboard/feedengine/feed"
	Logger "github.com/drugboard/feedengine/utils/log"
)

const (
	cacheCleanupInterval   = 10 * time.Minute
	feedWarmingInterval    = 5 * time.Minute
	metricsCleanupInterval = 24 * time.Hour
)

// NewCacheCleanupModule sweeps feed keys whose TTL is nearly gone so memory
// is reclaimed ahead of natural expiry.
func NewCacheCleanupModule(c *cache.Cache) Module {
	return NewIntervalModule("cache_cleanup", cacheCleanupInterval, func(ctx context.Context) error {
		evicted, err := c.CleanupStaleFeeds(ctx)
		if err != nil {
			return err
		}
		if evicted > 0 {
			Logger.Log.Infof("cache cleanup evicted %d stale feed keys", evicted)
		}
		return nil
	})
}

// NewFeedWarmingModule regenerates the first page for users whose feeds are
// read often enough to clear the warm threshold, writing them back with an
// extended TTL so hot feeds rarely miss.
func NewFeedWarmingModule(c *cache.Cache, feeds *feed.Service) Module {
	return NewIntervalModule("feed_warming", feedWarmingInterval, func(ctx context.Context) error {
		userIds, err := c.GetActiveFeedUserIds(ctx)
		if err != nil {
			return err
		}

		warmed := 0
		for _, userId := range userIds {
			count, err := c.GetFeedAccessCount(ctx, userId)
			if err != nil {
				Logger.Log.Warnf("fail to read access count for user %d: %v", userId, err)
				continue
			}
			if count < cache.FeedWarmThreshold {
				continue
			}

			page, err := feeds.GeneratePage(ctx, userId, 1, nil)
			if err != nil {
				Logger.Log.Warnf("fail to warm feed for user %d: %v", userId, err)
				continue
			}
			if err := c.WarmFeedPage(ctx, userId, 1, page); err != nil {
				Logger.Log.Warnf("fail to cache warmed feed for user %d: %v", userId, err)
				continue
			}
			warmed++
		}
		if warmed > 0 {
			Logger.Log.Infof("feed warming refreshed %d hot feeds", warmed)
		}
		return nil
	})
}

// NewMetricsCleanupModule drops all metric keys once a day. Counters restart
// from zero; sample windows are self-bounding anyway so this just reclaims
// idle keys.
func NewMetricsCleanupModule(c *cache.Cache) Module {
	return NewIntervalModule("metrics_cleanup", metricsCleanupInterval, func(ctx context.Context) error {
		return c.CleanupMetrics(ctx)
	})
}
