package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/drugboard/feedengine/model"
	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

/*

FeedPage is one cached page of a user's feed, written wholesale on
regeneration. LastUpdate is the client facing watermark; an empty string
means the page has never been generated.

*/

type FeedPage struct {
	Posts      []model.PostSnapshot `json:"posts"`
	LastUpdate string               `json:"lastUpdate"`
	TotalItems int                  `json:"totalItems"`
	HasMore    bool                 `json:"hasMore"`
}

// GetFeedPage returns the cached page or nil on miss. It never blocks on
// upstream regeneration.
func (c *Cache) GetFeedPage(ctx context.Context, userId, page int) (*FeedPage, error) {
	data, err := c.inner.Get(ctx, feedPageKey(userId, page)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "fail to get feed page %d for user %d", page, userId)
	}

	var fp FeedPage
	if err := json.Unmarshal([]byte(data), &fp); err != nil {
		return nil, errors.Wrapf(err, "fail to decode cached feed page %d for user %d", page, userId)
	}
	return &fp, nil
}

// PutFeedPage atomically replaces the page and resets its TTL. Readers never
// observe a partially written page: the set+expire pair runs in a single
// transaction.
func (c *Cache) PutFeedPage(ctx context.Context, userId, page int, fp *FeedPage) error {
	return c.putFeedPageTTL(ctx, userId, page, fp, FeedExpiry)
}

// WarmFeedPage is PutFeedPage with a doubled TTL, used by the warming job for
// frequently accessed feeds.
func (c *Cache) WarmFeedPage(ctx context.Context, userId, page int, fp *FeedPage) error {
	return c.putFeedPageTTL(ctx, userId, page, fp, 2*FeedExpiry)
}

func (c *Cache) putFeedPageTTL(ctx context.Context, userId, page int, fp *FeedPage, ttl time.Duration) error {
	data, err := json.Marshal(fp)
	if err != nil {
		return errors.Wrap(err, "fail to encode feed page")
	}

	key := feedPageKey(userId, page)
	_, err = c.inner.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, 0)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	return errors.Wrapf(err, "fail to cache feed page %d for user %d", page, userId)
}

// InvalidateFeed drops every cached page of one user's feed.
func (c *Cache) InvalidateFeed(ctx context.Context, userId int) error {
	pattern := fmt.Sprintf("%s%d:metadata:*", feedKeyPrefix, userId)
	keys, err := c.inner.Keys(ctx, pattern).Result()
	if err != nil {
		return errors.Wrapf(err, "fail to list feed pages for user %d", userId)
	}
	if len(keys) == 0 {
		return nil
	}
	return errors.Wrapf(c.inner.Del(ctx, keys...).Err(), "fail to invalidate feed for user %d", userId)
}

// InvalidateFeeds drops the cached feeds of many users in one round trip per
// user batch.
func (c *Cache) InvalidateFeeds(ctx context.Context, userIds []int) error {
	for _, userId := range userIds {
		if err := c.InvalidateFeed(ctx, userId); err != nil {
			return err
		}
	}
	return nil
}

// TrackFeedAccess bumps the access counter that feeds the warming job. Errors
// are returned but safe to ignore: access tracking is advisory.
func (c *Cache) TrackFeedAccess(ctx context.Context, userId int) error {
	key := feedAccessKey(userId)
	_, err := c.inner.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, CacheWarmTTL)
		return nil
	})
	return errors.Wrapf(err, "fail to track feed access for user %d", userId)
}

func (c *Cache) GetFeedAccessCount(ctx context.Context, userId int) (int, error) {
	count, err := c.inner.Get(ctx, feedAccessKey(userId)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "fail to get feed access count for user %d", userId)
	}
	return count, nil
}

// GetActiveFeedUserIds lists users with a live access counter, the
// candidate set for feed warming.
func (c *Cache) GetActiveFeedUserIds(ctx context.Context) ([]int, error) {
	pattern := fmt.Sprintf("%s*:access", feedKeyPrefix)
	keys, err := c.inner.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, errors.Wrap(err, "fail to list feed access keys")
	}

	ids := []int{}
	for _, key := range keys {
		var userId int
		if _, err := fmt.Sscanf(key, feedKeyPrefix+"%d:access", &userId); err == nil {
			ids = append(ids, userId)
		}
	}
	return ids, nil
}

// CleanupStaleFeeds scans feed keys and evicts entries whose remaining TTL is
// below the low-water mark, bounding memory independent of natural expiry.
func (c *Cache) CleanupStaleFeeds(ctx context.Context) (int, error) {
	keys, err := c.inner.Keys(ctx, feedKeyPrefix+"*").Result()
	if err != nil {
		return 0, errors.Wrap(err, "fail to list feed keys for cleanup")
	}

	evicted := 0
	for i := 0; i < len(keys); i += CacheBatchSize {
		batch := keys[i:min(i+CacheBatchSize, len(keys))]

		cmds := make([]*redis.DurationCmd, len(batch))
		_, err := c.inner.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for j, key := range batch {
				cmds[j] = pipe.TTL(ctx, key)
			}
			return nil
		})
		if err != nil {
			return evicted, errors.Wrap(err, "fail to read TTLs during feed cleanup")
		}

		var expired []string
		for j, cmd := range cmds {
			ttl := cmd.Val()
			if ttl < time.Minute {
				expired = append(expired, batch[j])
			}
		}
		if len(expired) > 0 {
			if err := c.inner.Del(ctx, expired...).Err(); err != nil {
				return evicted, errors.Wrap(err, "fail to evict stale feed keys")
			}
			evicted += len(expired)
		}
	}
	return evicted, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
