package cache

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

const (
	feedKeyPrefix      = "feed:"
	postKeyPrefix      = "post:"
	popularPostsKey    = "popular:posts"
	popularUsersKey    = "popular:users"
	followersKeyPrefix = "followers:"
	metricsKeyPrefix   = "metrics:"

	FeedExpiry = 5 * time.Minute
	PostExpiry = 24 * time.Hour

	PopularPostsLimit = 100

	// Cache warming
	CacheWarmTTL      = 30 * time.Minute
	FeedWarmThreshold = 5 // recent accesses for a feed to be considered "hot"
	CacheBatchSize    = 50
)

/*

Cache is the fast working store in front of Postgres: feed pages, post
snapshots, the popularity index, follower sets, per-feed access counters and
metric series all live here with independent TTLs.

Failure policy: every operation surfaces its error to the caller, who falls
back to recomputing from the source of truth. A miss is a nil result, never
an error.

*/

type Cache struct {
	inner *redis.Client
}

// GetCache connects to the Redis instance specified by env.
func GetCache() (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", os.Getenv("REDIS_HOST"), os.Getenv("REDIS_PORT")),
		Password: os.Getenv("REDIS_PASSWD"),
		DB:       0, // use default DB
	})
	if _, err := client.Ping(context.Background()).Result(); err != nil {
		return nil, errors.Wrap(err, "fail to connect to redis")
	}
	return &Cache{inner: client}, nil
}

// NewCache wraps an existing client. Used by tests running against miniredis.
func NewCache(client *redis.Client) *Cache {
	return &Cache{inner: client}
}

// Ping reports whether the cache backend is reachable.
func (c *Cache) Ping(ctx context.Context) bool {
	res, err := c.inner.Ping(ctx).Result()
	return err == nil && res == "PONG"
}

func feedPageKey(userId, page int) string {
	return fmt.Sprintf("%s%d:metadata:%d", feedKeyPrefix, userId, page)
}

func feedAccessKey(userId int) string {
	return fmt.Sprintf("%s%d:access", feedKeyPrefix, userId)
}

func postKey(postId int) string {
	return fmt.Sprintf("%s%d", postKeyPrefix, postId)
}

func followersKey(userId int) string {
	return fmt.Sprintf("%s%d", followersKeyPrefix, userId)
}
