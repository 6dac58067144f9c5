package cache

import (
	"context"
	"strconv"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

// AddPopularPost inserts a post into the popularity index with the given
// score (author follower count at publish time) and trims the index to the
// top PopularPostsLimit entries. Add and trim run in one transaction so the
// bound is never observed violated.
func (c *Cache) AddPopularPost(ctx context.Context, postId int, score float64) error {
	_, err := c.inner.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, popularPostsKey, &redis.Z{Score: score, Member: strconv.Itoa(postId)})
		pipe.ZRemRangeByRank(ctx, popularPostsKey, 0, int64(-PopularPostsLimit-1))
		return nil
	})
	return errors.Wrapf(err, "fail to add post %d to popularity index", postId)
}

// GetPopularPosts returns up to limit post ids, highest score first.
func (c *Cache) GetPopularPosts(ctx context.Context, limit int) ([]int, error) {
	members, err := c.inner.ZRevRange(ctx, popularPostsKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "fail to get popular posts")
	}
	return parseIds(members), nil
}

// SetUserFollowerCount keeps the popular-user flag in sync with the author's
// follower count as of the latest follow/unfollow event.
func (c *Cache) SetUserFollowerCount(ctx context.Context, userId, count, popularThreshold int) error {
	member := strconv.Itoa(userId)
	var err error
	if count >= popularThreshold {
		err = c.inner.SAdd(ctx, popularUsersKey, member).Err()
	} else {
		err = c.inner.SRem(ctx, popularUsersKey, member).Err()
	}
	return errors.Wrapf(err, "fail to set follower count for user %d", userId)
}

func (c *Cache) IsPopularUser(ctx context.Context, userId int) (bool, error) {
	ok, err := c.inner.SIsMember(ctx, popularUsersKey, strconv.Itoa(userId)).Result()
	return ok, errors.Wrapf(err, "fail to check popularity of user %d", userId)
}

// CacheUserFollowers stores the follower id set for fan-out without a DB
// round trip.
func (c *Cache) CacheUserFollowers(ctx context.Context, userId int, followerIds []int) error {
	if len(followerIds) == 0 {
		return nil
	}
	members := make([]interface{}, 0, len(followerIds))
	for _, id := range followerIds {
		members = append(members, strconv.Itoa(id))
	}
	return errors.Wrapf(c.inner.SAdd(ctx, followersKey(userId), members...).Err(),
		"fail to cache followers of user %d", userId)
}

func (c *Cache) GetUserFollowers(ctx context.Context, userId int) ([]int, error) {
	members, err := c.inner.SMembers(ctx, followersKey(userId)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "fail to get followers of user %d", userId)
	}
	return parseIds(members), nil
}

func parseIds(members []string) []int {
	ids := []int{}
	for _, m := range members {
		if id, err := strconv.Atoi(m); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}
