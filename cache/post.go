package cache

import (
	"context"
	"encoding/json"

	"github.com/drugboard/feedengine/model"
	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

// PutPost caches a post snapshot with its own TTL, independent from feed
// pages.
func (c *Cache) PutPost(ctx context.Context, snap *model.PostSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "fail to encode post snapshot")
	}

	key := postKey(snap.Id)
	_, err = c.inner.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, 0)
		pipe.Expire(ctx, key, PostExpiry)
		return nil
	})
	return errors.Wrapf(err, "fail to cache post %d", snap.Id)
}

// GetPost returns the cached snapshot or nil on miss.
func (c *Cache) GetPost(ctx context.Context, postId int) (*model.PostSnapshot, error) {
	data, err := c.inner.Get(ctx, postKey(postId)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "fail to get post %d from cache", postId)
	}

	var snap model.PostSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, errors.Wrapf(err, "fail to decode cached post %d", postId)
	}
	return &snap, nil
}

func (c *Cache) InvalidatePost(ctx context.Context, postId int) error {
	return errors.Wrapf(c.inner.Del(ctx, postKey(postId)).Err(), "fail to invalidate post %d", postId)
}
