package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

// Generic JSON value helpers shared by the view-state, prefetch and feed
// position layers, which all keep small per-user documents with a TTL.

// SetJSON stores value under key with the given TTL in one transaction.
func (c *Cache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "fail to encode value for key %s", key)
	}
	_, err = c.inner.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, 0)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	return errors.Wrapf(err, "fail to set key %s", key)
}

// GetJSON decodes the value at key into out. Returns false on miss.
func (c *Cache) GetJSON(ctx context.Context, key string, out interface{}) (bool, error) {
	data, err := c.inner.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "fail to get key %s", key)
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return false, errors.Wrapf(err, "fail to decode value at key %s", key)
	}
	return true, nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	return errors.Wrapf(c.inner.Del(ctx, key).Err(), "fail to delete key %s", key)
}

// MGetJSON fetches many keys in one round trip. The result is positional:
// entry i belongs to keys[i], with "" marking a miss. Decoding is left to
// the caller since entries may be of different shapes.
func (c *Cache) MGetJSON(ctx context.Context, keys []string) ([]string, error) {
	if len(keys) == 0 {
		return []string{}, nil
	}
	values, err := c.inner.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "fail to mget keys")
	}
	out := make([]string, len(values))
	for i, v := range values {
		if s, ok := v.(string); ok {
			out[i] = s
		}
	}
	return out, nil
}
