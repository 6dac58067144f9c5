package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

const metricWindowSize = 1000

// IncrMetric bumps a named counter. Counters live under a shared prefix so
// the metrics cleanup job can drop them all in one sweep.
func (c *Cache) IncrMetric(ctx context.Context, name string) error {
	return errors.Wrapf(c.inner.Incr(ctx, metricsKeyPrefix+name).Err(), "fail to incr metric %s", name)
}

func (c *Cache) GetMetric(ctx context.Context, name string) (int, error) {
	v, err := c.inner.Get(ctx, metricsKeyPrefix+name).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "fail to get metric %s", name)
	}
	return v, nil
}

// PushMetricSample appends a sample to a bounded sliding window with a fixed
// retention TTL. The window keeps the newest metricWindowSize values.
func (c *Cache) PushMetricSample(ctx context.Context, name string, value float64, ttl time.Duration) error {
	key := metricsKeyPrefix + name
	_, err := c.inner.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, strconv.FormatFloat(value, 'f', -1, 64))
		pipe.LTrim(ctx, key, 0, metricWindowSize-1)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	return errors.Wrapf(err, "fail to push sample to metric %s", name)
}

func (c *Cache) GetMetricSamples(ctx context.Context, name string) ([]float64, error) {
	values, err := c.inner.LRange(ctx, metricsKeyPrefix+name, 0, metricWindowSize-1).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "fail to read samples of metric %s", name)
	}
	samples := []float64{}
	for _, v := range values {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			samples = append(samples, f)
		}
	}
	return samples, nil
}

// DeleteMetrics removes the named metrics, counters and sample windows
// alike.
func (c *Cache) DeleteMetrics(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	keys := make([]string, 0, len(names))
	for _, name := range names {
		keys = append(keys, metricsKeyPrefix+name)
	}
	return errors.Wrap(c.inner.Del(ctx, keys...).Err(), "fail to delete metrics")
}

// CleanupMetrics drops every metric key. Run by the metrics cleanup job.
func (c *Cache) CleanupMetrics(ctx context.Context) error {
	keys, err := c.inner.Keys(ctx, metricsKeyPrefix+"*").Result()
	if err != nil {
		return errors.Wrap(err, "fail to list metric keys")
	}
	if len(keys) == 0 {
		return nil
	}
	return errors.Wrap(c.inner.Del(ctx, keys...).Err(), "fail to delete metric keys")
}
