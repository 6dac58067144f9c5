// Package analytics closes the loop between what users do with their feeds
// and how the next feed gets assembled: counters and sample windows go in,
// tuned mixer weights, refresh intervals and prefetch thresholds come out.
package analytics

import (
	"context"
	"time"

	"github.com/drugboard/feedengine/cache"
)

// Collector is the metrics sink the analytics service writes through. It is
// injected so tests can substitute an in-memory recorder and so the backing
// store can change without touching call sites.
type Collector interface {
	// Incr bumps a named counter.
	Incr(ctx context.Context, name string) error
	// Count reads a named counter, zero when absent.
	Count(ctx context.Context, name string) (int, error)
	// Observe appends a sample to a named bounded window.
	Observe(ctx context.Context, name string, value float64) error
	// Samples reads the current window, newest first.
	Samples(ctx context.Context, name string) ([]float64, error)
	// Reset drops the named metrics, counters and windows alike.
	Reset(ctx context.Context, names ...string) error
}

// sampleExpiry bounds how long an idle sample window survives.
const sampleExpiry = 24 * time.Hour

// RedisCollector implements Collector on the shared cache: counters as
// plain keys, windows as capped lists.
type RedisCollector struct {
	cache *cache.Cache
}

func NewRedisCollector(c *cache.Cache) *RedisCollector {
	return &RedisCollector{cache: c}
}

func (r *RedisCollector) Incr(ctx context.Context, name string) error {
	return r.cache.IncrMetric(ctx, name)
}

func (r *RedisCollector) Count(ctx context.Context, name string) (int, error) {
	return r.cache.GetMetric(ctx, name)
}

func (r *RedisCollector) Observe(ctx context.Context, name string, value float64) error {
	return r.cache.PushMetricSample(ctx, name, value, sampleExpiry)
}

func (r *RedisCollector) Samples(ctx context.Context, name string) ([]float64, error) {
	return r.cache.GetMetricSamples(ctx, name)
}

func (r *RedisCollector) Reset(ctx context.Context, names ...string) error {
	return r.cache.DeleteMetrics(ctx, names...)
}
