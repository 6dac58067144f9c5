package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"

	"github.com/drugboard/feedengine/cache"
)

func newTestMonitor(t *testing.T) (*Monitor, *memCollector, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	collector := newMemCollector()
	return NewMonitor(collector, cache.NewCache(client)), collector, mr
}

func TestCheckHealthOnFreshInstance(t *testing.T) {
	m, _, _ := newTestMonitor(t)

	health := m.CheckHealth(context.Background())
	assert.True(t, health.Healthy)
	assert.True(t, health.RedisUp)
	assert.Equal(t, 0.0, health.ErrorRate)
	assert.Equal(t, 1.0, health.CacheHitRate)
}

func TestCheckHealthFlagsHighErrorRate(t *testing.T) {
	m, collector, _ := newTestMonitor(t)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		collector.Incr(ctx, "ops:total")
	}
	for i := 0; i < 6; i++ {
		m.TrackError(ctx, "feed_generation")
	}

	health := m.CheckHealth(ctx)
	assert.False(t, health.Healthy)
	assert.Greater(t, health.ErrorRate, 0.05)
}

func TestCheckHealthFlagsColdCache(t *testing.T) {
	m, _, _ := newTestMonitor(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m.TrackCacheHit(ctx, true)
	}
	for i := 0; i < 7; i++ {
		m.TrackCacheHit(ctx, false)
	}

	health := m.CheckHealth(ctx)
	assert.False(t, health.Healthy)
	assert.InDelta(t, 0.3, health.CacheHitRate, 1e-9)
}

func TestCheckHealthFlagsRedisDown(t *testing.T) {
	m, _, mr := newTestMonitor(t)

	mr.Close()
	health := m.CheckHealth(context.Background())
	assert.False(t, health.Healthy)
	assert.False(t, health.RedisUp)
}

func TestTrackOperationRecordsLatency(t *testing.T) {
	m, collector, _ := newTestMonitor(t)
	ctx := context.Background()

	m.TrackOperation(ctx, "get_feed", time.Now().Add(-10*time.Millisecond))

	ops, _ := collector.Count(ctx, "ops:total")
	assert.Equal(t, 1, ops)
	samples, _ := collector.Samples(ctx, "latency:get_feed")
	assert.Len(t, samples, 1)
	assert.GreaterOrEqual(t, samples[0], 10.0)
}
