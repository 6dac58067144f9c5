package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/drugboard/feedengine/cache"
	. "github.com/drugboard/feedengine/utils/log"
)

const (
	// slowOperationThreshold is where an operation earns a warning log.
	slowOperationThreshold = 500 * time.Millisecond

	// Health gates: the system is healthy while the error rate stays
	// under maxErrorRate and the cache hit rate above minCacheHitRate.
	maxErrorRate    = 0.05
	minCacheHitRate = 0.7
)

// SystemHealth is the health check result.
type SystemHealth struct {
	Healthy      bool    `json:"healthy"`
	ErrorRate    float64 `json:"errorRate"`
	CacheHitRate float64 `json:"cacheHitRate"`
	RedisUp      bool    `json:"redisUp"`
	CheckedAt    int64   `json:"checkedAt"`
}

// Monitor tracks operational signals (latency, errors, cache hit rate) and
// rolls them into the health check.
type Monitor struct {
	collector Collector
	cache     *cache.Cache
}

func NewMonitor(collector Collector, c *cache.Cache) *Monitor {
	return &Monitor{collector: collector, cache: c}
}

// TrackOperation records one operation's latency. Call with the start time
// captured before the work, typically via defer.
func (m *Monitor) TrackOperation(ctx context.Context, op string, start time.Time) {
	elapsed := time.Since(start)
	if err := m.collector.Incr(ctx, "ops:total"); err != nil {
		Log.Warnf("fail to count operation %s: %v", op, err)
	}
	if err := m.collector.Observe(ctx, fmt.Sprintf("latency:%s", op), float64(elapsed.Milliseconds())); err != nil {
		Log.Warnf("fail to record latency of %s: %v", op, err)
	}
	if elapsed >= slowOperationThreshold {
		Log.Warnf("slow operation %s took %s", op, elapsed)
	}
}

func (m *Monitor) TrackCacheHit(ctx context.Context, hit bool) {
	name := "cache:misses"
	if hit {
		name = "cache:hits"
	}
	if err := m.collector.Incr(ctx, name); err != nil {
		Log.Warnf("fail to count cache access: %v", err)
	}
}

func (m *Monitor) TrackError(ctx context.Context, kind string) {
	if err := m.collector.Incr(ctx, "errors:total"); err != nil {
		Log.Warnf("fail to count error: %v", err)
	}
	if err := m.collector.Incr(ctx, fmt.Sprintf("errors:%s", kind)); err != nil {
		Log.Warnf("fail to count error kind %s: %v", kind, err)
	}
}

// CheckHealth evaluates the gates. With no traffic yet both rates read as
// perfect, so a freshly booted instance is healthy as long as Redis
// answers.
func (m *Monitor) CheckHealth(ctx context.Context) SystemHealth {
	health := SystemHealth{CheckedAt: time.Now().UnixMilli()}

	ops := m.readCount(ctx, "ops:total")
	errs := m.readCount(ctx, "errors:total")
	if ops > 0 {
		health.ErrorRate = float64(errs) / float64(ops)
	}

	hits := m.readCount(ctx, "cache:hits")
	misses := m.readCount(ctx, "cache:misses")
	health.CacheHitRate = 1
	if hits+misses > 0 {
		health.CacheHitRate = float64(hits) / float64(hits+misses)
	}

	health.RedisUp = m.cache.Ping(ctx)
	health.Healthy = health.RedisUp &&
		health.ErrorRate < maxErrorRate &&
		health.CacheHitRate > minCacheHitRate
	return health
}

func (m *Monitor) readCount(ctx context.Context, name string) int {
	n, err := m.collector.Count(ctx, name)
	if err != nil {
		Log.Warnf("fail to read metric %s: %v", name, err)
		return 0
	}
	return n
}
