package analytics

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drugboard/feedengine/feed"
	"github.com/drugboard/feedengine/model"
	"github.com/drugboard/feedengine/utils"
	"github.com/drugboard/feedengine/utils/dotenv"
)

func TestMain(m *testing.M) {
	dotenv.LoadDotEnvsInTests()
	os.Exit(m.Run())
}

// memCollector is an in-memory Collector for tests.
type memCollector struct {
	counters map[string]int
	windows  map[string][]float64
}

func newMemCollector() *memCollector {
	return &memCollector{
		counters: map[string]int{},
		windows:  map[string][]float64{},
	}
}

func (m *memCollector) Incr(ctx context.Context, name string) error {
	m.counters[name]++
	return nil
}

func (m *memCollector) Count(ctx context.Context, name string) (int, error) {
	return m.counters[name], nil
}

func (m *memCollector) Observe(ctx context.Context, name string, value float64) error {
	m.windows[name] = append([]float64{value}, m.windows[name]...)
	return nil
}

func (m *memCollector) Samples(ctx context.Context, name string) ([]float64, error) {
	return m.windows[name], nil
}

func (m *memCollector) Reset(ctx context.Context, names ...string) error {
	for _, name := range names {
		delete(m.counters, name)
		delete(m.windows, name)
	}
	return nil
}

func newTestOptimizer(t *testing.T) (*Optimizer, *memCollector) {
	db, _ := utils.CreateTempDB(t)
	collector := newMemCollector()
	service := NewService(collector, feed.NewStore(db), nil)
	return NewOptimizer(service), collector
}

func incrN(t *testing.T, collector *memCollector, name string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.Nil(t, collector.Incr(context.Background(), name))
	}
}

func TestOptimalRefreshIntervalFloorsForInactiveUser(t *testing.T) {
	o, _ := newTestOptimizer(t)
	assert.Equal(t, MinRefreshInterval, o.OptimalRefreshInterval(context.Background(), 1))
}

func TestOptimalRefreshIntervalFloorsWhenFeedIsIgnored(t *testing.T) {
	o, collector := newTestOptimizer(t)

	// Plenty of impressions but not a single view, refresh or completed
	// read: the engagement factor is zero and polling bottoms out.
	incrN(t, collector, userMetric("impressions", 1), 100)
	assert.Equal(t, MinRefreshInterval, o.OptimalRefreshInterval(context.Background(), 1))
}

func TestOptimalRefreshIntervalScalesWithEngagement(t *testing.T) {
	o, collector := newTestOptimizer(t)

	// Full view rate and a half-saturated refresh count with no completed
	// reads average to a factor of one half.
	incrN(t, collector, userMetric("impressions", 1), 10)
	incrN(t, collector, userMetric("views", 1), 10)
	incrN(t, collector, userMetric("refreshes", 1), 5)
	assert.Equal(t, 150*time.Second, o.OptimalRefreshInterval(context.Background(), 1))
}

func TestOptimalRefreshIntervalCapsAtCeiling(t *testing.T) {
	o, collector := newTestOptimizer(t)
	ctx := context.Background()

	// A view rate far above one pushes the scaled interval past the
	// ceiling.
	incrN(t, collector, userMetric("impressions", 1), 1)
	incrN(t, collector, userMetric("views", 1), 30)
	incrN(t, collector, userMetric("refreshes", 1), 50)
	assert.Equal(t, MaxRefreshInterval, o.OptimalRefreshInterval(ctx, 1))
}

func TestOptimalPrefetchThresholdFloorsWithoutHistory(t *testing.T) {
	o, _ := newTestOptimizer(t)
	assert.InDelta(t, MinPrefetchThreshold, o.OptimalPrefetchThreshold(context.Background(), 1), 1e-9)
}

func TestOptimalPrefetchThresholdScalesWithHitRateAndDepth(t *testing.T) {
	o, collector := newTestOptimizer(t)
	ctx := context.Background()

	// Perfect hit rate and full scroll depth land exactly on the base
	// threshold.
	incrN(t, collector, userMetric("prefetch_hits", 1), 4)
	for i := 0; i < 4; i++ {
		require.Nil(t, collector.Observe(ctx, userMetric("scroll_depths", 1), 1.0))
	}
	assert.InDelta(t, 0.7, o.OptimalPrefetchThreshold(ctx, 1), 1e-9)

	// Middling signals scale below the floor and clamp.
	incrN(t, collector, userMetric("prefetch_hits", 2), 1)
	incrN(t, collector, userMetric("prefetch_misses", 2), 1)
	require.Nil(t, collector.Observe(ctx, userMetric("scroll_depths", 2), 0.5))
	assert.InDelta(t, MinPrefetchThreshold, o.OptimalPrefetchThreshold(ctx, 2), 1e-9)
}

func TestOptimizeContentMixKeepsDefaultsWithoutHistory(t *testing.T) {
	o, _ := newTestOptimizer(t)

	cfg, err := o.OptimizeContentMix(context.Background(), 1)
	require.Nil(t, err)
	assert.Equal(t, feed.DefaultMixConfig().ContentTypes, cfg.ContentTypes)
}

func TestOptimizeContentMixFollowsEngagement(t *testing.T) {
	db, _ := utils.CreateTempDB(t)
	collector := newMemCollector()
	o := NewOptimizer(NewService(collector, feed.NewStore(db), nil))

	require.Nil(t, db.Create(&model.User{Id: 8, Name: "author"}).Error)
	require.Nil(t, db.Create(&model.Specialization{Id: 1, Name: "cardiology"}).Error)
	for i := 1; i <= 2; i++ {
		require.Nil(t, db.Create(&model.Post{
			Id: i, UserId: 8, SpecializationId: 1, ContentType: "discussion",
		}).Error)
		require.Nil(t, db.Create(&model.ViewState{
			UserId: 1, PostId: i,
			ViewStatus:     model.ViewStatusCompleteView,
			ReadPercentage: 100,
			HasShared:      true,
		}).Error)
	}

	cfg, err := o.OptimizeContentMix(context.Background(), 1)
	require.Nil(t, err)

	// The only engaged type takes the full score mass, then shares the
	// distribution with the four untouched defaults.
	assert.InDelta(t, 1.0/1.8, cfg.ContentTypes["discussion"], 1e-9)
	assert.InDelta(t, 0.35/1.8, cfg.ContentTypes["research_paper"], 1e-9)
	sum := 0.0
	for _, w := range cfg.ContentTypes {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestOptimizeSourceMixUsesNeutralPriorsForFreshUser(t *testing.T) {
	o, _ := newTestOptimizer(t)

	cfg, err := o.OptimizeSourceMix(context.Background(), 1)
	require.Nil(t, err)

	// min(0.4, 0.35) + min(0.4, 1-0.3) + min(0.3, 0.2) + 0.1 normalizes
	// over 1.05.
	assert.InDelta(t, 0.35/1.05, cfg.Sources[model.SourceFollowed], 1e-9)
	assert.InDelta(t, 0.4/1.05, cfg.Sources[model.SourceSpecialization], 1e-9)
	assert.InDelta(t, 0.2/1.05, cfg.Sources[model.SourceTrending], 1e-9)
	assert.InDelta(t, 0.1/1.05, cfg.Sources[model.SourceDiscovery], 1e-9)
}

func TestTrackPrefetchAndBounceRate(t *testing.T) {
	collector := newMemCollector()
	s := NewService(collector, nil, nil)
	ctx := context.Background()

	s.TrackPrefetch(ctx, 1, true)
	s.TrackPrefetch(ctx, 1, true)
	s.TrackPrefetch(ctx, 1, false)

	hits, _ := collector.Count(ctx, userMetric("prefetch_hits", 1))
	misses, _ := collector.Count(ctx, userMetric("prefetch_misses", 1))
	assert.Equal(t, 2, hits)
	assert.Equal(t, 1, misses)
}
