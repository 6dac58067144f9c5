package analytics

import (
	"context"
	"math"
	"time"

	"github.com/drugboard/feedengine/feed"
	"github.com/drugboard/feedengine/model"
	. "github.com/drugboard/feedengine/utils/log"
)

const (
	// MinContentTypeWeight is the diversity floor: no content type the
	// user has engaged with drops below this share after optimization.
	MinContentTypeWeight = 0.1

	MinRefreshInterval     = time.Minute
	MaxRefreshInterval     = 10 * time.Minute
	DefaultRefreshInterval = 5 * time.Minute

	MinPrefetchThreshold = 0.5
	MaxPrefetchThreshold = 0.9

	// PrefetchDefaultThreshold mirrors the prefetch package default
	// without importing it; the packages would otherwise cycle through
	// feed.
	PrefetchDefaultThreshold = 0.7

	// Relative weight of each signal in a content type's score. Views
	// and completion dominate; the graded interaction score counts
	// slightly less.
	viewCountWeight      = 0.3
	completionRateWeight = 0.3
	interactionWeight    = 0.25

	// A refresh count of refreshSaturation or more maxes out the
	// refresh component of the engagement factor.
	refreshSaturation = 10
)

// Optimizer derives per user feed tuning from accumulated engagement.
type Optimizer struct {
	analytics *Service
}

func NewOptimizer(a *Service) *Optimizer {
	return &Optimizer{analytics: a}
}

// engagementFactor condenses the rollup into a single [0, 1] activity
// signal: the mean of view rate, completion rate and saturated refresh
// count. A user with no recorded activity scores 0.
func engagementFactor(m *FeedMetrics) float64 {
	viewRate := float64(m.Views) / math.Max(1, float64(m.Impressions))
	refreshRate := math.Min(1, float64(m.Refreshes)/refreshSaturation)
	return (viewRate + m.CompletionRate + refreshRate) / 3
}

// OptimizeContentMix returns a mix config whose content type weights follow
// the user's observed engagement. Each engaged type's share is its weighted
// score relative to the total, floored at MinContentTypeWeight; types with
// no history keep their default weight and the whole distribution is
// renormalized at the end.
func (o *Optimizer) OptimizeContentMix(ctx context.Context, userId int) (*feed.MixConfig, error) {
	cfg := feed.DefaultMixConfig()

	rows, err := o.analytics.ContentTypeMetrics(ctx, userId)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return cfg, nil
	}

	score := func(row feed.ContentTypeEngagement) float64 {
		return float64(row.Views)*viewCountWeight +
			row.AvgReadPct*completionRateWeight +
			row.EngagementScore*interactionWeight
	}
	total := 0.0
	for _, row := range rows {
		total += score(row)
	}
	if total == 0 {
		return cfg, nil
	}

	for _, row := range rows {
		if _, known := cfg.ContentTypes[row.ContentType]; !known {
			continue
		}
		w := score(row) / total
		if w < MinContentTypeWeight {
			w = MinContentTypeWeight
		}
		cfg.ContentTypes[row.ContentType] = w
	}
	// Overridden shares no longer sum to 1 with the defaults; renormalize
	// once at the end.
	sum := 0.0
	for _, w := range cfg.ContentTypes {
		sum += w
	}
	for t, w := range cfg.ContentTypes {
		cfg.ContentTypes[t] = w / sum
	}
	return cfg, nil
}

// OptimalRefreshInterval scales the base polling interval by the user's
// engagement factor, clamped to [MinRefreshInterval, MaxRefreshInterval].
// A disengaged user bottoms out at the floor and stops burning requests on
// a feed they are not reading.
func (o *Optimizer) OptimalRefreshInterval(ctx context.Context, userId int) time.Duration {
	m, err := o.analytics.FeedMetrics(ctx, userId)
	if err != nil {
		Log.Warnf("refresh interval lookup degraded for user %d: %v", userId, err)
		return DefaultRefreshInterval
	}

	interval := time.Duration(float64(DefaultRefreshInterval) * engagementFactor(m))
	if interval < MinRefreshInterval {
		return MinRefreshInterval
	}
	if interval > MaxRefreshInterval {
		return MaxRefreshInterval
	}
	return interval
}

// OptimalPrefetchThreshold scales the base threshold by the mean of the
// prefetch hit rate and average scroll depth, clamped to
// [MinPrefetchThreshold, MaxPrefetchThreshold]. Prefetching pays off for
// deep scrollers with a high hit rate, so they trigger later; everyone
// else triggers early.
func (o *Optimizer) OptimalPrefetchThreshold(ctx context.Context, userId int) float64 {
	m, err := o.analytics.FeedMetrics(ctx, userId)
	if err != nil {
		Log.Warnf("prefetch threshold lookup degraded for user %d: %v", userId, err)
		return PrefetchDefaultThreshold
	}

	threshold := PrefetchDefaultThreshold * (m.PrefetchHitRate + m.AvgScrollDepth) / 2
	if threshold < MinPrefetchThreshold {
		return MinPrefetchThreshold
	}
	if threshold > MaxPrefetchThreshold {
		return MaxPrefetchThreshold
	}
	return threshold
}

// OptimizeSourceMix builds on the content type optimization and rebalances
// the source weights from the rollup: completion rate feeds followed
// content, a low bounce rate feeds specialization, prefetch hit rate feeds
// trending. Zero-valued signals fall back to a neutral prior so a fresh
// user keeps a near-default mix.
func (o *Optimizer) OptimizeSourceMix(ctx context.Context, userId int) (*feed.MixConfig, error) {
	cfg, err := o.OptimizeContentMix(ctx, userId)
	if err != nil {
		return nil, err
	}
	m, err := o.analytics.FeedMetrics(ctx, userId)
	if err != nil {
		return nil, err
	}

	completion := m.CompletionRate
	if completion == 0 {
		completion = 0.35
	}
	bounce := m.BounceRate
	if bounce == 0 {
		bounce = 0.3
	}
	hitRate := m.PrefetchHitRate
	if hitRate == 0 {
		hitRate = 0.2
	}

	cfg.Sources[model.SourceFollowed] = math.Min(0.4, completion)
	cfg.Sources[model.SourceSpecialization] = math.Min(0.4, 1-bounce)
	cfg.Sources[model.SourceTrending] = math.Min(0.3, hitRate)
	cfg.Sources[model.SourceDiscovery] = 0.1
	cfg.Normalize()
	return cfg, nil
}
