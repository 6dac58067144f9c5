package feed

import (
	"context"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/drugboard/feedengine/cache"
	"github.com/drugboard/feedengine/model"
	. "github.com/drugboard/feedengine/utils/log"
)

const (
	// FeedPageSize is the number of posts served per feed page.
	FeedPageSize = 20

	// MaxItemsPerSource caps how many candidates a single mixer source
	// contributes before quota weighting.
	MaxItemsPerSource = 50
)

// MixConfig holds the three weight vectors the mixer balances over. Each
// vector is renormalized to sum to 1 before use so callers can pass raw
// proportions.
type MixConfig struct {
	ContentTypes map[string]float64          `json:"contentTypes"`
	TimeWindows  map[string]float64          `json:"timeWindows"`
	Sources      map[model.SourceType]float64 `json:"sources"`
}

// DefaultMixConfig returns the baseline diversity weights used before the
// optimization loop has anything to say.
func DefaultMixConfig() *MixConfig {
	return &MixConfig{
		ContentTypes: map[string]float64{
			"research_paper": 0.35,
			"news_update":    0.25,
			"discussion":     0.2,
			"announcement":   0.15,
			"other":          0.05,
		},
		TimeWindows: map[string]float64{
			"last_day":   0.5,
			"last_week":  0.3,
			"last_month": 0.2,
		},
		Sources: map[model.SourceType]float64{
			model.SourceFollowed:       0.35,
			model.SourceSpecialization: 0.35,
			model.SourceTrending:       0.2,
			model.SourceDiscovery:      0.1,
		},
	}
}

// Normalize scales every weight vector in place so each sums to 1. Vectors
// summing to zero are left untouched.
func (c *MixConfig) Normalize() {
	normalize(c.ContentTypes)
	normalize(c.TimeWindows)
	sum := 0.0
	for _, w := range c.Sources {
		sum += w
	}
	if sum > 0 {
		for k, w := range c.Sources {
			c.Sources[k] = w / sum
		}
	}
}

func normalize(weights map[string]float64) {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum == 0 {
		return
	}
	for k, w := range weights {
		weights[k] = w / sum
	}
}

// Mixer assembles one diverse candidate pool per user out of four sources:
// followed authors, specialization cohort, the trending index, and
// discovery. Source fetches run concurrently; only the followed source is
// load bearing, the other three degrade to empty on failure.
type Mixer struct {
	store *Store
	cache *cache.Cache
}

func NewMixer(store *Store, c *cache.Cache) *Mixer {
	return &Mixer{store: store, cache: c}
}

// GetDiverseContentMix fetches, merges, deduplicates and paginates the
// user's candidate pool. The returned page is ordered by winning source
// weight, then recency within a source.
func (m *Mixer) GetDiverseContentMix(ctx context.Context, userId int, page int, cfg *MixConfig) (*cache.FeedPage, error) {
	if cfg == nil {
		cfg = DefaultMixConfig()
	}
	cfg.Normalize()

	// One recency cutoff shared by all four sources.
	since := time.Now().Add(-DefaultTimeWindow)
	var followed, specialization, trending, discovery []model.PostSnapshot

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		posts, err := m.store.GetFollowedPosts(userId, since, MaxItemsPerSource)
		if err != nil {
			return err
		}
		followed = m.snapshots(gctx, posts)
		return nil
	})
	g.Go(func() error {
		posts, err := m.store.GetSpecializationPosts(userId, since, MaxItemsPerSource)
		if err != nil {
			Log.Warnf("specialization source degraded for user %d: %v", userId, err)
			return nil
		}
		specialization = m.snapshots(gctx, posts)
		return nil
	})
	g.Go(func() error {
		snaps, err := m.fetchTrending(gctx, userId, since)
		if err != nil {
			Log.Warnf("trending source degraded for user %d: %v", userId, err)
			return nil
		}
		trending = snaps
		return nil
	})
	g.Go(func() error {
		posts, err := m.store.GetDiscoveryPosts(userId, since, MaxItemsPerSource)
		if err != nil {
			Log.Warnf("discovery source degraded for user %d: %v", userId, err)
			return nil
		}
		discovery = m.snapshots(gctx, posts)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := m.balance(cfg, []sourceBucket{
		{model.SourceFollowed, followed},
		{model.SourceSpecialization, specialization},
		{model.SourceTrending, trending},
		{model.SourceDiscovery, discovery},
	})

	return paginate(merged, page), nil
}

type sourceBucket struct {
	typ   model.SourceType
	posts []model.PostSnapshot
}

// balance merges the source buckets into one deduplicated list. Each source
// contributes at most floor(MaxItemsPerSource * weight) posts. A post seen
// from two sources keeps the higher weight attribution; on a tie the first
// insertion wins.
func (m *Mixer) balance(cfg *MixConfig, buckets []sourceBucket) []model.PostSnapshot {
	byId := map[int]*model.PostSnapshot{}
	order := []int{}

	for _, bucket := range buckets {
		weight := cfg.Sources[bucket.typ]
		quota := int(math.Floor(MaxItemsPerSource * weight))
		if quota > len(bucket.posts) {
			quota = len(bucket.posts)
		}
		for i := 0; i < quota; i++ {
			snap := bucket.posts[i]
			snap.Source = &model.PostSource{Type: bucket.typ, Weight: weight}
			if existing, ok := byId[snap.Id]; ok {
				if weight > existing.Source.Weight {
					existing.Source = snap.Source
				}
				continue
			}
			copied := snap
			byId[snap.Id] = &copied
			order = append(order, snap.Id)
		}
	}

	merged := make([]model.PostSnapshot, 0, len(order))
	for _, id := range order {
		merged = append(merged, *byId[id])
	}
	sort.SliceStable(merged, func(i, j int) bool {
		wi, wj := merged[i].Source.Weight, merged[j].Source.Weight
		if wi != wj {
			return wi > wj
		}
		return merged[i].CreatedAt.After(merged[j].CreatedAt)
	})
	return merged
}

// fetchTrending resolves the popularity index into snapshots. Ids missing
// from the post cache fall back to the store. The popularity index outlives
// the recency window, so entries created at or before since are dropped
// here.
func (m *Mixer) fetchTrending(ctx context.Context, userId int, since time.Time) ([]model.PostSnapshot, error) {
	ids, err := m.cache.GetPopularPosts(ctx, MaxItemsPerSource)
	if err != nil {
		return nil, err
	}

	snaps := make([]model.PostSnapshot, 0, len(ids))
	missing := []int{}
	for _, id := range ids {
		snap, err := m.cache.GetPost(ctx, id)
		if err != nil {
			return nil, err
		}
		if snap == nil {
			missing = append(missing, id)
			continue
		}
		if snap.UserId == userId || !snap.CreatedAt.After(since) {
			continue
		}
		snaps = append(snaps, *snap)
	}

	if len(missing) > 0 {
		posts, err := m.store.GetPostsByIds(missing)
		if err != nil {
			return nil, err
		}
		for i := range posts {
			if posts[i].UserId == userId || !posts[i].CreatedAt.After(since) {
				continue
			}
			snaps = append(snaps, m.snapshot(ctx, &posts[i]))
		}
	}
	return snaps, nil
}

func (m *Mixer) snapshots(ctx context.Context, posts []model.Post) []model.PostSnapshot {
	snaps := make([]model.PostSnapshot, 0, len(posts))
	for i := range posts {
		snaps = append(snaps, m.snapshot(ctx, &posts[i]))
	}
	return snaps
}

// snapshot denormalizes a post row without a follower count lookup. The
// count is only authoritative on the fan-out path; here it defaults to the
// cached popular-user flag.
func (m *Mixer) snapshot(ctx context.Context, p *model.Post) model.PostSnapshot {
	isPopular, err := m.cache.IsPopularUser(ctx, p.UserId)
	if err != nil {
		isPopular = false
	}
	return model.SnapshotFromPost(p, 0, isPopular)
}

func paginate(merged []model.PostSnapshot, page int) *cache.FeedPage {
	if page < 1 {
		page = 1
	}
	start := (page - 1) * FeedPageSize
	end := start + FeedPageSize
	total := len(merged)
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}
	return &cache.FeedPage{
		Posts:      merged[start:end],
		TotalItems: total,
		HasMore:    end < total,
	}
}
