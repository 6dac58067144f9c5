package feed

import (
	"context"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/drugboard/feedengine/apperr"
	"github.com/drugboard/feedengine/cache"
	"github.com/drugboard/feedengine/model"
	. "github.com/drugboard/feedengine/utils/log"
)

// DifferentialLimit caps how many posts one differential update returns.
const DifferentialLimit = 50

// ViewStatusReader resolves view statuses for a batch of posts. Implemented
// by the view state service; declared here so the feed pipeline does not
// depend on it directly.
type ViewStatusReader interface {
	GetStatuses(ctx context.Context, userId int, postIds []int) (map[int]string, error)
}

// Service is the read side of the feed: cache-first page serving, fresh
// generation through the mixer and scorer, and differential updates.
type Service struct {
	store      *Store
	cache      *cache.Cache
	mixer      *Mixer
	scorer     *Scorer
	viewStates ViewStatusReader
}

func NewService(store *Store, c *cache.Cache, mixer *Mixer, scorer *Scorer, vs ViewStatusReader) *Service {
	return &Service{store: store, cache: c, mixer: mixer, scorer: scorer, viewStates: vs}
}

// Generate serves one feed page. The cached page wins when present and the
// caller's lastUpdate watermark matches; otherwise the page is rebuilt
// through the mixer and re-cached. Posts the user has fully read are
// filtered out of the response but stay in the cached page, so filtering
// never mutates shared state.
func (s *Service) Generate(ctx context.Context, userId int, page int, lastUpdate string) (*cache.FeedPage, error) {
	if page < 1 {
		page = 1
	}
	if err := s.cache.TrackFeedAccess(ctx, userId); err != nil {
		Log.Warnf("fail to track feed access for user %d: %v", userId, err)
	}

	cached, err := s.cache.GetFeedPage(ctx, userId, page)
	if err != nil {
		Log.Warnf("feed cache read degraded for user %d: %v", userId, err)
	}
	if cached != nil && len(cached.Posts) > 0 &&
		(lastUpdate == "" || cached.LastUpdate == lastUpdate) {
		return s.withSeenFiltered(ctx, userId, cached), nil
	}

	fresh, err := s.mixer.GetDiverseContentMix(ctx, userId, page, nil)
	if err != nil {
		return nil, apperr.Dependency(err, "failed to generate feed")
	}
	fresh.Posts = s.scorer.ScoreAndRank(ctx, userId, fresh.Posts)
	fresh.LastUpdate = nowWatermark()

	if err := s.cache.PutFeedPage(ctx, userId, page, fresh); err != nil {
		Log.Warnf("fail to cache feed page for user %d: %v", userId, err)
	}
	return s.withSeenFiltered(ctx, userId, fresh), nil
}

// GenerateFresh rebuilds and ranks the user's first page bypassing the
// cache. Used when follow-graph changes make the cached page wrong rather
// than merely stale.
func (s *Service) GenerateFresh(ctx context.Context, userId int) (*cache.FeedPage, error) {
	fresh, err := s.mixer.GetDiverseContentMix(ctx, userId, 1, nil)
	if err != nil {
		return nil, apperr.Dependency(err, "failed to generate fresh feed")
	}
	fresh.Posts = s.scorer.ScoreAndRank(ctx, userId, fresh.Posts)
	fresh.LastUpdate = nowWatermark()

	if err := s.cache.PutFeedPage(ctx, userId, 1, fresh); err != nil {
		Log.Warnf("fail to cache fresh feed for user %d: %v", userId, err)
	}
	return fresh, nil
}

// GeneratePage builds one ranked page straight through the mixer, with an
// optional mix config override, without touching the page cache. Callers
// that want the page cached write it themselves.
func (s *Service) GeneratePage(ctx context.Context, userId int, page int, cfg *MixConfig) (*cache.FeedPage, error) {
	fresh, err := s.mixer.GetDiverseContentMix(ctx, userId, page, cfg)
	if err != nil {
		return nil, apperr.Dependency(err, "failed to generate feed page")
	}
	fresh.Posts = s.scorer.ScoreAndRank(ctx, userId, fresh.Posts)
	fresh.LastUpdate = nowWatermark()
	return fresh, nil
}

// withSeenFiltered drops posts the user has completely read from the served
// copy of a page. Status lookups degrading means nothing is filtered.
func (s *Service) withSeenFiltered(ctx context.Context, userId int, page *cache.FeedPage) *cache.FeedPage {
	if len(page.Posts) == 0 || s.viewStates == nil {
		return page
	}
	ids := make([]int, 0, len(page.Posts))
	for _, p := range page.Posts {
		ids = append(ids, p.Id)
	}
	statuses, err := s.viewStates.GetStatuses(ctx, userId, ids)
	if err != nil {
		Log.Warnf("seen filter degraded for user %d: %v", userId, err)
		return page
	}

	filtered := *page
	filtered.Posts = make([]model.PostSnapshot, 0, len(page.Posts))
	for _, p := range page.Posts {
		if statuses[p.Id] == model.ViewStatusCompleteView {
			continue
		}
		filtered.Posts = append(filtered.Posts, p)
	}
	return &filtered
}

// DifferentialUpdates returns only posts created after the caller's
// watermark, ranked, capped at DifferentialLimit, along with the new
// watermark. Discovery is excluded: differential responses are about what
// is new, not what is newly surfaced.
func (s *Service) DifferentialUpdates(ctx context.Context, userId int, lastUpdate string) ([]model.PostSnapshot, string, error) {
	ms, err := strconv.ParseInt(lastUpdate, 10, 64)
	if err != nil || ms < 0 {
		return nil, "", apperr.Validation("lastUpdate must be epoch milliseconds")
	}
	since := time.UnixMilli(ms)

	var followed, specialization, trending []model.PostSnapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		posts, ferr := s.store.GetFollowedPosts(userId, since, DifferentialLimit)
		if ferr != nil {
			return ferr
		}
		followed = s.mixer.snapshots(gctx, posts)
		return nil
	})
	g.Go(func() error {
		posts, serr := s.store.GetSpecializationPosts(userId, since, DifferentialLimit)
		if serr != nil {
			Log.Warnf("differential specialization fetch degraded for user %d: %v", userId, serr)
			return nil
		}
		specialization = s.mixer.snapshots(gctx, posts)
		return nil
	})
	g.Go(func() error {
		snaps, terr := s.mixer.fetchTrending(gctx, userId, since)
		if terr != nil {
			Log.Warnf("differential trending fetch degraded for user %d: %v", userId, terr)
			return nil
		}
		trending = snaps
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, "", apperr.Dependency(err, "failed to fetch differential updates")
	}

	cfg := DefaultMixConfig()
	cfg.Normalize()
	merged := s.mixer.balance(cfg, []sourceBucket{
		{model.SourceFollowed, followed},
		{model.SourceSpecialization, specialization},
		{model.SourceTrending, trending},
	})
	merged = s.scorer.ScoreAndRank(ctx, userId, merged)
	if len(merged) > DifferentialLimit {
		merged = merged[:DifferentialLimit]
	}
	return merged, nowWatermark(), nil
}

func nowWatermark() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}
