// Package prefetch loads the next feed page ahead of the reader. A scroll
// position report past the threshold triggers a background-style fetch of
// the following page, which lands in the page cache tagged as prefetched so
// the client's next page request is a cache hit.
package prefetch

import (
	"context"
	"fmt"
	"time"

	"github.com/drugboard/feedengine/apperr"
	"github.com/drugboard/feedengine/cache"
	"github.com/drugboard/feedengine/feed"
	"github.com/drugboard/feedengine/model"
	. "github.com/drugboard/feedengine/utils/log"
)

const (
	// DefaultThreshold is the scroll fraction past which the next page is
	// prefetched. The optimizer may supersede it per user.
	DefaultThreshold = 0.7

	// BatchSize is how many posts one prefetch pass pulls in.
	BatchSize = feed.FeedPageSize

	// stateExpiry keeps prefetch bookkeeping short lived; abandoned
	// sessions decay on their own.
	stateExpiry = 5 * time.Minute
)

// State is the per user prefetch bookkeeping.
type State struct {
	UserId        int     `json:"userId"`
	CurrentPage   int     `json:"currentPage"`
	Threshold     float64 `json:"threshold"`
	LastPrefetch  int64   `json:"lastPrefetch,omitempty"`
	PrefetchCount int     `json:"prefetchCount"`
}

// Result reports what one prefetch attempt did.
type Result struct {
	Triggered bool                 `json:"triggered"`
	Page      int                  `json:"page,omitempty"`
	Posts     []model.PostSnapshot `json:"posts,omitempty"`
}

type Service struct {
	cache *cache.Cache
	feeds *feed.Service
}

func NewService(c *cache.Cache, feeds *feed.Service) *Service {
	return &Service{cache: c, feeds: feeds}
}

func stateKeyFor(userId int) string {
	return fmt.Sprintf("prefetch:%d", userId)
}

// Init seeds prefetch state for a fresh session. An explicit threshold of
// zero means the default.
func (s *Service) Init(ctx context.Context, userId int, threshold float64) (*State, error) {
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, apperr.Validation("threshold must be in [0, 1]")
	}
	state := &State{UserId: userId, CurrentPage: 1, Threshold: threshold}
	if err := s.cache.SetJSON(ctx, stateKeyFor(userId), state, stateExpiry); err != nil {
		return nil, apperr.Dependency(err, "failed to init prefetch state")
	}
	return state, nil
}

// GetState returns the current bookkeeping, lazily initializing it so
// callers never have to care about session setup ordering.
func (s *Service) GetState(ctx context.Context, userId int) (*State, error) {
	var state State
	found, err := s.cache.GetJSON(ctx, stateKeyFor(userId), &state)
	if err != nil {
		return nil, apperr.Dependency(err, "failed to load prefetch state")
	}
	if !found {
		return s.Init(ctx, userId, 0)
	}
	return &state, nil
}

// MaybePrefetch evaluates a scroll report and, past the threshold, warms the
// next page. Below the threshold it is a cheap no-op.
func (s *Service) MaybePrefetch(ctx context.Context, userId int, scrollPosition, totalHeight float64) (*Result, error) {
	if totalHeight <= 0 {
		return nil, apperr.Validation("totalHeight must be positive")
	}
	if scrollPosition < 0 || scrollPosition > totalHeight {
		return nil, apperr.Validation("scrollPosition must be within [0, totalHeight]")
	}

	state, err := s.GetState(ctx, userId)
	if err != nil {
		return nil, err
	}
	if scrollPosition/totalHeight < state.Threshold {
		return &Result{Triggered: false}, nil
	}

	nextPage := state.CurrentPage + 1
	posts, err := s.warmPage(ctx, userId, nextPage, nil)
	if err != nil {
		return nil, err
	}

	state.CurrentPage = nextPage
	state.LastPrefetch = time.Now().UnixMilli()
	state.PrefetchCount++
	if err := s.cache.SetJSON(ctx, stateKeyFor(userId), state, stateExpiry); err != nil {
		Log.Warnf("fail to persist prefetch state for user %d: %v", userId, err)
	}
	return &Result{Triggered: true, Page: nextPage, Posts: posts}, nil
}

// PrefetchSpecialization warms a page biased toward the user's
// specialization cohort.
func (s *Service) PrefetchSpecialization(ctx context.Context, userId int) (*Result, error) {
	cfg := feed.DefaultMixConfig()
	cfg.Sources[model.SourceSpecialization] = 0.6
	cfg.Sources[model.SourceFollowed] = 0.2
	cfg.Sources[model.SourceTrending] = 0.1
	cfg.Sources[model.SourceDiscovery] = 0.1
	return s.prefetchBiased(ctx, userId, cfg)
}

// PrefetchTrending warms a page biased toward the popularity index.
func (s *Service) PrefetchTrending(ctx context.Context, userId int) (*Result, error) {
	cfg := feed.DefaultMixConfig()
	cfg.Sources[model.SourceTrending] = 0.6
	cfg.Sources[model.SourceFollowed] = 0.2
	cfg.Sources[model.SourceSpecialization] = 0.1
	cfg.Sources[model.SourceDiscovery] = 0.1
	return s.prefetchBiased(ctx, userId, cfg)
}

func (s *Service) prefetchBiased(ctx context.Context, userId int, cfg *feed.MixConfig) (*Result, error) {
	state, err := s.GetState(ctx, userId)
	if err != nil {
		return nil, err
	}
	nextPage := state.CurrentPage + 1
	posts, err := s.warmPage(ctx, userId, nextPage, cfg)
	if err != nil {
		return nil, err
	}

	state.CurrentPage = nextPage
	state.LastPrefetch = time.Now().UnixMilli()
	state.PrefetchCount++
	if err := s.cache.SetJSON(ctx, stateKeyFor(userId), state, stateExpiry); err != nil {
		Log.Warnf("fail to persist prefetch state for user %d: %v", userId, err)
	}
	return &Result{Triggered: true, Page: nextPage, Posts: posts}, nil
}

// warmPage generates the page and writes it to the feed cache with every
// post tagged as prefetched.
func (s *Service) warmPage(ctx context.Context, userId, page int, cfg *feed.MixConfig) ([]model.PostSnapshot, error) {
	fp, err := s.feeds.GeneratePage(ctx, userId, page, cfg)
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	for i := range fp.Posts {
		fp.Posts[i].Prefetched = true
		fp.Posts[i].PrefetchTime = now
	}
	if err := s.cache.PutFeedPage(ctx, userId, page, fp); err != nil {
		return nil, apperr.Dependency(err, "failed to cache prefetched page")
	}
	return fp.Posts, nil
}

// Cleanup drops the user's prefetch bookkeeping.
func (s *Service) Cleanup(ctx context.Context, userId int) error {
	return apperr.Dependency(s.cache.Delete(ctx, stateKeyFor(userId)), "failed to clean up prefetch state")
}
