package feed

import (
	"context"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/drugboard/feedengine/model"
	. "github.com/drugboard/feedengine/utils/log"
)

// ScoreWeights are the relative contributions of each sub-score to the
// composite. They sum to 1 by construction; callers overriding them should
// keep that property.
type ScoreWeights struct {
	Recency        float64
	Engagement     float64
	Relevance      float64
	AuthorPop      float64
	ViewCompletion float64
}

func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		Recency:        0.3,
		Engagement:     0.25,
		Relevance:      0.25,
		AuthorPop:      0.1,
		ViewCompletion: 0.1,
	}
}

const (
	// recencyHalfLifeHours controls exponential decay of the recency
	// sub-score. 72 hours puts a three day old post at 1/e.
	recencyHalfLifeHours = 72

	// engagementSaturation is the likes-equivalent count at which the
	// engagement sub-score saturates to 1.
	engagementSaturation = 100
)

// Scorer computes composite relevance scores for candidate posts. Every
// sub-score lands in [0, 1] so the composite stays comparable across users
// and sources.
type Scorer struct {
	store   *Store
	weights ScoreWeights
}

func NewScorer(store *Store) *Scorer {
	return &Scorer{store: store, weights: DefaultScoreWeights()}
}

func NewScorerWithWeights(store *Store, w ScoreWeights) *Scorer {
	return &Scorer{store: store, weights: w}
}

// ScoreAndRank scores every snapshot in place and returns them sorted by
// score descending, creation time descending on ties. Posts in the same
// batch are scored concurrently.
func (s *Scorer) ScoreAndRank(ctx context.Context, userId int, snaps []model.PostSnapshot) []model.PostSnapshot {
	g, gctx := errgroup.WithContext(ctx)
	for i := range snaps {
		i := i
		g.Go(func() error {
			snaps[i].Score = s.Score(gctx, userId, &snaps[i])
			return nil
		})
	}
	// Scoring goroutines never return errors; degraded sub-scores fall
	// back to neutral values instead.
	_ = g.Wait()

	sort.SliceStable(snaps, func(i, j int) bool {
		if snaps[i].Score != snaps[j].Score {
			return snaps[i].Score > snaps[j].Score
		}
		return snaps[i].CreatedAt.After(snaps[j].CreatedAt)
	})
	return snaps
}

// Score computes the composite score of one snapshot for one viewer:
//
//	baseWeight * (0.3*recency + 0.25*engagement + 0.25*relevance +
//	              0.1*authorPopularity + 0.1*viewCompletion)
//
// where baseWeight is the winning source weight from the diversity merge.
func (s *Scorer) Score(ctx context.Context, userId int, snap *model.PostSnapshot) float64 {
	baseWeight := 1.0
	if snap.Source != nil {
		baseWeight = snap.Source.Weight
	}

	composite := s.weights.Recency*recencyScore(snap.CreatedAt) +
		s.weights.Engagement*engagementScore(snap) +
		s.weights.Relevance*s.relevanceScore(userId, snap) +
		s.weights.AuthorPop*authorPopularityScore(snap.FollowerCount) +
		s.weights.ViewCompletion*s.viewCompletionScore(snap.Id)

	return baseWeight * composite
}

// recencyScore decays exponentially with post age.
func recencyScore(createdAt time.Time) float64 {
	hours := time.Since(createdAt).Hours()
	if hours < 0 {
		hours = 0
	}
	return math.Exp(-hours / recencyHalfLifeHours)
}

// engagementScore weights comments double and saturates at 1.
func engagementScore(snap *model.PostSnapshot) float64 {
	raw := float64(snap.Likes+2*snap.Comments) / engagementSaturation
	return math.Min(raw, 1)
}

// relevanceScore is 1 when the post belongs to one of the viewer's
// specializations, 0.5 otherwise. Lookup failures default to neutral.
func (s *Scorer) relevanceScore(userId int, snap *model.PostSnapshot) float64 {
	if s.store == nil {
		return 0.5
	}
	specIds, err := s.store.GetUserSpecializationIds(userId)
	if err != nil {
		Log.Warnf("relevance lookup degraded for user %d: %v", userId, err)
		return 0.5
	}
	for _, id := range specIds {
		if id == snap.SpecializationId {
			return 1
		}
	}
	return 0.5
}

// authorPopularityScore scales linearly with follower count and clamps at
// the popularity threshold.
func authorPopularityScore(followerCount int) float64 {
	return math.Min(float64(followerCount)/float64(PopularThreshold), 1)
}

// viewCompletionScore is the mean read percentage across all viewers of the
// post, scaled to [0, 1]. Unseen posts score a full 1 so fresh content is
// not penalized for lacking history.
func (s *Scorer) viewCompletionScore(postId int) float64 {
	if s.store == nil {
		return 1
	}
	avg, hasViews, err := s.store.AverageReadPercentage(postId)
	if err != nil {
		Log.Warnf("view completion lookup degraded for post %d: %v", postId, err)
		return 1
	}
	if !hasViews {
		return 1
	}
	return math.Min(avg/100, 1)
}
