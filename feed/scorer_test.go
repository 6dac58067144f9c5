package feed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/drugboard/feedengine/model"
)

func TestRecencyScoreDecays(t *testing.T) {
	now := time.Now()

	fresh := recencyScore(now)
	assert.InDelta(t, 1.0, fresh, 0.01)

	threeDays := recencyScore(now.Add(-72 * time.Hour))
	assert.InDelta(t, 0.3679, threeDays, 0.01)

	older := recencyScore(now.Add(-200 * time.Hour))
	assert.Less(t, older, threeDays)

	// A clock-skewed future timestamp scores like a fresh post instead of
	// overshooting past 1.
	future := recencyScore(now.Add(time.Hour))
	assert.LessOrEqual(t, future, 1.0)
}

func TestEngagementScoreSaturates(t *testing.T) {
	assert.Equal(t, 0.0, engagementScore(&model.PostSnapshot{}))

	// Comments weigh double.
	assert.InDelta(t, 0.3, engagementScore(&model.PostSnapshot{Likes: 10, Comments: 10}), 1e-9)

	// Saturation at 1, no matter how viral.
	assert.Equal(t, 1.0, engagementScore(&model.PostSnapshot{Likes: 100}))
	assert.Equal(t, 1.0, engagementScore(&model.PostSnapshot{Likes: 5000, Comments: 900}))
}

func TestAuthorPopularityScoreClamps(t *testing.T) {
	assert.Equal(t, 0.0, authorPopularityScore(0))
	assert.InDelta(t, 0.5, authorPopularityScore(500), 1e-9)
	assert.Equal(t, 1.0, authorPopularityScore(PopularThreshold))
	assert.Equal(t, 1.0, authorPopularityScore(50000))
}

func TestDefaultScoreWeightsSumToOne(t *testing.T) {
	w := DefaultScoreWeights()
	sum := w.Recency + w.Engagement + w.Relevance + w.AuthorPop + w.ViewCompletion
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestScoreUsesSourceWeightAsBase(t *testing.T) {
	s := NewScorer(nil)
	now := time.Now()

	// With the store unavailable, relevance and completion degrade to
	// their neutral defaults, which is all this comparison needs.
	heavy := &model.PostSnapshot{
		Id:        1,
		CreatedAt: now,
		Source:    &model.PostSource{Type: model.SourceFollowed, Weight: 0.35},
	}
	light := &model.PostSnapshot{
		Id:        2,
		CreatedAt: now,
		Source:    &model.PostSource{Type: model.SourceDiscovery, Weight: 0.1},
	}

	heavyScore := s.Score(context.Background(), 1, heavy)
	lightScore := s.Score(context.Background(), 1, light)
	assert.Greater(t, heavyScore, lightScore)
	assert.InDelta(t, heavyScore/0.35, lightScore/0.1, 1e-9)
}
