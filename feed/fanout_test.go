package feed

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drugboard/feedengine/cache"
	"github.com/drugboard/feedengine/event"
	"github.com/drugboard/feedengine/model"
)

func newTestCache(t *testing.T) *cache.Cache {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return cache.NewCache(client)
}

func fullPage(n int) *cache.FeedPage {
	page := &cache.FeedPage{LastUpdate: "1", TotalItems: n}
	for i := 1; i <= n; i++ {
		page.Posts = append(page.Posts, model.PostSnapshot{
			Id:        i,
			CreatedAt: time.Now().Add(-time.Duration(i) * time.Minute),
		})
	}
	return page
}

func TestRegularFanoutSpliceIsIdempotent(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	s := NewStrategist(nil, c, nil, nil)

	snap := &model.PostSnapshot{Id: 500, UserId: 3, Title: "new", CreatedAt: time.Now()}
	require.Nil(t, c.PutPost(ctx, snap))
	require.Nil(t, c.PutFeedPage(ctx, 7, 1, fullPage(FeedPageSize)))

	e := event.NewFanoutEvent(event.FanoutPayload{PostId: 500, UserId: 3, Followers: []int{7}})
	assert.Equal(t, event.Ack, s.onRegularFanout(ctx, &e))

	page, err := c.GetFeedPage(ctx, 7, 1)
	require.Nil(t, err)
	require.Len(t, page.Posts, FeedPageSize)
	assert.Equal(t, 500, page.Posts[0].Id)
	// The oldest entry fell off the end.
	assert.Equal(t, FeedPageSize-1, page.Posts[FeedPageSize-1].Id)

	// Re-delivery of the same event changes nothing.
	assert.Equal(t, event.Ack, s.onRegularFanout(ctx, &e))
	again, err := c.GetFeedPage(ctx, 7, 1)
	require.Nil(t, err)
	assert.Equal(t, page.Posts, again.Posts)
}

func TestRegularFanoutSkipsFollowersWithoutCachedFeed(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	s := NewStrategist(nil, c, nil, nil)

	snap := &model.PostSnapshot{Id: 501, UserId: 3, CreatedAt: time.Now()}
	require.Nil(t, c.PutPost(ctx, snap))

	e := event.NewFanoutEvent(event.FanoutPayload{PostId: 501, UserId: 3, Followers: []int{99}})
	assert.Equal(t, event.Ack, s.onRegularFanout(ctx, &e))

	// No page materialized out of thin air; the next read builds it fresh.
	page, err := c.GetFeedPage(ctx, 99, 1)
	assert.Nil(t, err)
	assert.Nil(t, page)
}

func TestPopularFanoutIndexesPost(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	s := NewStrategist(nil, c, nil, nil)

	snap := &model.PostSnapshot{Id: 600, UserId: 4, FollowerCount: 2500, IsPopular: true, CreatedAt: time.Now()}
	require.Nil(t, c.PutPost(ctx, snap))

	e := event.NewFanoutEvent(event.FanoutPayload{PostId: 600, UserId: 4, IsPopular: true})
	require.Equal(t, event.TypeFanoutPopular, e.Type)
	assert.Equal(t, event.Ack, s.onPopularFanout(ctx, &e))

	ids, err := c.GetPopularPosts(ctx, 10)
	require.Nil(t, err)
	assert.Equal(t, []int{600}, ids)

	// Idempotent on redelivery.
	assert.Equal(t, event.Ack, s.onPopularFanout(ctx, &e))
	ids, err = c.GetPopularPosts(ctx, 10)
	require.Nil(t, err)
	assert.Equal(t, []int{600}, ids)
}

func TestUnfollowInvalidatesFeed(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.Nil(t, c.PutFeedPage(ctx, 12, 1, fullPage(3)))

	// The store-backed follower-count refresh is not under test here, so
	// it is exercised separately; this covers the cache side.
	require.Nil(t, c.InvalidateFeed(ctx, 12))
	page, err := c.GetFeedPage(ctx, 12, 1)
	assert.Nil(t, err)
	assert.Nil(t, page)
}

func TestSpliceKeepsPageSizeBound(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	s := NewStrategist(nil, c, nil, nil)

	require.Nil(t, c.PutFeedPage(ctx, 21, 1, fullPage(FeedPageSize)))

	// Splice several distinct posts; the page never grows past its bound.
	for i := 0; i < 5; i++ {
		snap := &model.PostSnapshot{Id: 700 + i, UserId: 3, CreatedAt: time.Now()}
		require.Nil(t, c.PutPost(ctx, snap))
		e := event.NewFanoutEvent(event.FanoutPayload{PostId: snap.Id, UserId: 3, Followers: []int{21}})
		require.Equal(t, event.Ack, s.onRegularFanout(ctx, &e), fmt.Sprintf("splice %d", i))
	}

	page, err := c.GetFeedPage(ctx, 21, 1)
	require.Nil(t, err)
	assert.Len(t, page.Posts, FeedPageSize)
	assert.Equal(t, 704, page.Posts[0].Id)
}
