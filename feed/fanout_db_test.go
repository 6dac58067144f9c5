package feed

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drugboard/feedengine/event"
	"github.com/drugboard/feedengine/model"
	"github.com/drugboard/feedengine/utils"
	"github.com/drugboard/feedengine/utils/dotenv"
)

func TestMain(m *testing.M) {
	dotenv.LoadDotEnvsInTests()
	os.Exit(m.Run())
}

func seedFollowers(t *testing.T, s *Store, followingId, count int) {
	t.Helper()
	follows := make([]model.Follow, 0, count)
	for i := 1; i <= count; i++ {
		follows = append(follows, model.Follow{FollowerId: 10000 + i, FollowingId: followingId})
	}
	require.Nil(t, s.DB.CreateInBatches(follows, 500).Error)
}

func recvFanout(t *testing.T, ch <-chan *message.Message) *event.Event {
	t.Helper()
	select {
	case msg := <-ch:
		msg.Ack()
		e, err := event.Unmarshal(msg.Payload)
		require.Nil(t, err)
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fan-out event")
		return nil
	}
}

func TestPostClassificationAtPopularityThreshold(t *testing.T) {
	db, _ := utils.CreateTempDB(t)
	c := newTestCache(t)
	ctx := context.Background()

	bus := event.NewBus()
	defer bus.Close()
	store := NewStore(db)
	strategist := NewStrategist(store, c, event.NewProducer(bus), nil)

	regular, err := bus.Subscribe(ctx, event.TypeFanoutRegular)
	require.Nil(t, err)
	popular, err := bus.Subscribe(ctx, event.TypeFanoutPopular)
	require.Nil(t, err)

	// One follower short of the threshold stays on push fan-out.
	seedFollowers(t, store, 1, PopularThreshold-1)
	require.Nil(t, strategist.HandlePostCreated(ctx, &model.Post{
		Id: 100, UserId: 1, Title: "regular", CreatedAt: time.Now(),
	}))

	e := recvFanout(t, regular)
	assert.False(t, e.Fanout.IsPopular)
	assert.Len(t, e.Fanout.Followers, PopularThreshold-1)

	snap, err := c.GetPost(ctx, 100)
	require.Nil(t, err)
	require.NotNil(t, snap)
	assert.False(t, snap.IsPopular)
	assert.Equal(t, PopularThreshold-1, snap.FollowerCount)

	// At the threshold the post switches to pull fan-out: the fan-out
	// event carries no follower list.
	seedFollowers(t, store, 2, PopularThreshold)
	require.Nil(t, strategist.HandlePostCreated(ctx, &model.Post{
		Id: 200, UserId: 2, Title: "popular", CreatedAt: time.Now(),
	}))

	e = recvFanout(t, popular)
	assert.True(t, e.Fanout.IsPopular)
	assert.Empty(t, e.Fanout.Followers)

	snap, err = c.GetPost(ctx, 200)
	require.Nil(t, err)
	require.NotNil(t, snap)
	assert.True(t, snap.IsPopular)
}
