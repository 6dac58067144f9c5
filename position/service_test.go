package position

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drugboard/feedengine/apperr"
	"github.com/drugboard/feedengine/cache"
)

func newTestService(t *testing.T) *Service {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewService(cache.NewCache(client), nil)
}

func TestSaveAndGetPosition(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, err := s.Get(ctx, 1)
	assert.True(t, apperr.IsNotFound(err))

	saved, err := s.Save(ctx, 1, Position{PostId: 10, Page: 2, ScrollOffset: 340, DeviceType: "mobile"})
	require.Nil(t, err)
	assert.NotZero(t, saved.Timestamp)

	got, err := s.Get(ctx, 1)
	require.Nil(t, err)
	assert.Equal(t, saved, got)
}

func TestSaveValidatesPosition(t *testing.T) {
	s := newTestService(t)

	_, err := s.Save(context.Background(), 1, Position{PostId: 0, Page: 1})
	assert.True(t, apperr.IsValidation(err))

	_, err = s.Save(context.Background(), 1, Position{PostId: 5, Page: 0})
	assert.True(t, apperr.IsValidation(err))
}

func TestUpdateIsPartial(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	// Updating before saving is an error.
	_, err := s.Update(ctx, 2, Position{ScrollOffset: 10})
	assert.True(t, apperr.IsNotFound(err))

	_, err = s.Save(ctx, 2, Position{PostId: 7, Page: 1, ScrollOffset: 100, DeviceType: "desktop"})
	require.Nil(t, err)

	updated, err := s.Update(ctx, 2, Position{ScrollOffset: 250})
	require.Nil(t, err)
	assert.Equal(t, 250, updated.ScrollOffset)
	// Untouched fields survive.
	assert.Equal(t, 7, updated.PostId)
	assert.Equal(t, "desktop", updated.DeviceType)
}

func TestClearPosition(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, err := s.Save(ctx, 3, Position{PostId: 1, Page: 1})
	require.Nil(t, err)
	require.Nil(t, s.Clear(ctx, 3))

	_, err = s.Get(ctx, 3)
	assert.True(t, apperr.IsNotFound(err))

	// Clearing again is fine.
	assert.Nil(t, s.Clear(ctx, 3))
}

func TestGetBatchSkipsMissing(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, err := s.Save(ctx, 4, Position{PostId: 1, Page: 1})
	require.Nil(t, err)
	_, err = s.Save(ctx, 6, Position{PostId: 2, Page: 3})
	require.Nil(t, err)

	batch, err := s.GetBatch(ctx, []int{4, 5, 6})
	require.Nil(t, err)
	assert.Len(t, batch, 2)
	assert.Equal(t, 1, batch[4].PostId)
	assert.Equal(t, 3, batch[6].Page)
	assert.Nil(t, batch[5])
}
