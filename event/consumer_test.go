package event

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumerDeliversInOrder(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan int, 10)
	consumer := NewConsumer("test-group", bus)
	consumer.On(TypePostCreated, func(ctx context.Context, e *Event) Outcome {
		received <- e.Post.PostId
		return Ack
	})

	go consumer.Run(ctx)
	// Give the subscription a moment to register before publishing.
	time.Sleep(50 * time.Millisecond)

	producer := NewProducer(bus)
	for i := 1; i <= 5; i++ {
		require.Nil(t, producer.PostCreated(PostPayload{PostId: i, UserId: 1}))
	}

	for want := 1; want <= 5; want++ {
		select {
		case got := <-received:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", want)
		}
	}
}

func TestConsumerRetriesThenDeadLetters(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dlq, err := bus.Subscribe(ctx, TypeDeadLetter)
	require.Nil(t, err)

	var attempts int32
	consumer := NewConsumer("test-group", bus)
	consumer.On(TypePostCreated, func(ctx context.Context, e *Event) Outcome {
		atomic.AddInt32(&attempts, 1)
		return Retry
	})

	go consumer.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	producer := NewProducer(bus)
	require.Nil(t, producer.PostCreated(PostPayload{PostId: 99, UserId: 1}))

	select {
	case msg := <-dlq:
		msg.Ack()
		parked, err := Unmarshal(msg.Payload)
		require.Nil(t, err)
		assert.Equal(t, 99, parked.Post.PostId)
	case <-time.After(5 * time.Second):
		t.Fatal("event never reached the dead letter topic")
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestConsumerRecoversAfterTransientFailure(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	var attempts int32
	consumer := NewConsumer("test-group", bus)
	consumer.On(TypeUserFollowed, func(ctx context.Context, e *Event) Outcome {
		if atomic.AddInt32(&attempts, 1) < 2 {
			return Retry
		}
		close(done)
		return Ack
	})

	go consumer.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	producer := NewProducer(bus)
	require.Nil(t, producer.UserFollowed(FollowPayload{FollowerId: 1, FollowingId: 2}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never succeeded")
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestDeadLetterOutcomeParksImmediately(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dlq, err := bus.Subscribe(ctx, TypeDeadLetter)
	require.Nil(t, err)

	var attempts int32
	consumer := NewConsumer("test-group", bus)
	consumer.On(TypeFanoutRegular, func(ctx context.Context, e *Event) Outcome {
		atomic.AddInt32(&attempts, 1)
		return DeadLetter
	})

	go consumer.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	producer := NewProducer(bus)
	require.Nil(t, producer.FanoutPost(FanoutPayload{PostId: 5, UserId: 1, Followers: []int{2}}))

	select {
	case msg := <-dlq:
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("event never reached the dead letter topic")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}
