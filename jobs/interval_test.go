package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIntervalModuleTicks(t *testing.T) {
	var runs int32
	m := NewIntervalModule("ticker", 10*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	assert.Nil(t, m.RunModule(ctx))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&runs), int32(3))
}

func TestIntervalModuleSkipsOverlappingTicks(t *testing.T) {
	var runs int32
	m := NewIntervalModule("slow", 10*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		time.Sleep(60 * time.Millisecond)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	assert.Nil(t, m.RunModule(ctx))

	// With a 60ms body on a 10ms ticker, overlapping ticks are dropped
	// instead of queued, so only a few runs fit the window.
	assert.LessOrEqual(t, atomic.LoadInt32(&runs), int32(4))
}

func TestIntervalModuleKeepsGoingAfterFailure(t *testing.T) {
	var runs int32
	m := NewIntervalModule("flaky", 10*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return assert.AnError
	})

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	// A failing body is logged, not fatal: RunModule still exits clean on
	// context cancellation.
	assert.Nil(t, m.RunModule(ctx))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&runs), int32(2))
}
