package jobs

import (
	"context"
	"sync/atomic"
	"time"

	Logger "github.com/drugboard/feedengine/utils/log"
)

// IntervalModule runs a function on a fixed ticker. A tick that arrives
// while the previous run is still in flight is skipped rather than queued,
// so a slow sweep never stacks up behind itself.
type IntervalModule struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context) error

	inFlight int32
}

func NewIntervalModule(name string, interval time.Duration, fn func(ctx context.Context) error) *IntervalModule {
	return &IntervalModule{name: name, interval: interval, fn: fn}
}

func (m *IntervalModule) Name() string { return m.name }

func (m *IntervalModule) RunModule(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !atomic.CompareAndSwapInt32(&m.inFlight, 0, 1) {
				Logger.Log.Warnf("job %s still in flight, skipping tick", m.name)
				continue
			}
			go func() {
				defer atomic.StoreInt32(&m.inFlight, 0)
				if err := m.fn(ctx); err != nil {
					Logger.Log.Errorf("job %s failed: %v", m.name, err)
				}
			}()
		}
	}
}

func (m *IntervalModule) Shutdown() {}
