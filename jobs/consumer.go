package jobs

import (
	"context"

	"github.com/drugboard/feedengine/event"
	Logger "github.com/drugboard/feedengine/utils/log"
)

// ConsumerModule runs an event consumer as an engine module so it shares
// the restart and shutdown lifecycle with the maintenance jobs.
type ConsumerModule struct {
	consumer *event.Consumer
}

func NewConsumerModule(c *event.Consumer) *ConsumerModule {
	return &ConsumerModule{consumer: c}
}

func (m *ConsumerModule) Name() string { return "event_consumer" }

func (m *ConsumerModule) RunModule(ctx context.Context) error {
	Logger.Log.Infof("event consumer %s starting", m.consumer.GroupId)
	return m.consumer.Run(ctx)
}

func (m *ConsumerModule) Shutdown() {}
