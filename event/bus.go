package event

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	Logger "github.com/drugboard/feedengine/utils/log"
)

/*

Bus is the typed publish/subscribe fabric between the API server side
producers and the worker side consumer group. It currently rides on a
watermill go-channel pub/sub; when the deployment needs cross-process
delivery the same contract maps onto a Kafka-backed watermill pub/sub
without touching producers or handlers.

Delivery is at-least-once and ordered only within a single topic.

*/

type Bus struct {
	pubsub *gochannel.GoChannel
}

func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer:            100,
				BlockPublishUntilSubscriberAck: false,
			},
			watermill.NewStdLogger(false, false),
		),
	}
}

// Publish enqueues the event on the topic named by its type. The event is
// immutable once published; ownership transfers to the bus.
func (b *Bus) Publish(e Event) error {
	payload, err := e.Marshal()
	if err != nil {
		return err
	}
	msg := message.NewMessage(e.Id, payload)
	return b.pubsub.Publish(string(e.Type), msg)
}

// Subscribe returns the raw message channel for one topic. Used by the
// consumer; tests can also drain it directly.
func (b *Bus) Subscribe(ctx context.Context, topic Type) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, string(topic))
}

func (b *Bus) Close() {
	if err := b.pubsub.Close(); err != nil {
		Logger.Log.Errorf("fail to close event bus: %s", err)
	}
}
