package event

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	Logger "github.com/drugboard/feedengine/utils/log"
)

// Outcome is a handler's verdict on one delivery. It replaces the old
// log-and-drop failure mode: a failing handler now either gets the event
// redelivered with backoff or parks it on the dead letter topic.
type Outcome int

const (
	Ack Outcome = iota
	Retry
	DeadLetter
)

// Handler processes one event. Handlers must be idempotent with respect to
// redelivery: the bus guarantees at-least-once, not exactly-once.
type Handler func(ctx context.Context, e *Event) Outcome

const (
	maxHandlerAttempts  = 3
	initialRetryBackoff = 100 * time.Millisecond
)

/*

Consumer runs one handler per subscribed topic, processing messages one at a
time per topic so ordering within a topic is preserved. Cross-topic ordering
is not guaranteed. A Retry outcome redelivers in-place with doubling backoff
up to maxHandlerAttempts, after which the event is dead lettered.

*/

type Consumer struct {
	GroupId string

	bus      *Bus
	handlers map[Type]Handler
}

func NewConsumer(groupId string, bus *Bus) *Consumer {
	return &Consumer{
		GroupId:  groupId,
		bus:      bus,
		handlers: make(map[Type]Handler),
	}
}

// On registers the handler for one event type. Must be called before Run.
func (c *Consumer) On(t Type, h Handler) {
	c.handlers[t] = h
}

// Run subscribes to every registered topic and blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	for t, h := range c.handlers {
		messages, err := c.bus.Subscribe(ctx, t)
		if err != nil {
			return err
		}

		wg.Add(1)
		go func(topic Type, handler Handler, messages <-chan *message.Message) {
			defer wg.Done()
			c.consumeTopic(ctx, topic, handler, messages)
		}(t, h, messages)
	}

	wg.Wait()
	return nil
}

func (c *Consumer) consumeTopic(ctx context.Context, topic Type, handler Handler, messages <-chan *message.Message) {
	for msg := range messages {
		e, err := Unmarshal(msg.Payload)
		if err != nil {
			// A malformed event can never succeed on redelivery, park it.
			Logger.Log.Errorf("consumer %s: undecodable message on %s: %s", c.GroupId, topic, err)
			c.deadLetter(msg.UUID, msg.Payload)
			msg.Ack()
			continue
		}

		c.handleWithRetry(ctx, handler, e)
		msg.Ack()
	}
}

func (c *Consumer) handleWithRetry(ctx context.Context, handler Handler, e *Event) {
	backoff := initialRetryBackoff
	for attempt := 1; ; attempt++ {
		outcome := handler(ctx, e)

		switch outcome {
		case Ack:
			return
		case DeadLetter:
			Logger.Log.Errorf("consumer %s: dead lettering event %s (%s)", c.GroupId, e.Type, e.Id)
			c.deadLetterEvent(e)
			return
		case Retry:
			if attempt >= maxHandlerAttempts {
				Logger.Log.Errorf("consumer %s: event %s (%s) failed %d attempts, dead lettering", c.GroupId, e.Type, e.Id, attempt)
				c.deadLetterEvent(e)
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
}

func (c *Consumer) deadLetterEvent(e *Event) {
	payload, err := e.Marshal()
	if err != nil {
		Logger.Log.Errorf("consumer %s: cannot marshal event %s for dead letter: %s", c.GroupId, e.Id, err)
		return
	}
	c.deadLetter(e.Id, payload)
}

func (c *Consumer) deadLetter(id string, payload []byte) {
	msg := message.NewMessage(id, payload)
	if err := c.bus.pubsub.Publish(string(TypeDeadLetter), msg); err != nil {
		Logger.Log.Errorf("consumer %s: fail to publish to dead letter topic: %s", c.GroupId, err)
	}
}
