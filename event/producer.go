package event

import (
	Logger "github.com/drugboard/feedengine/utils/log"
	"github.com/pkg/errors"
)

// Producer is the write-side handle handed to services that emit domain
// events. It is a thin veneer over the bus that owns event construction so
// that call sites never build a half-filled Event by hand.
type Producer struct {
	bus *Bus
}

func NewProducer(bus *Bus) *Producer {
	return &Producer{bus: bus}
}

func (p *Producer) produce(e Event) error {
	if err := p.bus.Publish(e); err != nil {
		return errors.Wrapf(err, "fail to produce event %s (%s)", e.Type, e.Id)
	}
	Logger.Log.Infof("event produced: %s (%s)", e.Type, e.Id)
	return nil
}

func (p *Producer) PostCreated(payload PostPayload) error {
	return p.produce(NewPostEvent(TypePostCreated, payload))
}

func (p *Producer) PostUpdated(payload PostPayload) error {
	return p.produce(NewPostEvent(TypePostUpdated, payload))
}

func (p *Producer) PostPopular(payload PostPayload) error {
	return p.produce(NewPostEvent(TypePostPopular, payload))
}

func (p *Producer) UserFollowed(payload FollowPayload) error {
	return p.produce(NewFollowEvent(TypeUserFollowed, payload))
}

func (p *Producer) UserUnfollowed(payload FollowPayload) error {
	return p.produce(NewFollowEvent(TypeUserUnfollowed, payload))
}

// FanoutPost routes to the regular or popular fan-out topic based on the
// payload's popularity flag.
func (p *Producer) FanoutPost(payload FanoutPayload) error {
	return p.produce(NewFanoutEvent(payload))
}
