package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Type names double as bus topics. Ordering is only preserved within a single
// topic, so producers must not assume cross-type ordering.
type Type string

const (
	TypePostCreated    Type = "post.created"
	TypePostUpdated    Type = "post.updated"
	TypeUserFollowed   Type = "user.followed"
	TypeUserUnfollowed Type = "user.unfollowed"
	TypeFanoutRegular  Type = "fanout.regular"
	TypeFanoutPopular  Type = "fanout.popular"
	TypePostPopular    Type = "post.popular"

	// TypeDeadLetter holds events whose handler kept failing after retries.
	TypeDeadLetter Type = "feed.dlq"
)

// Topics lists every topic a feed consumer group subscribes to. The dead
// letter topic is deliberately excluded, it is drained by tooling only.
func Topics() []Type {
	return []Type{
		TypePostCreated,
		TypePostUpdated,
		TypeUserFollowed,
		TypeUserUnfollowed,
		TypeFanoutRegular,
		TypeFanoutPopular,
		TypePostPopular,
	}
}

// PostPayload carries the post fields fan-out handlers need. FollowerCount is
// the author's follower count at publish time.
type PostPayload struct {
	PostId           int      `json:"postId"`
	UserId           int      `json:"userId"`
	Title            string   `json:"title"`
	Content          string   `json:"content"`
	SpecializationId int      `json:"specializationId"`
	Media            []string `json:"media,omitempty"`
	FollowerCount    int      `json:"followerCount"`
	IsPopular        bool     `json:"isPopular"`
}

type FollowPayload struct {
	FollowerId  int `json:"followerId"`
	FollowingId int `json:"followingId"`
}

// FanoutPayload carries the explicit follower id list for regular (push)
// fan-out. Popular (pull) fan-out leaves Followers empty.
type FanoutPayload struct {
	PostId    int   `json:"postId"`
	UserId    int   `json:"userId"`
	Followers []int `json:"followers,omitempty"`
	IsPopular bool  `json:"isPopular"`
}

/*

Event is a single immutable domain event. Exactly one of the payload pointers
is set, matching Type; the closed union replaces the loosely typed "data"
blobs this pipeline used to ship around so that handlers never re-parse an
unexpected shape at runtime.

*/

type Event struct {
	Id        string `json:"id"`
	Type      Type   `json:"type"`
	Timestamp int64  `json:"timestamp"` // epoch millis

	Post   *PostPayload   `json:"post,omitempty"`
	Follow *FollowPayload `json:"follow,omitempty"`
	Fanout *FanoutPayload `json:"fanout,omitempty"`
}

func newEvent(t Type) Event {
	return Event{
		Id:        uuid.New().String(),
		Type:      t,
		Timestamp: time.Now().UnixNano() / int64(time.Millisecond),
	}
}

func NewPostEvent(t Type, p PostPayload) Event {
	e := newEvent(t)
	e.Post = &p
	return e
}

func NewFollowEvent(t Type, p FollowPayload) Event {
	e := newEvent(t)
	e.Follow = &p
	return e
}

func NewFanoutEvent(p FanoutPayload) Event {
	t := TypeFanoutRegular
	if p.IsPopular {
		t = TypeFanoutPopular
	}
	e := newEvent(t)
	e.Fanout = &p
	return e
}

// Validate checks that the payload union matches the event type.
func (e *Event) Validate() error {
	switch e.Type {
	case TypePostCreated, TypePostUpdated, TypePostPopular:
		if e.Post == nil {
			return errors.Errorf("event %s of type %s is missing its post payload", e.Id, e.Type)
		}
	case TypeUserFollowed, TypeUserUnfollowed:
		if e.Follow == nil {
			return errors.Errorf("event %s of type %s is missing its follow payload", e.Id, e.Type)
		}
	case TypeFanoutRegular, TypeFanoutPopular:
		if e.Fanout == nil {
			return errors.Errorf("event %s of type %s is missing its fanout payload", e.Id, e.Type)
		}
	default:
		return errors.Errorf("unknown event type %s", e.Type)
	}
	return nil
}

func (e *Event) Marshal() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

func Unmarshal(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, errors.Wrap(err, "fail to decode event")
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}
