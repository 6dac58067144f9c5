package model

import (
	"time"

	"gorm.io/datatypes"
)

// View status values. Transitions are strictly forward:
// unseen -> impression -> partial_view -> complete_view.
const (
	ViewStatusUnseen       = "unseen"
	ViewStatusImpression   = "impression"
	ViewStatusPartialView  = "partial_view"
	ViewStatusCompleteView = "complete_view"
)

// Interaction types recorded in a view state's history.
const (
	InteractionView    = "view"
	InteractionScroll  = "scroll"
	InteractionLike    = "like"
	InteractionComment = "comment"
	InteractionShare   = "share"
	InteractionSave    = "save"
)

/*

ViewState is the per (user, post) read/engagement record

UserId, PostId: composite primary key
ViewStatus: state machine position, only ever advances forward
ReadPercentage: 0..100, recomputed from maxScrollPosition/viewportHeight
FirstViewedAt / LastViewedAt: view window boundaries
TotalViewDuration: summed view seconds across all view events
LastScrollPosition / MaxScrollPosition: scroll tracking, max is monotone
HasLiked/HasCommented/HasShared/HasSaved: permanent interaction flags
InteractionHistory: append-only JSON log of interaction events
DeviceType / ViewportHeight: client hints from the view event

The durable copy lives here; a working copy is cached in Redis with a TTL and
is authoritative on cache hit.

*/

type ViewState struct {
	UserId int `gorm:"primaryKey"`
	PostId int `gorm:"primaryKey"`

	ViewStatus     string `gorm:"default:unseen"`
	ReadPercentage int

	FirstViewedAt     time.Time
	LastViewedAt      time.Time
	TotalViewDuration int

	LastScrollPosition int
	MaxScrollPosition  int

	HasLiked     bool
	HasCommented bool
	HasShared    bool
	HasSaved     bool

	InteractionHistory datatypes.JSON

	DeviceType     string
	ViewportHeight int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// InteractionEvent is one entry of ViewState.InteractionHistory.
type InteractionEvent struct {
	Type      string                `json:"type"`
	Timestamp time.Time             `json:"timestamp"`
	Data      *InteractionEventData `json:"data,omitempty"`
}

type InteractionEventData struct {
	ScrollPosition int    `json:"scrollPosition,omitempty"`
	ViewDuration   int    `json:"viewDuration,omitempty"`
	DeviceType     string `json:"deviceType,omitempty"`
}
