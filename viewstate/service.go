// Package viewstate implements the per (user, post) read/engagement state
// machine. Statuses only ever advance: unseen -> impression -> partial_view
// -> complete_view. The relational row is the durable copy; a working copy
// lives in Redis and is authoritative on cache hit.
package viewstate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/drugboard/feedengine/apperr"
	"github.com/drugboard/feedengine/cache"
	"github.com/drugboard/feedengine/model"
	. "github.com/drugboard/feedengine/utils/log"
)

const (
	// Expiry bounds how long the cached working copy stays authoritative.
	Expiry = 24 * time.Hour

	// PartialViewThreshold and CompleteViewThreshold are the read
	// percentage boundaries of the status machine.
	PartialViewThreshold  = 30
	CompleteViewThreshold = 80
)

var statusRank = map[string]int{
	model.ViewStatusUnseen:       0,
	model.ViewStatusImpression:   1,
	model.ViewStatusPartialView:  2,
	model.ViewStatusCompleteView: 3,
}

// ViewInput carries the client hints of one view event.
type ViewInput struct {
	ScrollPosition int    `json:"scrollPosition"`
	ViewportHeight int    `json:"viewportHeight"`
	ViewDuration   int    `json:"viewDuration"`
	DeviceType     string `json:"deviceType"`
}

type Service struct {
	db    *gorm.DB
	cache *cache.Cache
}

func NewService(db *gorm.DB, c *cache.Cache) *Service {
	return &Service{db: db, cache: c}
}

func stateKey(userId, postId int) string {
	return fmt.Sprintf("viewstate:%d:%d", userId, postId)
}

// TrackView folds one view event into the state. A first view creates an
// impression; subsequent views advance the scroll high-water mark, the read
// percentage derived from it, and the status when a threshold is crossed.
// None of those three ever move backward.
func (s *Service) TrackView(ctx context.Context, userId, postId int, in ViewInput) (*model.ViewState, error) {
	if in.ScrollPosition < 0 || in.ViewportHeight < 0 || in.ViewDuration < 0 {
		return nil, apperr.Validation("scroll position, viewport height and duration must be non-negative")
	}

	now := time.Now()
	state, err := s.load(ctx, userId, postId)
	if err != nil {
		return nil, apperr.Dependency(err, "failed to load view state")
	}
	if state == nil {
		state = &model.ViewState{
			UserId:        userId,
			PostId:        postId,
			ViewStatus:    model.ViewStatusImpression,
			FirstViewedAt: now,
			CreatedAt:     now,
		}
	}

	state.LastViewedAt = now
	state.TotalViewDuration += in.ViewDuration
	state.LastScrollPosition = in.ScrollPosition
	if in.ScrollPosition > state.MaxScrollPosition {
		state.MaxScrollPosition = in.ScrollPosition
	}
	if in.ViewportHeight > 0 {
		state.ViewportHeight = in.ViewportHeight
	}
	if in.DeviceType != "" {
		state.DeviceType = in.DeviceType
	}

	if state.ViewportHeight > 0 {
		pct := state.MaxScrollPosition * 100 / state.ViewportHeight
		if pct > 100 {
			pct = 100
		}
		if pct > state.ReadPercentage {
			state.ReadPercentage = pct
		}
	}
	advance(state, statusForReadPercentage(state.ReadPercentage))

	if err := appendHistory(state, model.InteractionEvent{
		Type:      model.InteractionView,
		Timestamp: now,
		Data: &model.InteractionEventData{
			ScrollPosition: in.ScrollPosition,
			ViewDuration:   in.ViewDuration,
			DeviceType:     in.DeviceType,
		},
	}); err != nil {
		return nil, apperr.Dependency(err, "failed to record view history")
	}

	if err := s.persist(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

// TrackInteraction records a like/comment/share/save against an existing
// view state. Interactions on posts never viewed are rejected; the flags
// are permanent once set.
func (s *Service) TrackInteraction(ctx context.Context, userId, postId int, interactionType string) (*model.ViewState, error) {
	state, err := s.load(ctx, userId, postId)
	if err != nil {
		return nil, apperr.Dependency(err, "failed to load view state")
	}
	if state == nil {
		return nil, apperr.NotFound("no view state for this post")
	}

	switch interactionType {
	case model.InteractionLike:
		state.HasLiked = true
	case model.InteractionComment:
		state.HasCommented = true
	case model.InteractionShare:
		state.HasShared = true
	case model.InteractionSave:
		state.HasSaved = true
	case model.InteractionScroll:
		// scroll interactions only extend the history
	default:
		return nil, apperr.Validation(fmt.Sprintf("unknown interaction type %q", interactionType))
	}

	if err := appendHistory(state, model.InteractionEvent{
		Type:      interactionType,
		Timestamp: time.Now(),
	}); err != nil {
		return nil, apperr.Dependency(err, "failed to record interaction history")
	}

	if err := s.persist(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

// Get returns the view state for (user, post). The cached working copy is
// authoritative; a DB hit re-caches.
func (s *Service) Get(ctx context.Context, userId, postId int) (*model.ViewState, error) {
	state, err := s.load(ctx, userId, postId)
	if err != nil {
		return nil, apperr.Dependency(err, "failed to load view state")
	}
	if state == nil {
		return nil, apperr.NotFound("no view state for this post")
	}
	return state, nil
}

// GetStatuses resolves view statuses for a batch of posts. Posts with no
// record are absent from the result. Implements feed.ViewStatusReader.
func (s *Service) GetStatuses(ctx context.Context, userId int, postIds []int) (map[int]string, error) {
	statuses := make(map[int]string, len(postIds))
	if len(postIds) == 0 {
		return statuses, nil
	}

	keys := make([]string, 0, len(postIds))
	for _, id := range postIds {
		keys = append(keys, stateKey(userId, id))
	}
	raws, err := s.cache.MGetJSON(ctx, keys)
	if err != nil {
		Log.Warnf("view status batch read degraded for user %d: %v", userId, err)
		raws = make([]string, len(keys))
	}

	missing := []int{}
	for i, raw := range raws {
		if raw == "" {
			missing = append(missing, postIds[i])
			continue
		}
		var state model.ViewState
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			missing = append(missing, postIds[i])
			continue
		}
		statuses[postIds[i]] = state.ViewStatus
	}

	if len(missing) > 0 {
		var rows []model.ViewState
		err := s.db.Model(&model.ViewState{}).
			Where("user_id = ? AND post_id IN ?", userId, missing).
			Find(&rows).Error
		if err != nil {
			return nil, errors.Wrap(err, "failed to batch load view states")
		}
		for i := range rows {
			statuses[rows[i].PostId] = rows[i].ViewStatus
		}
	}
	return statuses, nil
}

// ViewCount returns how many users have a view record for the post.
func (s *Service) ViewCount(ctx context.Context, postId int) (int, error) {
	var count int64
	err := s.db.Model(&model.ViewState{}).
		Where("post_id = ? AND view_status != ?", postId, model.ViewStatusUnseen).
		Count(&count).Error
	if err != nil {
		return 0, apperr.Dependency(err, "failed to count views")
	}
	return int(count), nil
}

func (s *Service) load(ctx context.Context, userId, postId int) (*model.ViewState, error) {
	var cached model.ViewState
	found, err := s.cache.GetJSON(ctx, stateKey(userId, postId), &cached)
	if err != nil {
		Log.Warnf("view state cache read degraded for user %d post %d: %v", userId, postId, err)
	} else if found {
		return &cached, nil
	}

	var row model.ViewState
	err = s.db.First(&row, "user_id = ? AND post_id = ?", userId, postId).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load view state row")
	}

	if err := s.cache.SetJSON(ctx, stateKey(userId, postId), &row, Expiry); err != nil {
		Log.Warnf("fail to re-cache view state for user %d post %d: %v", userId, postId, err)
	}
	return &row, nil
}

func (s *Service) persist(ctx context.Context, state *model.ViewState) error {
	state.UpdatedAt = time.Now()
	if err := s.db.Save(state).Error; err != nil {
		return apperr.Dependency(err, "failed to persist view state")
	}
	if err := s.cache.SetJSON(ctx, stateKey(state.UserId, state.PostId), state, Expiry); err != nil {
		Log.Warnf("fail to cache view state for user %d post %d: %v", state.UserId, state.PostId, err)
	}
	return nil
}

// advance moves the status forward only.
func advance(state *model.ViewState, next string) {
	if statusRank[next] > statusRank[state.ViewStatus] {
		state.ViewStatus = next
	}
}

func statusForReadPercentage(pct int) string {
	switch {
	case pct >= CompleteViewThreshold:
		return model.ViewStatusCompleteView
	case pct >= PartialViewThreshold:
		return model.ViewStatusPartialView
	default:
		return model.ViewStatusImpression
	}
}

func appendHistory(state *model.ViewState, e model.InteractionEvent) error {
	var history []model.InteractionEvent
	if len(state.InteractionHistory) > 0 {
		if err := json.Unmarshal(state.InteractionHistory, &history); err != nil {
			return errors.Wrap(err, "failed to decode interaction history")
		}
	}
	history = append(history, e)
	data, err := json.Marshal(history)
	if err != nil {
		return errors.Wrap(err, "failed to encode interaction history")
	}
	state.InteractionHistory = data
	return nil
}
