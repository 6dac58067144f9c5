// Package position remembers where in the feed a user last was, so a client
// reopening the app can restore scroll context instead of starting over.
package position

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/drugboard/feedengine/apperr"
	"github.com/drugboard/feedengine/cache"
	"github.com/drugboard/feedengine/feed"
	"github.com/drugboard/feedengine/model"
)

// Expiry matches a session-scale horizon; a position older than this is
// not worth restoring.
const Expiry = 24 * time.Hour

// Position is the saved feed location of one user.
type Position struct {
	PostId         int    `json:"postId"`
	Page           int    `json:"page"`
	ScrollOffset   int    `json:"scrollOffset"`
	Timestamp      int64  `json:"timestamp"`
	DeviceType     string `json:"deviceType,omitempty"`
	SessionId      string `json:"sessionId,omitempty"`
	ViewportHeight int    `json:"viewportHeight,omitempty"`
}

type Service struct {
	cache *cache.Cache
	feeds *feed.Service
}

func NewService(c *cache.Cache, feeds *feed.Service) *Service {
	return &Service{cache: c, feeds: feeds}
}

func positionKey(userId int) string {
	return fmt.Sprintf("position:%d", userId)
}

// Save stores the user's current feed position, stamping it server side.
func (s *Service) Save(ctx context.Context, userId int, pos Position) (*Position, error) {
	if pos.PostId <= 0 || pos.Page < 1 {
		return nil, apperr.Validation("postId and page are required")
	}
	pos.Timestamp = time.Now().UnixMilli()
	if err := s.cache.SetJSON(ctx, positionKey(userId), &pos, Expiry); err != nil {
		return nil, apperr.Dependency(err, "failed to save feed position")
	}
	return &pos, nil
}

// Get returns the saved position or NotFound when none exists.
func (s *Service) Get(ctx context.Context, userId int) (*Position, error) {
	var pos Position
	found, err := s.cache.GetJSON(ctx, positionKey(userId), &pos)
	if err != nil {
		return nil, apperr.Dependency(err, "failed to load feed position")
	}
	if !found {
		return nil, apperr.NotFound("no saved feed position")
	}
	return &pos, nil
}

// Update applies a partial change to an existing position. Updating a
// position that was never saved is an error.
func (s *Service) Update(ctx context.Context, userId int, change Position) (*Position, error) {
	current, err := s.Get(ctx, userId)
	if err != nil {
		return nil, err
	}
	if change.PostId > 0 {
		current.PostId = change.PostId
	}
	if change.Page >= 1 {
		current.Page = change.Page
	}
	if change.ScrollOffset > 0 {
		current.ScrollOffset = change.ScrollOffset
	}
	if change.DeviceType != "" {
		current.DeviceType = change.DeviceType
	}
	if change.ViewportHeight > 0 {
		current.ViewportHeight = change.ViewportHeight
	}
	current.Timestamp = time.Now().UnixMilli()

	if err := s.cache.SetJSON(ctx, positionKey(userId), current, Expiry); err != nil {
		return nil, apperr.Dependency(err, "failed to update feed position")
	}
	return current, nil
}

// Clear drops the saved position. Clearing an absent position is fine.
func (s *Service) Clear(ctx context.Context, userId int) error {
	return apperr.Dependency(s.cache.Delete(ctx, positionKey(userId)), "failed to clear feed position")
}

// PostsAround returns the feed posts surrounding the saved position, radius
// posts on each side, so the client can rebuild the viewport it left.
func (s *Service) PostsAround(ctx context.Context, userId int, radius int) ([]model.PostSnapshot, *Position, error) {
	pos, err := s.Get(ctx, userId)
	if err != nil {
		return nil, nil, err
	}
	if radius <= 0 {
		radius = 5
	}

	page, err := s.feeds.Generate(ctx, userId, pos.Page, "")
	if err != nil {
		return nil, nil, err
	}

	anchor := -1
	for i, p := range page.Posts {
		if p.Id == pos.PostId {
			anchor = i
			break
		}
	}
	if anchor == -1 {
		// The anchored post left the page; the page head is the best
		// approximation left.
		if len(page.Posts) > radius {
			return page.Posts[:radius], pos, nil
		}
		return page.Posts, pos, nil
	}

	start := anchor - radius
	if start < 0 {
		start = 0
	}
	end := anchor + radius + 1
	if end > len(page.Posts) {
		end = len(page.Posts)
	}
	return page.Posts[start:end], pos, nil
}

// GetBatch resolves saved positions for several users at once. Users with
// no saved position are absent from the result.
func (s *Service) GetBatch(ctx context.Context, userIds []int) (map[int]*Position, error) {
	keys := make([]string, 0, len(userIds))
	for _, id := range userIds {
		keys = append(keys, positionKey(id))
	}
	raws, err := s.cache.MGetJSON(ctx, keys)
	if err != nil {
		return nil, apperr.Dependency(err, "failed to batch load feed positions")
	}

	out := make(map[int]*Position, len(userIds))
	for i, raw := range raws {
		if raw == "" {
			continue
		}
		var pos Position
		if jsonErr := json.Unmarshal([]byte(raw), &pos); jsonErr != nil {
			continue
		}
		out[userIds[i]] = &pos
	}
	return out, nil
}
