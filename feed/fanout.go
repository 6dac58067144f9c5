package feed

import (
	"context"

	"github.com/jinzhu/copier"

	"github.com/drugboard/feedengine/apperr"
	"github.com/drugboard/feedengine/cache"
	"github.com/drugboard/feedengine/event"
	"github.com/drugboard/feedengine/model"
	. "github.com/drugboard/feedengine/utils/log"
)

const (
	// PopularThreshold is the follower count at or above which an author
	// is popular and their posts switch from push to pull fan-out.
	PopularThreshold = 1000

	// FanoutBatchSize bounds how many follower feeds one fan-out pass
	// touches per batch.
	FanoutBatchSize = 100
)

// Strategist decides per post between push fan-out (write the post into
// every follower's cached feed) and pull fan-out (index it once, resolve at
// read time). The decision is made exactly once, at publish.
type Strategist struct {
	store    *Store
	cache    *cache.Cache
	producer *event.Producer
	feeds    *Service
}

func NewStrategist(store *Store, c *cache.Cache, producer *event.Producer, feeds *Service) *Strategist {
	return &Strategist{store: store, cache: c, producer: producer, feeds: feeds}
}

// HandlePostCreated classifies a fresh post and emits the creation and
// fan-out events. The snapshot is cached before anything is published so
// consumers always find it.
func (s *Strategist) HandlePostCreated(ctx context.Context, post *model.Post) error {
	followerCount, err := s.store.GetFollowerCount(post.UserId)
	if err != nil {
		return apperr.Dependency(err, "failed to classify post for fan-out")
	}
	isPopular := followerCount >= PopularThreshold

	snap := model.SnapshotFromPost(post, followerCount, isPopular)
	if err := s.cache.PutPost(ctx, &snap); err != nil {
		return apperr.Dependency(err, "failed to cache post snapshot")
	}

	payload := event.PostPayload{
		PostId:           post.Id,
		UserId:           post.UserId,
		Title:            post.Title,
		Content:          post.Content,
		SpecializationId: post.SpecializationId,
		Media:            snap.MediaUrls,
		FollowerCount:    followerCount,
		IsPopular:        isPopular,
	}
	if err := s.producer.PostCreated(payload); err != nil {
		return apperr.Dependency(err, "failed to publish post creation")
	}

	fanout := event.FanoutPayload{
		PostId:    post.Id,
		UserId:    post.UserId,
		IsPopular: isPopular,
	}
	if isPopular {
		if err := s.producer.PostPopular(payload); err != nil {
			return apperr.Dependency(err, "failed to publish popularity promotion")
		}
	} else {
		followers, err := s.resolveFollowers(ctx, post.UserId)
		if err != nil {
			return apperr.Dependency(err, "failed to resolve followers for fan-out")
		}
		fanout.Followers = followers
	}
	if err := s.producer.FanoutPost(fanout); err != nil {
		return apperr.Dependency(err, "failed to publish fan-out")
	}
	return nil
}

// HandlePostUpdated invalidates the post snapshot and every cached feed the
// union of the author's followers and the specialization cohort could be
// holding it in.
func (s *Strategist) HandlePostUpdated(ctx context.Context, post *model.Post) error {
	if err := s.cache.InvalidatePost(ctx, post.Id); err != nil {
		return apperr.Dependency(err, "failed to invalidate post snapshot")
	}
	affected, err := s.store.GetAffectedUserIds(post.UserId, post.SpecializationId)
	if err != nil {
		return apperr.Dependency(err, "failed to resolve affected users")
	}
	if err := s.cache.InvalidateFeeds(ctx, affected); err != nil {
		return apperr.Dependency(err, "failed to invalidate affected feeds")
	}

	followerCount, err := s.store.GetFollowerCount(post.UserId)
	if err != nil {
		return apperr.Dependency(err, "failed to classify updated post")
	}
	return apperr.Dependency(s.producer.PostUpdated(event.PostPayload{
		PostId:           post.Id,
		UserId:           post.UserId,
		Title:            post.Title,
		Content:          post.Content,
		SpecializationId: post.SpecializationId,
		FollowerCount:    followerCount,
		IsPopular:        followerCount >= PopularThreshold,
	}), "failed to publish post update")
}

// RegisterHandlers wires all feed-side event handlers onto the consumer.
func (s *Strategist) RegisterHandlers(c *event.Consumer) {
	c.On(event.TypeFanoutRegular, s.onRegularFanout)
	c.On(event.TypeFanoutPopular, s.onPopularFanout)
	c.On(event.TypePostPopular, s.onPostPopular)
	c.On(event.TypePostCreated, s.onPostCreated)
	c.On(event.TypePostUpdated, s.onPostUpdated)
	c.On(event.TypeUserFollowed, s.onUserFollowed)
	c.On(event.TypeUserUnfollowed, s.onUserUnfollowed)
}

// onRegularFanout splices the new post into each follower's cached first
// page. Followers without a cached page are skipped; their next read builds
// a fresh page that already includes the post.
func (s *Strategist) onRegularFanout(ctx context.Context, e *event.Event) event.Outcome {
	snap, err := s.resolveSnapshot(ctx, e.Fanout.PostId)
	if err != nil {
		Log.Errorf("fail to resolve post %d for fan-out: %v", e.Fanout.PostId, err)
		return event.Retry
	}
	if snap == nil {
		Log.Errorf("post %d vanished before fan-out", e.Fanout.PostId)
		return event.DeadLetter
	}

	followers := e.Fanout.Followers
	for start := 0; start < len(followers); start += FanoutBatchSize {
		end := start + FanoutBatchSize
		if end > len(followers) {
			end = len(followers)
		}
		for _, followerId := range followers[start:end] {
			if err := s.spliceIntoFeed(ctx, followerId, snap); err != nil {
				Log.Errorf("fail to splice post %d into feed of user %d: %v",
					snap.Id, followerId, err)
				return event.Retry
			}
		}
	}
	return event.Ack
}

// spliceIntoFeed prepends the post to the follower's cached first page,
// evicting the oldest entry to keep the page size constant. Re-delivery is
// a no-op: a post already present is never inserted twice.
func (s *Strategist) spliceIntoFeed(ctx context.Context, followerId int, snap *model.PostSnapshot) error {
	page, err := s.cache.GetFeedPage(ctx, followerId, 1)
	if err != nil {
		return err
	}
	if page == nil {
		return nil
	}
	for _, p := range page.Posts {
		if p.Id == snap.Id {
			return nil
		}
	}

	var copied model.PostSnapshot
	if err := copier.CopyWithOption(&copied, snap, copier.Option{DeepCopy: true}); err != nil {
		return err
	}
	copied.Source = &model.PostSource{Type: model.SourceFollowed, Weight: DefaultMixConfig().Sources[model.SourceFollowed]}

	posts := append([]model.PostSnapshot{copied}, page.Posts...)
	if len(posts) > FeedPageSize {
		posts = posts[:FeedPageSize]
	}
	page.Posts = posts
	page.TotalItems++
	return s.cache.PutFeedPage(ctx, followerId, 1, page)
}

// onPopularFanout records the post in the popularity index. Insertion is
// idempotent: re-adding the same member just refreshes its score.
func (s *Strategist) onPopularFanout(ctx context.Context, e *event.Event) event.Outcome {
	snap, err := s.resolveSnapshot(ctx, e.Fanout.PostId)
	if err != nil || snap == nil {
		Log.Errorf("fail to resolve post %d for popular fan-out: %v", e.Fanout.PostId, err)
		return event.Retry
	}
	if err := s.cache.AddPopularPost(ctx, snap.Id, float64(snap.FollowerCount)); err != nil {
		Log.Errorf("fail to index popular post %d: %v", snap.Id, err)
		return event.Retry
	}
	return event.Ack
}

func (s *Strategist) onPostPopular(ctx context.Context, e *event.Event) event.Outcome {
	if err := s.cache.AddPopularPost(ctx, e.Post.PostId, float64(e.Post.FollowerCount)); err != nil {
		Log.Errorf("fail to index popular post %d: %v", e.Post.PostId, err)
		return event.Retry
	}
	return event.Ack
}

// onPostCreated refreshes the specialization cohort: members who do not
// follow the author get their cached feeds invalidated so the post surfaces
// on their next read. Followers are served by the fan-out topics instead.
func (s *Strategist) onPostCreated(ctx context.Context, e *event.Event) event.Outcome {
	affected, err := s.store.GetAffectedUserIds(e.Post.UserId, e.Post.SpecializationId)
	if err != nil {
		Log.Errorf("fail to resolve affected users for post %d: %v", e.Post.PostId, err)
		return event.Retry
	}
	followers, err := s.store.GetFollowerIds(e.Post.UserId)
	if err != nil {
		Log.Errorf("fail to resolve followers for post %d: %v", e.Post.PostId, err)
		return event.Retry
	}
	isFollower := make(map[int]bool, len(followers))
	for _, id := range followers {
		isFollower[id] = true
	}

	cohort := []int{}
	for _, id := range affected {
		if !isFollower[id] {
			cohort = append(cohort, id)
		}
	}
	if err := s.cache.InvalidateFeeds(ctx, cohort); err != nil {
		Log.Errorf("fail to invalidate cohort feeds for post %d: %v", e.Post.PostId, err)
		return event.Retry
	}
	return event.Ack
}

func (s *Strategist) onPostUpdated(ctx context.Context, e *event.Event) event.Outcome {
	if err := s.cache.InvalidatePost(ctx, e.Post.PostId); err != nil {
		Log.Errorf("fail to invalidate updated post %d: %v", e.Post.PostId, err)
		return event.Retry
	}
	affected, err := s.store.GetAffectedUserIds(e.Post.UserId, e.Post.SpecializationId)
	if err != nil {
		Log.Errorf("fail to resolve affected users for post %d: %v", e.Post.PostId, err)
		return event.Retry
	}
	if err := s.cache.InvalidateFeeds(ctx, affected); err != nil {
		Log.Errorf("fail to invalidate affected feeds for post %d: %v", e.Post.PostId, err)
		return event.Retry
	}
	return event.Ack
}

// onUserFollowed backfills the follower's feed with the followee's recent
// posts and re-ranks, then refreshes the followee's popularity flag.
func (s *Strategist) onUserFollowed(ctx context.Context, e *event.Event) event.Outcome {
	if _, err := s.feeds.GenerateFresh(ctx, e.Follow.FollowerId); err != nil {
		Log.Errorf("fail to rebuild feed of user %d after follow: %v", e.Follow.FollowerId, err)
		return event.Retry
	}
	if outcome := s.refreshFollowerCount(ctx, e.Follow.FollowingId); outcome != event.Ack {
		return outcome
	}
	return event.Ack
}

// onUserUnfollowed drops the follower's cached feed so unfollowed content
// stops being served, then refreshes the followee's popularity flag.
func (s *Strategist) onUserUnfollowed(ctx context.Context, e *event.Event) event.Outcome {
	if err := s.cache.InvalidateFeed(ctx, e.Follow.FollowerId); err != nil {
		Log.Errorf("fail to invalidate feed of user %d after unfollow: %v", e.Follow.FollowerId, err)
		return event.Retry
	}
	return s.refreshFollowerCount(ctx, e.Follow.FollowingId)
}

func (s *Strategist) refreshFollowerCount(ctx context.Context, userId int) event.Outcome {
	count, err := s.store.GetFollowerCount(userId)
	if err != nil {
		Log.Errorf("fail to count followers of user %d: %v", userId, err)
		return event.Retry
	}
	if err := s.cache.SetUserFollowerCount(ctx, userId, count, PopularThreshold); err != nil {
		Log.Errorf("fail to refresh popularity flag of user %d: %v", userId, err)
		return event.Retry
	}
	return event.Ack
}

// resolveFollowers reads the cached follower set, falling back to the store
// and re-caching on miss. Empty follower sets are never cached, so an empty
// result counts as a miss.
func (s *Strategist) resolveFollowers(ctx context.Context, userId int) ([]int, error) {
	cached, err := s.cache.GetUserFollowers(ctx, userId)
	if err != nil {
		Log.Warnf("follower set read degraded for user %d: %v", userId, err)
	} else if len(cached) > 0 {
		return cached, nil
	}

	followers, err := s.store.GetFollowerIds(userId)
	if err != nil {
		return nil, err
	}
	if err := s.cache.CacheUserFollowers(ctx, userId, followers); err != nil {
		Log.Warnf("fail to cache followers of user %d: %v", userId, err)
	}
	return followers, nil
}

// resolveSnapshot reads the cached snapshot, falling back to the store and
// re-caching on miss.
func (s *Strategist) resolveSnapshot(ctx context.Context, postId int) (*model.PostSnapshot, error) {
	snap, err := s.cache.GetPost(ctx, postId)
	if err != nil {
		return nil, err
	}
	if snap != nil {
		return snap, nil
	}

	post, err := s.store.GetPost(postId)
	if err != nil {
		return nil, err
	}
	followerCount, err := s.store.GetFollowerCount(post.UserId)
	if err != nil {
		return nil, err
	}
	fresh := model.SnapshotFromPost(post, followerCount, followerCount >= PopularThreshold)
	if err := s.cache.PutPost(ctx, &fresh); err != nil {
		Log.Warnf("fail to re-cache post %d: %v", postId, err)
	}
	return &fresh, nil
}
