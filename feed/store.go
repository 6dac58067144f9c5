package feed

import (
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/drugboard/feedengine/model"
)

const (
	// DefaultTimeWindow bounds candidate fetches for every mixer
	// source. Posts older than this never enter a feed.
	DefaultTimeWindow = 30 * 24 * time.Hour

	// DiscoveryMinLikes is the floor a post must clear to be a
	// discovery candidate.
	DiscoveryMinLikes = 10
)

// Store runs all relational reads the feed pipeline needs. Every method
// returns candidates ordered newest first unless stated otherwise.
type Store struct {
	DB *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{DB: db}
}

// GetFollowedPosts returns posts authored by users the given user follows,
// created after since.
func (s *Store) GetFollowedPosts(userId int, since time.Time, limit int) ([]model.Post, error) {
	var posts []model.Post
	err := s.DB.Model(&model.Post{}).
		Joins("JOIN follows ON follows.following_id = posts.user_id").
		Where("follows.follower_id = ? AND posts.created_at > ?", userId, since).
		Order("posts.created_at DESC").
		Limit(limit).
		Preload("Author").
		Preload("Media").
		Find(&posts).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch followed posts")
	}
	return posts, nil
}

// GetUserSpecializationIds returns the ids of the specializations the user
// belongs to.
func (s *Store) GetUserSpecializationIds(userId int) ([]int, error) {
	var ids []int
	err := s.DB.Model(&model.UserSpecialization{}).
		Where("user_id = ?", userId).
		Pluck("specialization_id", &ids).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch user specializations")
	}
	return ids, nil
}

// GetSpecializationPosts returns recent posts from the user's
// specializations, excluding authors the user already follows and the user
// themselves.
func (s *Store) GetSpecializationPosts(userId int, since time.Time, limit int) ([]model.Post, error) {
	specIds, err := s.GetUserSpecializationIds(userId)
	if err != nil {
		return nil, err
	}
	if len(specIds) == 0 {
		return nil, nil
	}
	var posts []model.Post
	err = s.DB.Model(&model.Post{}).
		Where("posts.specialization_id IN ? AND posts.created_at > ? AND posts.user_id != ?", specIds, since, userId).
		Where("posts.user_id NOT IN (?)",
			s.DB.Model(&model.Follow{}).Select("following_id").Where("follower_id = ?", userId)).
		Order("posts.created_at DESC").
		Limit(limit).
		Preload("Author").
		Preload("Media").
		Find(&posts).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch specialization posts")
	}
	return posts, nil
}

// GetDiscoveryPosts returns well liked posts from outside the user's
// follow graph, created after since, most liked first.
func (s *Store) GetDiscoveryPosts(userId int, since time.Time, limit int) ([]model.Post, error) {
	var posts []model.Post
	err := s.DB.Model(&model.Post{}).
		Where("posts.likes >= ? AND posts.user_id != ? AND posts.created_at > ?", DiscoveryMinLikes, userId, since).
		Where("posts.user_id NOT IN (?)",
			s.DB.Model(&model.Follow{}).Select("following_id").Where("follower_id = ?", userId)).
		Order("posts.likes DESC, posts.created_at DESC").
		Limit(limit).
		Preload("Author").
		Preload("Media").
		Find(&posts).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch discovery posts")
	}
	return posts, nil
}

// GetPostsByIds resolves a batch of post ids, preserving no particular
// order.
func (s *Store) GetPostsByIds(ids []int) ([]model.Post, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var posts []model.Post
	err := s.DB.Model(&model.Post{}).
		Where("id IN ?", ids).
		Preload("Author").
		Preload("Media").
		Find(&posts).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch posts by ids")
	}
	return posts, nil
}

func (s *Store) GetPost(postId int) (*model.Post, error) {
	var post model.Post
	err := s.DB.Preload("Author").Preload("Media").First(&post, "id = ?", postId).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch post")
	}
	return &post, nil
}

// GetFollowerCount returns how many users follow the given user.
func (s *Store) GetFollowerCount(userId int) (int, error) {
	var count int64
	err := s.DB.Model(&model.Follow{}).
		Where("following_id = ?", userId).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to count followers")
	}
	return int(count), nil
}

// GetFollowerIds returns the ids of all followers of the given user.
func (s *Store) GetFollowerIds(userId int) ([]int, error) {
	var ids []int
	err := s.DB.Model(&model.Follow{}).
		Where("following_id = ?", userId).
		Pluck("follower_id", &ids).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch follower ids")
	}
	return ids, nil
}

// GetAffectedUserIds returns the union of an author's followers and the
// members of a specialization, deduplicated. These are the users whose
// cached feeds a post mutation can touch.
func (s *Store) GetAffectedUserIds(authorId int, specializationId int) ([]int, error) {
	followerIds, err := s.GetFollowerIds(authorId)
	if err != nil {
		return nil, err
	}
	var cohortIds []int
	err = s.DB.Model(&model.UserSpecialization{}).
		Where("specialization_id = ? AND user_id != ?", specializationId, authorId).
		Pluck("user_id", &cohortIds).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch specialization cohort")
	}

	seen := make(map[int]bool, len(followerIds)+len(cohortIds))
	union := make([]int, 0, len(followerIds)+len(cohortIds))
	for _, id := range followerIds {
		if !seen[id] {
			seen[id] = true
			union = append(union, id)
		}
	}
	for _, id := range cohortIds {
		if !seen[id] {
			seen[id] = true
			union = append(union, id)
		}
	}
	return union, nil
}

// AverageReadPercentage returns the mean read percentage across all view
// states of a post, and whether any views exist at all.
func (s *Store) AverageReadPercentage(postId int) (float64, bool, error) {
	var row struct {
		Avg   float64
		Total int64
	}
	err := s.DB.Model(&model.ViewState{}).
		Select("COALESCE(AVG(read_percentage), 0) AS avg, COUNT(*) AS total").
		Where("post_id = ?", postId).
		Scan(&row).Error
	if err != nil {
		return 0, false, errors.Wrap(err, "failed to aggregate read percentage")
	}
	return row.Avg, row.Total > 0, nil
}

// UserCompletionRate returns the mean read percentage across everything the
// user has viewed, scaled to [0, 1].
func (s *Store) UserCompletionRate(userId int) (float64, error) {
	var row struct {
		Avg   float64
		Total int64
	}
	err := s.DB.Model(&model.ViewState{}).
		Select("COALESCE(AVG(read_percentage), 0) AS avg, COUNT(*) AS total").
		Where("user_id = ?", userId).
		Scan(&row).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to aggregate user completion")
	}
	if row.Total == 0 {
		return 0, nil
	}
	return row.Avg / 100, nil
}

// ContentTypeEngagement is one row of the per content type engagement
// rollup the optimizer consumes.
type ContentTypeEngagement struct {
	ContentType     string
	Views           int64
	AvgReadPct      float64
	CompleteViews   int64
	EngagementScore float64
}

// GetContentTypeEngagement aggregates the user's view states per content
// type of the viewed posts.
func (s *Store) GetContentTypeEngagement(userId int) ([]ContentTypeEngagement, error) {
	var rows []ContentTypeEngagement
	err := s.DB.Model(&model.ViewState{}).
		Select(`posts.content_type AS content_type,
			COUNT(*) AS views,
			COALESCE(AVG(view_states.read_percentage), 0) AS avg_read_pct,
			COUNT(*) FILTER (WHERE view_states.view_status = ?) AS complete_views,
			COALESCE(AVG(CASE
				WHEN view_states.has_shared THEN 3
				WHEN view_states.has_commented THEN 2
				WHEN view_states.has_liked THEN 1
				ELSE 0
			END), 0) AS engagement_score`,
			model.ViewStatusCompleteView).
		Joins("JOIN posts ON posts.id = view_states.post_id").
		Where("view_states.user_id = ?", userId).
		Group("posts.content_type").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to aggregate content type engagement")
	}
	return rows, nil
}
