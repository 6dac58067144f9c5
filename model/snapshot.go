package model

import "time"

// SourceType tags which mixer bucket a snapshot came from.
type SourceType string

const (
	SourceFollowed       SourceType = "FOLLOWED"
	SourceSpecialization SourceType = "SPECIALIZATION"
	SourceTrending       SourceType = "TRENDING"
	SourceDiscovery      SourceType = "DISCOVERY"
)

// PostSource records the winning source attribution of a snapshot after the
// diversity merge. On a collision the higher weight source wins.
type PostSource struct {
	Type   SourceType `json:"type"`
	Weight float64    `json:"weight"`
}

/*

PostSnapshot is the cache copy of a post, denormalized for feed delivery. It
has a lifetime independent from the relational row: it can go stale and is
invalidated on post update/delete events rather than kept in sync.

FollowerCount is the author's follower count at publish time and doubles as
the popularity-index score. Source/Score/Prefetched are working fields set by
the mixer, scorer and prefetcher respectively.

*/

type PostSnapshot struct {
	Id               int       `json:"id"`
	UserId           int       `json:"userId"`
	Title            string    `json:"title"`
	Content          string    `json:"content"`
	SpecializationId int       `json:"specializationId"`
	MediaUrls        []string  `json:"mediaUrls,omitempty"`
	Likes            int       `json:"likes"`
	Comments         int       `json:"comments"`
	Views            int       `json:"views"`
	ContentType      string    `json:"contentType,omitempty"`
	FollowerCount    int       `json:"followerCount"`
	IsPopular        bool      `json:"isPopular"`
	CreatedAt        time.Time `json:"createdAt"`

	Source       *PostSource `json:"source,omitempty"`
	Score        float64     `json:"score,omitempty"`
	Prefetched   bool        `json:"prefetched,omitempty"`
	PrefetchTime int64       `json:"prefetchTime,omitempty"`
}

// SnapshotFromPost builds the denormalized cache copy of a post row.
func SnapshotFromPost(p *Post, followerCount int, isPopular bool) PostSnapshot {
	snap := PostSnapshot{
		Id:               p.Id,
		UserId:           p.UserId,
		Title:            p.Title,
		Content:          p.Content,
		SpecializationId: p.SpecializationId,
		Likes:            p.Likes,
		Comments:         p.Comments,
		Views:            p.Views,
		ContentType:      p.ContentType,
		FollowerCount:    followerCount,
		IsPopular:        isPopular,
		CreatedAt:        p.CreatedAt,
	}
	for _, m := range p.Media {
		snap.MediaUrls = append(snap.MediaUrls, m.Url)
	}
	return snap
}
