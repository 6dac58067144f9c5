package model

import "time"

/*

Post is a piece of content published by a user

Id: primary key
CreatedAt: time when entity is created
UpdatedAt: time of the last edit, bumps cache invalidation

UserId:
Author: the publishing user, "belongs-to" relation
Title: post's title in plain text
Content: post's content in plain text
SpecializationId:
Specialization: the category the classifier assigned, "belongs-to" relation

Likes: denormalized like counter
Comments: denormalized comment counter
Views: denormalized view counter
ContentType: coarse bucket used by the diversity mixer (research_paper,
news_update, discussion, announcement, other)

Media: attached media records, "has-many" relation

*/

type Post struct {
	Id        int `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	UserId           int
	Author           User `gorm:"foreignKey:UserId;constraint:OnUpdate:CASCADE,OnDelete:SET NULL;"`
	Title            string
	Content          string
	SpecializationId int
	Specialization   Specialization `gorm:"constraint:OnUpdate:CASCADE,OnDelete:SET NULL;"`

	Likes       int
	Comments    int
	Views       int
	ContentType string

	Media []*PostMedia `json:"media"`
}

/*

PostMedia is an uploaded image or file attached to a post. The binary itself
lives in external object storage; we only keep the serving URL.

*/

type PostMedia struct {
	Id        int `gorm:"primaryKey"`
	CreatedAt time.Time
	PostId    int
	Url       string
	StorageId string
	Type      string
}
