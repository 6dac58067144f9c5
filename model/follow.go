package model

import "time"

/*

Follow is a "many-to-many" relation of a user following another user

FollowerId: the user who follows
FollowingId: the user being followed
CreatedAt: time when relation is created

*/

type Follow struct {
	FollowerId  int `gorm:"primaryKey"`
	FollowingId int `gorm:"primaryKey"`
	CreatedAt   time.Time
}
