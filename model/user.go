package model

import "time"

/*

User is a member of the platform. Identity lifecycle (signup, profile update,
deletion) is owned by the external identity provider; this row only mirrors
what the feed pipeline needs.

Id: primary key, resolved from the verified-identity header on each request
Name: display name
Specializations: the medical specializations this user picked, "many-to-many" relation
Following: users this user follows, through the follows table

*/

type User struct {
	Id        int `gorm:"primaryKey"`
	CreatedAt time.Time
	Name      string

	Specializations []*Specialization `json:"specializations" gorm:"many2many:user_specializations;"`
}
