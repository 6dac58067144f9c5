package model

import "time"

/*

Specialization is a medical field a post can be classified into and a user can
subscribe to. Classification of post text into a specialization id is done by
an external classifier service.

*/

type Specialization struct {
	Id        int `gorm:"primaryKey"`
	CreatedAt time.Time
	Name      string
}

/*

UserSpecialization is a "many-to-many" relation of a user's chosen
specializations

*/

type UserSpecialization struct {
	UserId           int `gorm:"primaryKey"`
	SpecializationId int `gorm:"primaryKey"`
	CreatedAt        time.Time
}
