package models

import "time"

// User is an application account. HashedPassword carries `json:"-"` so it
// can never leak through any serialized payload.
type User struct {
	ID             int64     `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	Email          string    `db:"email" json:"email"`
	HashedPassword string    `db:"hashed_password" json:"-"`
	Avatar         string    `db:"avatar" json:"avatar"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time `db:"updated_at" json:"updatedAt"`
}

// Contact is the reduced user view returned by getContacts.
type Contact struct {
	ID     int64  `db:"id" json:"id"`
	Name   string `db:"name" json:"name"`
	Email  string `db:"email" json:"email"`
	Avatar string `db:"avatar" json:"avatar"`
}

// Participant is a user resolved inline on a conversation payload.
type Participant struct {
	ID     int64  `db:"id" json:"id"`
	Name   string `db:"name" json:"name"`
	Email  string `db:"email" json:"email"`
	Avatar string `db:"avatar" json:"avatar"`
}
