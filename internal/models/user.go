package models

import "time"

type User struct {
	ID       int64  `json:"id"`
	Email    string `json:"email,omitempty"`
	Nickname string `json:"nickname"`
	// ProfileImageURL is nil until the user sets one.
	ProfileImageURL *string   `json:"profile_image_url"`
	PasswordHash    string    `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
}
