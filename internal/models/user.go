package models

import "time"

// Profile is what the authentication collaborator knows about a user.
type Profile struct {
	UID       string    `json:"uid"`
	FullName  string    `json:"fullName"`
	Email     string    `json:"email"`
	PhotoURL  string    `json:"photoUrl"`
	CreatedAt time.Time `json:"createdAt"`
}
