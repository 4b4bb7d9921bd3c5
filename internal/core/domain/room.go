package domain

import "time"

type RoomID string
type FileID string

// ClientID identifies one relay connection. It is ephemeral and assigned at
// join time; it is not the durable user id.
type ClientID string

type Room struct {
	ID        RoomID
	Name      string
	OwnerID   UserID
	CreatedAt time.Time
}

type File struct {
	ID       FileID
	RoomID   RoomID
	Name     string
	Language string
	Content  string
	SavedAt  time.Time
}
