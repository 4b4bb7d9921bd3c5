package domain

type UserID string

// User is the identity the external provider hands us at room-join time.
// The core only needs id, display name and display color.
type User struct {
	ID    UserID
	Name  string
	Color string
	Email string
}
