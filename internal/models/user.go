package models

// User identifies a platform account as it appears on the chat wire.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"` // URL to profile picture
}
