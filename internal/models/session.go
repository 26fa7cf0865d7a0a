package models

import "time"

// SessionIdentity is the identity bound to a session token.
type SessionIdentity struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Info converts the identity into the public user view.
func (s *SessionIdentity) Info() UserInfo {
	return UserInfo{ID: s.UserID, Username: s.Username, IsAdmin: s.IsAdmin}
}
