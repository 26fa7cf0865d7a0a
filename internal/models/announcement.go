package models

import "time"

// Announcement represents a persisted announcement row.
type Announcement struct {
	ID         string    `db:"id" json:"id"`
	Title      string    `db:"title" json:"title"`
	Body       string    `db:"body" json:"body"`
	Attachment *string   `db:"attachment" json:"-"`
	IsPublic   bool      `db:"is_public" json:"is_public"`
	CreatedBy  string    `db:"created_by" json:"created_by"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// HasAttachment reports whether the announcement references a stored file.
func (a *Announcement) HasAttachment() bool {
	return a.Attachment != nil && *a.Attachment != ""
}
