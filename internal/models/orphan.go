package models

import "time"

// AttachmentOrphan records a stored file that no live announcement references
// and whose deletion failed.
type AttachmentOrphan struct {
	ID         string     `db:"id" json:"id"`
	StoredName string     `db:"stored_name" json:"stored_name"`
	Reason     string     `db:"reason" json:"reason"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	ResolvedAt *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
}
