package dto

import (
	"time"

	"github.com/noah-isme/board-api/internal/models"
)

// CreateAnnouncementRequest is the payload for a new announcement. It binds
// from JSON or from the text fields of a multipart form.
type CreateAnnouncementRequest struct {
	Title    string `form:"title" json:"title" validate:"required,max=200"`
	Body     string `form:"body" json:"body" validate:"required"`
	IsPublic *bool  `form:"is_public" json:"is_public"`
}

// UpdateAnnouncementRequest carries a partial update. Nil fields are left unchanged.
type UpdateAnnouncementRequest struct {
	Title    *string `form:"title" json:"title"`
	Body     *string `form:"body" json:"body"`
	IsPublic *bool   `form:"is_public" json:"is_public"`
}

// Empty reports whether the request changes nothing.
func (r UpdateAnnouncementRequest) Empty() bool {
	return r.Title == nil && r.Body == nil && r.IsPublic == nil
}

// AnnouncementResponse is the public view of an announcement. Stored file
// names are never exposed.
type AnnouncementResponse struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	IsPublic       bool      `json:"is_public"`
	CreatedBy      string    `json:"created_by"`
	AttachmentName *string   `json:"attachment_name"`
	AttachmentURL  *string   `json:"attachment_url"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewAnnouncementResponse builds the view. originalName maps a stored name to
// the client filename and downloadURL builds the attachment endpoint for an id.
func NewAnnouncementResponse(a models.Announcement, originalName func(string) string, downloadURL func(id string) string) AnnouncementResponse {
	resp := AnnouncementResponse{
		ID:        a.ID,
		Title:     a.Title,
		Body:      a.Body,
		IsPublic:  a.IsPublic,
		CreatedBy: a.CreatedBy,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
	if a.HasAttachment() {
		name := originalName(*a.Attachment)
		url := downloadURL(a.ID)
		resp.AttachmentName = &name
		resp.AttachmentURL = &url
	}
	return resp
}
