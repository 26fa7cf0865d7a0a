package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/board-api/internal/dto"
	"github.com/noah-isme/board-api/internal/models"
	"github.com/noah-isme/board-api/internal/repository"
	appErrors "github.com/noah-isme/board-api/pkg/errors"
)

const announcementResource = "announcement"

type announcementRepository interface {
	List(ctx context.Context) ([]models.Announcement, error)
	GetByID(ctx context.Context, id string) (*models.Announcement, error)
	Create(ctx context.Context, announcement *models.Announcement) error
	UpdateWith(ctx context.Context, id string, fn repository.UpdateFunc) (*models.Announcement, error)
	DeleteWith(ctx context.Context, id string, fn repository.DeleteFunc) (*models.Announcement, error)
}

// announcementFields is validated against the merged record on update.
type announcementFields struct {
	Title string `validate:"required,max=200"`
	Body  string `validate:"required"`
}

// AnnouncementService handles the announcement lifecycle. A record's
// attachment reference always points at a completely stored file: files are
// saved before the row is written and released only after it is committed.
type AnnouncementService struct {
	repo        announcementRepository
	attachments *AttachmentService
	audit       *AuditService
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewAnnouncementService constructs the service.
func NewAnnouncementService(repo announcementRepository, attachments *AttachmentService, audit *AuditService, validate *validator.Validate, logger *zap.Logger) *AnnouncementService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnnouncementService{repo: repo, attachments: attachments, audit: audit, validator: validate, logger: logger}
}

// CanView reports whether identity may see the announcement. Anonymous
// callers only see public announcements.
func CanView(identity *models.SessionIdentity, a *models.Announcement) bool {
	return a != nil && (a.IsPublic || identity != nil)
}

// List returns every announcement, newest first.
func (s *AnnouncementService) List(ctx context.Context) ([]models.Announcement, error) {
	items, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreFailure.Code, appErrors.ErrStoreFailure.Status, "failed to list announcements")
	}
	return items, nil
}

// Get returns a single announcement.
func (s *AnnouncementService) Get(ctx context.Context, id string) (*models.Announcement, error) {
	if err := checkAnnouncementID(id); err != nil {
		return nil, err
	}
	announcement, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, mapAnnouncementError(err, "failed to load announcement")
	}
	return announcement, nil
}

// Create stores the optional upload and then inserts the row. When the insert
// fails the stored file is deleted again.
func (s *AnnouncementService) Create(ctx context.Context, identity *models.SessionIdentity, req dto.CreateAnnouncementRequest, upload *Upload, meta AuditMeta) (*models.Announcement, error) {
	decision := Authorize(identity, RequireAuthenticated())
	if !decision.Allowed() {
		return nil, decision.Err
	}

	req.Title = strings.TrimSpace(req.Title)
	req.Body = strings.TrimSpace(req.Body)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid announcement payload")
	}

	announcement := &models.Announcement{
		Title:     req.Title,
		Body:      req.Body,
		IsPublic:  true,
		CreatedBy: identity.UserID,
	}
	if req.IsPublic != nil {
		announcement.IsPublic = *req.IsPublic
	}

	if upload != nil {
		name, err := s.attachments.Save(ctx, *upload)
		if err != nil {
			return nil, err
		}
		announcement.Attachment = &name
	}

	if err := s.repo.Create(ctx, announcement); err != nil {
		mapped := mapAnnouncementError(err, "failed to create announcement")
		if announcement.HasAttachment() && !s.attachments.Discard(ctx, *announcement.Attachment, "insert of announcement failed") {
			return nil, appErrors.WithCleanup(mapped)
		}
		return nil, mapped
	}

	s.logger.Info("announcement created", zap.String("announcement_id", announcement.ID), zap.String("user_id", identity.UserID))
	s.audit.Record(ctx, &identity.UserID, models.AuditActionAnnouncementCreate, announcementResource, &announcement.ID,
		auditValues(announcement), meta)
	return announcement, nil
}

// Update applies a partial update under the row lock. The caller must own the
// announcement or be an admin. A new upload replaces the attachment: the old
// file is deleted only after the row commits, the new one is deleted if the
// update does not commit.
func (s *AnnouncementService) Update(ctx context.Context, identity *models.SessionIdentity, id string, req dto.UpdateAnnouncementRequest, upload *Upload, meta AuditMeta) (*models.Announcement, error) {
	decision := Authorize(identity, RequireAuthenticated())
	if !decision.Allowed() {
		return nil, decision.Err
	}
	if err := checkAnnouncementID(id); err != nil {
		return nil, err
	}
	if req.Empty() && upload == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "nothing to update")
	}

	var replacement *Replacement
	updated, err := s.repo.UpdateWith(ctx, id, func(current models.Announcement) (*models.Announcement, error) {
		if decision := Authorize(identity, RequireOwner(current.CreatedBy)); !decision.Allowed() {
			return nil, decision.Err
		}

		next := current
		if req.Title != nil {
			next.Title = strings.TrimSpace(*req.Title)
		}
		if req.Body != nil {
			next.Body = strings.TrimSpace(*req.Body)
		}
		if req.IsPublic != nil {
			next.IsPublic = *req.IsPublic
		}
		if err := s.validator.Struct(announcementFields{Title: next.Title, Body: next.Body}); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid announcement payload")
		}

		if upload != nil {
			staged, err := s.attachments.Replace(ctx, current.Attachment, *upload)
			if err != nil {
				return nil, err
			}
			replacement = staged
			name := staged.New
			next.Attachment = &name
		}
		return &next, nil
	})
	if err != nil {
		mapped := mapAnnouncementError(err, "failed to update announcement")
		if replacement == nil {
			return nil, mapped
		}
		var committed *models.Announcement
		if errors.Is(err, repository.ErrCommitUnknown) {
			var settleErr error
			if committed, settleErr = s.settleUncertainCommit(ctx, id, replacement); settleErr != nil {
				return nil, appErrors.WithCleanup(mapped)
			}
		}
		if committed == nil {
			if rbErr := replacement.Rollback(ctx); rbErr != nil {
				return nil, appErrors.WithCleanup(mapped)
			}
			return nil, mapped
		}
		updated = committed
	}

	replacement.Commit(ctx)

	s.audit.Record(ctx, &identity.UserID, models.AuditActionAnnouncementUpdate, announcementResource, &updated.ID,
		auditValues(updated), meta)
	return updated, nil
}

// settleUncertainCommit re-reads the row after a failed COMMIT. It returns the
// row when the update did land (it references the staged file) and nil when it
// did not. When the row cannot be read both files are left in place, since
// either one may be the referenced attachment.
func (s *AnnouncementService) settleUncertainCommit(ctx context.Context, id string, replacement *Replacement) (*models.Announcement, error) {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		s.logger.Warn("announcement update outcome unknown; keeping staged attachment",
			zap.String("announcement_id", id), zap.String("stored_name", replacement.New), zap.Error(err))
		return nil, err
	}
	if current.HasAttachment() && *current.Attachment == replacement.New {
		s.logger.Info("announcement update committed despite commit error", zap.String("announcement_id", id))
		return current, nil
	}
	return nil, nil
}

// Delete removes the row under the row lock and then its attachment. A file
// that cannot be deleted is reported as an orphan; the row stays deleted.
func (s *AnnouncementService) Delete(ctx context.Context, identity *models.SessionIdentity, id string, meta AuditMeta) error {
	decision := Authorize(identity, RequireAuthenticated())
	if !decision.Allowed() {
		return decision.Err
	}
	if err := checkAnnouncementID(id); err != nil {
		return err
	}

	deleted, err := s.repo.DeleteWith(ctx, id, func(current models.Announcement) error {
		if decision := Authorize(identity, RequireOwner(current.CreatedBy)); !decision.Allowed() {
			return decision.Err
		}
		return nil
	})
	if err != nil {
		return mapAnnouncementError(err, "failed to delete announcement")
	}

	if deleted.HasAttachment() {
		s.attachments.Discard(ctx, *deleted.Attachment, "attachment of deleted announcement could not be removed")
	}

	s.logger.Info("announcement deleted", zap.String("announcement_id", id), zap.String("user_id", identity.UserID))
	s.audit.Record(ctx, &identity.UserID, models.AuditActionAnnouncementDelete, announcementResource, &deleted.ID, nil, meta)
	return nil
}

// DownloadAttachment opens the attachment of announcement id. Announcements
// hidden from the caller and announcements without a file are NotFound.
func (s *AnnouncementService) DownloadAttachment(ctx context.Context, identity *models.SessionIdentity, id string) (*AttachmentDownload, error) {
	announcement, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanView(identity, announcement) || !announcement.HasAttachment() {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "attachment not found")
	}
	return s.attachments.Retrieve(ctx, *announcement.Attachment)
}

// AttachmentName returns the client filename for a stored name.
func (s *AnnouncementService) AttachmentName(stored string) string {
	return OriginalName(stored)
}

// checkAnnouncementID rejects ids that cannot name a row.
func checkAnnouncementID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return appErrors.Clone(appErrors.ErrNotFound, "announcement not found")
	}
	return nil
}

func mapAnnouncementError(err error, message string) error {
	var appErr *appErrors.Error
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, "announcement not found")
	case errors.Is(err, repository.ErrDuplicate):
		return appErrors.Clone(appErrors.ErrConflict, "attachment name already in use")
	default:
		return appErrors.Wrap(err, appErrors.ErrStoreFailure.Code, appErrors.ErrStoreFailure.Status, message)
	}
}

func auditValues(a *models.Announcement) map[string]interface{} {
	return map[string]interface{}{
		"title":          a.Title,
		"is_public":      a.IsPublic,
		"has_attachment": a.HasAttachment(),
	}
}
