package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/board-api/internal/models"
)

const announcementColumns = `id, title, body, attachment, is_public, created_by, created_at, updated_at`

// UpdateFunc receives the locked current row and returns the row to persist.
// Returning an error aborts the transaction without writing anything.
type UpdateFunc func(current models.Announcement) (*models.Announcement, error)

// DeleteFunc receives the locked row about to be deleted. Returning an error
// aborts the deletion.
type DeleteFunc func(current models.Announcement) error

// AnnouncementRepository provides persistence for announcements.
type AnnouncementRepository struct {
	db *sqlx.DB
}

// NewAnnouncementRepository creates the repository.
func NewAnnouncementRepository(db *sqlx.DB) *AnnouncementRepository {
	return &AnnouncementRepository{db: db}
}

// List returns every announcement, newest first.
func (r *AnnouncementRepository) List(ctx context.Context) ([]models.Announcement, error) {
	query := fmt.Sprintf(`SELECT %s FROM announcements ORDER BY created_at DESC, id DESC`, announcementColumns)
	announcements := []models.Announcement{}
	if err := r.db.SelectContext(ctx, &announcements, query); err != nil {
		return nil, fmt.Errorf("list announcements: %w", err)
	}
	return announcements, nil
}

// GetByID returns an announcement by identifier.
func (r *AnnouncementRepository) GetByID(ctx context.Context, id string) (*models.Announcement, error) {
	query := fmt.Sprintf(`SELECT %s FROM announcements WHERE id = $1`, announcementColumns)
	var announcement models.Announcement
	if err := r.db.GetContext(ctx, &announcement, query, id); err != nil {
		if err == sql.ErrNoRows || isInvalidTextRepresentation(err) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("get announcement: %w", err)
	}
	return &announcement, nil
}

// Create inserts a new announcement.
func (r *AnnouncementRepository) Create(ctx context.Context, announcement *models.Announcement) error {
	if announcement.ID == "" {
		announcement.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if announcement.CreatedAt.IsZero() {
		announcement.CreatedAt = now
	}
	announcement.UpdatedAt = now
	const query = `INSERT INTO announcements (id, title, body, attachment, is_public, created_by, created_at, updated_at)
VALUES (:id, :title, :body, :attachment, :is_public, :created_by, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, announcement); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create announcement: %w", err)
	}
	return nil
}

// UpdateWith locks the row, lets fn compute the new state and persists it in
// the same transaction. Concurrent updates of one id are serialized by the
// row lock. sql.ErrNoRows is returned when the row does not exist.
func (r *AnnouncementRepository) UpdateWith(ctx context.Context, id string, fn UpdateFunc) (result *models.Announcement, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin announcement update: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	current, err := lockAnnouncement(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	next, err := fn(*current)
	if err != nil {
		return nil, err
	}
	next.ID = current.ID
	next.CreatedBy = current.CreatedBy
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = time.Now().UTC()

	const query = `UPDATE announcements SET title = :title, body = :body, attachment = :attachment, is_public = :is_public, updated_at = :updated_at WHERE id = :id`
	if _, err = tx.NamedExecContext(ctx, query, next); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("update announcement: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit announcement update: %w: %w", ErrCommitUnknown, err)
	}
	return next, nil
}

// DeleteWith locks the row, lets fn veto the deletion and removes it. The
// deleted row is returned so callers can release its attachment.
func (r *AnnouncementRepository) DeleteWith(ctx context.Context, id string, fn DeleteFunc) (deleted *models.Announcement, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin announcement delete: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	current, err := lockAnnouncement(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err = fn(*current); err != nil {
		return nil, err
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM announcements WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("delete announcement: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit announcement delete: %w", err)
	}
	return current, nil
}

func lockAnnouncement(ctx context.Context, tx *sqlx.Tx, id string) (*models.Announcement, error) {
	query := fmt.Sprintf(`SELECT %s FROM announcements WHERE id = $1 FOR UPDATE`, announcementColumns)
	var current models.Announcement
	if err := tx.GetContext(ctx, &current, query, id); err != nil {
		if err == sql.ErrNoRows || isInvalidTextRepresentation(err) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("lock announcement: %w", err)
	}
	return &current, nil
}
