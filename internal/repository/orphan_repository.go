package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/board-api/internal/models"
)

// OrphanRepository tracks attachment files awaiting out-of-band cleanup.
type OrphanRepository struct {
	db *sqlx.DB
}

// NewOrphanRepository constructs the repository.
func NewOrphanRepository(db *sqlx.DB) *OrphanRepository {
	return &OrphanRepository{db: db}
}

// Create records an orphaned file.
func (r *OrphanRepository) Create(ctx context.Context, orphan *models.AttachmentOrphan) error {
	if orphan.ID == "" {
		orphan.ID = uuid.NewString()
	}
	if orphan.CreatedAt.IsZero() {
		orphan.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO attachment_orphans (id, stored_name, reason, created_at) VALUES (:id, :stored_name, :reason, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, orphan); err != nil {
		return fmt.Errorf("create attachment orphan: %w", err)
	}
	return nil
}

// MarkResolved flags the orphan as cleaned up.
func (r *OrphanRepository) MarkResolved(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE attachment_orphans SET resolved_at = $2 WHERE id = $1 AND resolved_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("resolve attachment orphan: %w", err)
	}
	return nil
}

// ListUnresolved returns the oldest pending orphans.
func (r *OrphanRepository) ListUnresolved(ctx context.Context, limit int) ([]models.AttachmentOrphan, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	const query = `SELECT id, stored_name, reason, created_at, resolved_at FROM attachment_orphans WHERE resolved_at IS NULL ORDER BY created_at ASC LIMIT $1`
	orphans := []models.AttachmentOrphan{}
	if err := r.db.SelectContext(ctx, &orphans, query, limit); err != nil {
		return nil, fmt.Errorf("list attachment orphans: %w", err)
	}
	return orphans, nil
}
