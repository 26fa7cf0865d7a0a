package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/board-api/internal/models"
)

func TestOrphanLifecycle(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewOrphanRepository(db)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO attachment_orphans").WillReturnResult(sqlmock.NewResult(1, 1))
	orphan := &models.AttachmentOrphan{StoredName: "20240101T000000Z_x_memo.txt", Reason: "compensation failed"}
	require.NoError(t, repo.Create(ctx, orphan))
	assert.NotEmpty(t, orphan.ID)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "stored_name", "reason", "created_at", "resolved_at"}).
		AddRow(orphan.ID, orphan.StoredName, orphan.Reason, now, nil)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE resolved_at IS NULL ORDER BY created_at ASC LIMIT $1")).WithArgs(100).WillReturnRows(rows)
	pending, err := repo.ListUnresolved(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Nil(t, pending[0].ResolvedAt)

	mock.ExpectExec("UPDATE attachment_orphans SET resolved_at").WithArgs(orphan.ID, now).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.MarkResolved(ctx, orphan.ID, now))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditCreate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(1, 1))
	entry := &models.AuditLog{Action: models.AuditActionLogin, Resource: "session"}
	require.NoError(t, repo.Create(context.Background(), entry))
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}
