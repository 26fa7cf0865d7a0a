package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/board-api/internal/dto"
	"github.com/noah-isme/board-api/internal/models"
	"github.com/noah-isme/board-api/internal/repository"
	appErrors "github.com/noah-isme/board-api/pkg/errors"
)

type announcementFixture struct {
	*attachmentFixture
	repo  *memAnnouncementRepo
	audit *memAuditRepo
	svc   *AnnouncementService
}

func newAnnouncementFixture(t *testing.T) *announcementFixture {
	t.Helper()
	att := newAttachmentFixture(t, AttachmentConfig{})
	repo := newMemAnnouncementRepo()
	audit := &memAuditRepo{}
	svc := NewAnnouncementService(repo, att.svc, NewAuditService(audit, nil), nil, nil)
	return &announcementFixture{attachmentFixture: att, repo: repo, audit: audit, svc: svc}
}

func ident(id string, admin bool) *models.SessionIdentity {
	return &models.SessionIdentity{UserID: id, Username: id, IsAdmin: admin}
}

func boolPtr(v bool) *bool { return &v }

func strPtr(v string) *string { return &v }

func uploadOf(body string) *Upload {
	u := textUpload("notice.txt", body)
	return &u
}

func (f *announcementFixture) create(t *testing.T, owner *models.SessionIdentity, upload *Upload) *models.Announcement {
	t.Helper()
	a, err := f.svc.Create(context.Background(), owner, dto.CreateAnnouncementRequest{Title: "Title", Body: "Body"}, upload, AuditMeta{})
	require.NoError(t, err)
	return a
}

func TestCreateAnnouncementWithAttachment(t *testing.T) {
	f := newAnnouncementFixture(t)
	alice := ident("alice", false)

	a := f.create(t, alice, uploadOf("hello"))
	require.True(t, a.HasAttachment())
	assert.True(t, a.IsPublic)
	assert.Equal(t, "alice", a.CreatedBy)
	assert.Equal(t, []string{*a.Attachment}, f.files(t))

	dl, err := f.svc.DownloadAttachment(context.Background(), nil, a.ID)
	require.NoError(t, err)
	defer dl.Body.Close()
	data, _ := io.ReadAll(dl.Body)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, "notice.txt", dl.Filename)
	assert.Equal(t, []string{models.AuditActionAnnouncementCreate}, f.audit.actions())
}

func TestCreateAnnouncementRequiresSession(t *testing.T) {
	f := newAnnouncementFixture(t)
	_, err := f.svc.Create(context.Background(), nil, dto.CreateAnnouncementRequest{Title: "t", Body: "b"}, uploadOf("x"), AuditMeta{})
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
	assert.Empty(t, f.files(t))
}

func TestCreateAnnouncementValidatesBeforeSaving(t *testing.T) {
	f := newAnnouncementFixture(t)
	_, err := f.svc.Create(context.Background(), ident("alice", false), dto.CreateAnnouncementRequest{Title: "   ", Body: "b"}, uploadOf("x"), AuditMeta{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Empty(t, f.files(t))
}

func TestCreateAnnouncementCompensatesFailedInsert(t *testing.T) {
	f := newAnnouncementFixture(t)
	f.repo.createErr = errors.New("db down")

	_, err := f.svc.Create(context.Background(), ident("alice", false), dto.CreateAnnouncementRequest{Title: "t", Body: "b"}, uploadOf("x"), AuditMeta{})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrStoreFailure)
	assert.False(t, appErrors.FromError(err).CleanupRequired)
	assert.Empty(t, f.files(t))
	assert.Empty(t, f.orphans.names())
}

func TestCreateAnnouncementFlagsFailedCompensation(t *testing.T) {
	f := newAnnouncementFixture(t)
	f.repo.createErr = errors.New("db down")
	f.store.setDeleteErr(errors.New("disk gone"))

	_, err := f.svc.Create(context.Background(), ident("alice", false), dto.CreateAnnouncementRequest{Title: "t", Body: "b"}, uploadOf("x"), AuditMeta{})
	require.Error(t, err)
	assert.True(t, appErrors.FromError(err).CleanupRequired)
	assert.Len(t, f.orphans.names(), 1)
}

func TestAdminCreatesPrivateAnnouncement(t *testing.T) {
	f := newAnnouncementFixture(t)
	a, err := f.svc.Create(context.Background(), ident("root", true),
		dto.CreateAnnouncementRequest{Title: "staff only", Body: "b", IsPublic: boolPtr(false)}, nil, AuditMeta{})
	require.NoError(t, err)
	assert.False(t, a.IsPublic)

	all, err := f.svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.False(t, CanView(nil, &all[0]))
	assert.True(t, CanView(ident("bob", false), &all[0]))
}

func TestUpdateAnnouncementPartial(t *testing.T) {
	f := newAnnouncementFixture(t)
	a := f.create(t, ident("alice", false), nil)

	updated, err := f.svc.Update(context.Background(), ident("alice", false), a.ID,
		dto.UpdateAnnouncementRequest{Title: strPtr("New title")}, nil, AuditMeta{})
	require.NoError(t, err)
	assert.Equal(t, "New title", updated.Title)
	assert.Equal(t, "Body", updated.Body)
	assert.Equal(t, a.CreatedAt, updated.CreatedAt)
	assert.False(t, updated.UpdatedAt.Before(a.UpdatedAt))
}

func TestUpdateAnnouncementOwnership(t *testing.T) {
	f := newAnnouncementFixture(t)
	a := f.create(t, ident("alice", false), nil)

	_, err := f.svc.Update(context.Background(), ident("bob", false), a.ID,
		dto.UpdateAnnouncementRequest{Title: strPtr("hijack")}, uploadOf("x"), AuditMeta{})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
	assert.Empty(t, f.files(t))

	updated, err := f.svc.Update(context.Background(), ident("root", true), a.ID,
		dto.UpdateAnnouncementRequest{Body: strPtr("moderated")}, nil, AuditMeta{})
	require.NoError(t, err)
	assert.Equal(t, "moderated", updated.Body)
}

func TestUpdateAnnouncementValidatesMergedRecord(t *testing.T) {
	f := newAnnouncementFixture(t)
	a := f.create(t, ident("alice", false), nil)

	_, err := f.svc.Update(context.Background(), ident("alice", false), a.ID,
		dto.UpdateAnnouncementRequest{Body: strPtr("  ")}, uploadOf("x"), AuditMeta{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Empty(t, f.files(t))

	_, err = f.svc.Update(context.Background(), ident("alice", false), a.ID, dto.UpdateAnnouncementRequest{}, nil, AuditMeta{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestUpdateAnnouncementMissing(t *testing.T) {
	f := newAnnouncementFixture(t)
	_, err := f.svc.Update(context.Background(), ident("alice", false), "missing",
		dto.UpdateAnnouncementRequest{Title: strPtr("x")}, nil, AuditMeta{})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestUpdateAnnouncementReplacesAttachment(t *testing.T) {
	f := newAnnouncementFixture(t)
	owner := ident("alice", false)
	a := f.create(t, owner, uploadOf("v1"))
	oldName := *a.Attachment

	updated, err := f.svc.Update(context.Background(), owner, a.ID, dto.UpdateAnnouncementRequest{}, uploadOf("v2"), AuditMeta{})
	require.NoError(t, err)
	require.True(t, updated.HasAttachment())
	assert.NotEqual(t, oldName, *updated.Attachment)

	_, err = f.attachmentFixture.svc.Retrieve(context.Background(), oldName)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
	assert.Equal(t, "v2", string(readAll(t, f.attachmentFixture.svc, *updated.Attachment)))
	assert.Equal(t, []string{*updated.Attachment}, f.files(t))
}

func TestUpdateAnnouncementRollsBackStagedFile(t *testing.T) {
	f := newAnnouncementFixture(t)
	owner := ident("alice", false)
	a := f.create(t, owner, uploadOf("v1"))
	f.repo.writeErr = errors.New("commit failed")

	_, err := f.svc.Update(context.Background(), owner, a.ID, dto.UpdateAnnouncementRequest{Title: strPtr("x")}, uploadOf("v2"), AuditMeta{})
	assert.ErrorIs(t, err, appErrors.ErrStoreFailure)

	current, err := f.svc.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Title", current.Title)
	assert.Equal(t, *a.Attachment, *current.Attachment)
	assert.Equal(t, []string{*a.Attachment}, f.files(t))
}

func commitLost() error {
	return fmt.Errorf("commit announcement update: %w: %w", repository.ErrCommitUnknown, errors.New("connection reset"))
}

func TestUpdateAnnouncementKeepsFileWhenCommitLanded(t *testing.T) {
	f := newAnnouncementFixture(t)
	owner := ident("alice", false)
	a := f.create(t, owner, uploadOf("v1"))
	f.repo.commitErr = commitLost()

	updated, err := f.svc.Update(context.Background(), owner, a.ID, dto.UpdateAnnouncementRequest{}, uploadOf("v2"), AuditMeta{})
	require.NoError(t, err)
	require.True(t, updated.HasAttachment())

	current, err := f.svc.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, *updated.Attachment, *current.Attachment)
	assert.Equal(t, "v2", string(readAll(t, f.attachmentFixture.svc, *current.Attachment)))
	assert.Equal(t, []string{*current.Attachment}, f.files(t))
}

func TestUpdateAnnouncementRollsBackWhenCommitDidNotLand(t *testing.T) {
	f := newAnnouncementFixture(t)
	owner := ident("alice", false)
	a := f.create(t, owner, uploadOf("v1"))
	f.repo.writeErr = commitLost()

	_, err := f.svc.Update(context.Background(), owner, a.ID, dto.UpdateAnnouncementRequest{}, uploadOf("v2"), AuditMeta{})
	assert.ErrorIs(t, err, appErrors.ErrStoreFailure)

	current, err := f.svc.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, *a.Attachment, *current.Attachment)
	assert.Equal(t, []string{*a.Attachment}, f.files(t))
}

func TestUpdateAnnouncementKeepsBothFilesWhenOutcomeUnknown(t *testing.T) {
	f := newAnnouncementFixture(t)
	owner := ident("alice", false)
	a := f.create(t, owner, uploadOf("v1"))
	f.repo.commitErr = commitLost()
	f.repo.getErr = errors.New("connection refused")

	_, err := f.svc.Update(context.Background(), owner, a.ID, dto.UpdateAnnouncementRequest{}, uploadOf("v2"), AuditMeta{})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.True(t, appErr.CleanupRequired)

	files := f.files(t)
	assert.Len(t, files, 2)
	assert.Contains(t, files, *a.Attachment)
	assert.Empty(t, f.orphans.names())
}

func TestMalformedAnnouncementIDIsNotFound(t *testing.T) {
	f := newAnnouncementFixture(t)
	owner := ident("alice", false)
	f.create(t, owner, uploadOf("v1"))
	f.repo.getErr = errors.New("must not reach the store")
	ctx := context.Background()

	_, err := f.svc.Get(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = f.svc.Update(ctx, owner, "not-a-uuid", dto.UpdateAnnouncementRequest{Title: strPtr("x")}, uploadOf("v2"), AuditMeta{})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	assert.ErrorIs(t, f.svc.Delete(ctx, owner, "not-a-uuid", AuditMeta{}), appErrors.ErrNotFound)

	_, err = f.svc.DownloadAttachment(ctx, nil, "not-a-uuid")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	assert.Len(t, f.files(t), 1)
}

func TestDeleteAnnouncementRemovesFile(t *testing.T) {
	f := newAnnouncementFixture(t)
	owner := ident("alice", false)
	a := f.create(t, owner, uploadOf("data"))

	require.NoError(t, f.svc.Delete(context.Background(), owner, a.ID, AuditMeta{}))

	_, err := f.svc.Get(context.Background(), a.ID)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
	assert.Empty(t, f.files(t))

	err = f.svc.Delete(context.Background(), owner, a.ID, AuditMeta{})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestDeleteAnnouncementOwnership(t *testing.T) {
	f := newAnnouncementFixture(t)
	a := f.create(t, ident("alice", false), uploadOf("data"))

	err := f.svc.Delete(context.Background(), ident("bob", false), a.ID, AuditMeta{})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
	_, err = f.svc.Get(context.Background(), a.ID)
	assert.NoError(t, err)
	assert.Len(t, f.files(t), 1)
}

func TestDeleteAnnouncementFileFailureReportsOrphan(t *testing.T) {
	f := newAnnouncementFixture(t)
	owner := ident("alice", false)
	a := f.create(t, owner, uploadOf("data"))
	f.store.setDeleteErr(errors.New("permission denied"))

	require.NoError(t, f.svc.Delete(context.Background(), owner, a.ID, AuditMeta{}))
	_, err := f.svc.Get(context.Background(), a.ID)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
	assert.Equal(t, []string{*a.Attachment}, f.orphans.names())
}

func TestDownloadAttachmentVisibility(t *testing.T) {
	f := newAnnouncementFixture(t)
	owner := ident("alice", false)
	private, err := f.svc.Create(context.Background(), owner,
		dto.CreateAnnouncementRequest{Title: "t", Body: "b", IsPublic: boolPtr(false)}, uploadOf("secret"), AuditMeta{})
	require.NoError(t, err)
	bare := f.create(t, owner, nil)

	_, err = f.svc.DownloadAttachment(context.Background(), nil, private.ID)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	dl, err := f.svc.DownloadAttachment(context.Background(), ident("bob", false), private.ID)
	require.NoError(t, err)
	dl.Body.Close()

	_, err = f.svc.DownloadAttachment(context.Background(), owner, bare.ID)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestConcurrentUpdatesNeverTear(t *testing.T) {
	f := newAnnouncementFixture(t)
	owner := ident("alice", false)
	a := f.create(t, owner, uploadOf("initial"))

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			label := fmt.Sprintf("writer-%d", i)
			_, err := f.svc.Update(context.Background(), owner, a.ID,
				dto.UpdateAnnouncementRequest{Title: strPtr(label), Body: strPtr(label)}, uploadOf(label), AuditMeta{})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	final, err := f.svc.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, final.Title, final.Body)
	assert.Equal(t, final.Title, string(readAll(t, f.attachmentFixture.svc, *final.Attachment)))
	assert.Equal(t, []string{*final.Attachment}, f.files(t))
}
