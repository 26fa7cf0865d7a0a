package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/board-api/internal/models"
	appErrors "github.com/noah-isme/board-api/pkg/errors"
	"github.com/noah-isme/board-api/pkg/jobs"
	"github.com/noah-isme/board-api/pkg/storage"
)

const (
	sniffLen           = 3072
	maxOriginalNameLen = 100
	storedNameTime     = "20060102T150405Z"
	defaultContentType = "application/octet-stream"

	// OrphanCleanupJob is the job type handled by HandleCleanupJob.
	OrphanCleanupJob = "attachment.orphan.cleanup"
)

var errTooLarge = errors.New("attachment exceeds size limit")

// Upload is an incoming attachment. Size is the declared length or -1 when unknown.
type Upload struct {
	Filename    string
	Size        int64
	ContentType string
	Content     io.Reader
}

// AttachmentDownload is an opened stored attachment. Callers close Body.
type AttachmentDownload struct {
	Body        io.ReadCloser
	Size        int64
	Filename    string
	ContentType string
}

// AttachmentConfig holds validation parameters for uploads.
type AttachmentConfig struct {
	MaxFileSize  int64
	AllowedMIMEs []string
}

type orphanRepository interface {
	Create(ctx context.Context, orphan *models.AttachmentOrphan) error
	MarkResolved(ctx context.Context, id string, at time.Time) error
	ListUnresolved(ctx context.Context, limit int) ([]models.AttachmentOrphan, error)
}

type cleanupQueue interface {
	Enqueue(job jobs.Job) error
}

type orphanJob struct {
	OrphanID   string
	StoredName string
}

// AttachmentService owns the stored attachment files. Every stored name it
// hands out refers to a completely written file.
type AttachmentService struct {
	store   storage.BlobStore
	orphans orphanRepository
	queue   cleanupQueue
	metrics *MetricsService
	logger  *zap.Logger
	cfg     AttachmentConfig
	mimeSet map[string]struct{}
	now     func() time.Time
}

// NewAttachmentService constructs the service with defaults.
func NewAttachmentService(store storage.BlobStore, orphans orphanRepository, metrics *MetricsService, logger *zap.Logger, cfg AttachmentConfig) *AttachmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 10 * 1024 * 1024
	}
	mimeSet := make(map[string]struct{}, len(cfg.AllowedMIMEs))
	for _, mt := range cfg.AllowedMIMEs {
		mimeSet[strings.ToLower(strings.TrimSpace(mt))] = struct{}{}
	}
	return &AttachmentService{
		store:   store,
		orphans: orphans,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
		mimeSet: mimeSet,
		now:     time.Now,
	}
}

// SetCleanupQueue attaches the queue that receives orphan cleanup jobs.
func (s *AttachmentService) SetCleanupQueue(q cleanupQueue) {
	s.queue = q
}

// Save validates and stores the upload under a fresh unique name.
func (s *AttachmentService) Save(ctx context.Context, upload Upload) (string, error) {
	name, err := s.save(ctx, upload)
	s.metrics.RecordAttachmentOp("save", err)
	return name, err
}

func (s *AttachmentService) save(ctx context.Context, upload Upload) (string, error) {
	if upload.Content == nil {
		return "", appErrors.Clone(appErrors.ErrValidation, "file is required")
	}
	if upload.Size == 0 {
		return "", appErrors.Clone(appErrors.ErrValidation, "empty file")
	}
	if upload.Size > s.cfg.MaxFileSize {
		return "", appErrors.Clone(appErrors.ErrPayloadTooLarge, fmt.Sprintf("file exceeds %d bytes limit", s.cfg.MaxFileSize))
	}

	br := bufio.NewReaderSize(upload.Content, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return "", appErrors.Wrap(err, appErrors.ErrIOFailure.Code, appErrors.ErrIOFailure.Status, "failed to read upload")
	}
	if len(head) == 0 {
		return "", appErrors.Clone(appErrors.ErrValidation, "empty file")
	}
	contentType := s.contentType(upload, head)
	if len(s.mimeSet) > 0 {
		if _, ok := s.mimeSet[baseMediaType(contentType)]; !ok {
			return "", appErrors.Clone(appErrors.ErrValidation, "file type not allowed")
		}
	}

	name := s.newStoredName(upload.Filename)
	counter := &limitedReader{r: br, remaining: s.cfg.MaxFileSize}
	if err := s.store.Put(ctx, name, counter, contentType); err != nil {
		if errors.Is(err, errTooLarge) {
			return "", appErrors.Clone(appErrors.ErrPayloadTooLarge, fmt.Sprintf("file exceeds %d bytes limit", s.cfg.MaxFileSize))
		}
		s.logger.Error("failed to store attachment", zap.String("stored_name", name), zap.Error(err))
		return "", appErrors.Wrap(err, appErrors.ErrIOFailure.Code, appErrors.ErrIOFailure.Status, "failed to store attachment")
	}
	s.metrics.AddAttachmentBytes(counter.read)
	return name, nil
}

// Replacement is a staged attachment swap. Exactly one of Commit or Rollback
// must be called once the owning record's fate is known.
type Replacement struct {
	svc *AttachmentService
	old *string
	// New is the stored name of the freshly saved file.
	New string
}

// Replace saves the upload as a new file. The old file stays untouched until
// Commit, so a failed record update can fall back to it.
func (s *AttachmentService) Replace(ctx context.Context, old *string, upload Upload) (*Replacement, error) {
	name, err := s.Save(ctx, upload)
	if err != nil {
		return nil, err
	}
	var previous *string
	if old != nil && *old != "" && *old != name {
		value := *old
		previous = &value
	}
	return &Replacement{svc: s, old: previous, New: name}, nil
}

// Commit releases the old file. A failed delete is reported as an orphan and
// never returned, since the record already points at the new file.
func (r *Replacement) Commit(ctx context.Context) {
	if r == nil || r.old == nil {
		return
	}
	r.svc.Discard(ctx, *r.old, "replaced attachment could not be deleted")
}

// Rollback deletes the new file. It returns an error when the file could not
// be deleted and was reported as an orphan instead.
func (r *Replacement) Rollback(ctx context.Context) error {
	if r == nil {
		return nil
	}
	if !r.svc.Discard(ctx, r.New, "rollback of staged attachment failed") {
		return appErrors.WithCleanup(appErrors.Clone(appErrors.ErrIOFailure, "staged attachment could not be removed"))
	}
	return nil
}

// Delete removes a stored file. Absent files are not an error.
func (s *AttachmentService) Delete(ctx context.Context, name string) error {
	err := s.store.Delete(ctx, name)
	s.metrics.RecordAttachmentOp("delete", err)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidName) {
			return appErrors.Clone(appErrors.ErrValidation, "invalid attachment name")
		}
		return appErrors.Wrap(err, appErrors.ErrIOFailure.Code, appErrors.ErrIOFailure.Status, "failed to delete attachment")
	}
	return nil
}

// Discard deletes name, reporting it as an orphan on failure. It reports
// whether the file is gone.
func (s *AttachmentService) Discard(ctx context.Context, name, reason string) bool {
	ctx = context.WithoutCancel(ctx)
	if err := s.Delete(ctx, name); err != nil {
		s.ReportOrphan(ctx, name, fmt.Sprintf("%s: %v", reason, err))
		return false
	}
	return true
}

// Retrieve opens a stored file. Unknown and malformed names are NotFound.
func (s *AttachmentService) Retrieve(ctx context.Context, name string) (*AttachmentDownload, error) {
	obj, err := s.store.Open(ctx, name)
	s.metrics.RecordAttachmentOp("retrieve", err)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) || errors.Is(err, storage.ErrInvalidName) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "attachment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrIOFailure.Code, appErrors.ErrIOFailure.Status, "failed to open attachment")
	}
	original := OriginalName(name)
	contentType := obj.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(strings.ToLower(filepath.Ext(original)))
	}
	if contentType == "" {
		contentType = defaultContentType
	}
	return &AttachmentDownload{Body: obj.Body, Size: obj.Size, Filename: original, ContentType: contentType}, nil
}

// ReportOrphan records a file no live record references so it can be removed
// out of band.
func (s *AttachmentService) ReportOrphan(ctx context.Context, name, reason string) {
	ctx = context.WithoutCancel(ctx)
	s.logger.Warn("attachment orphaned", zap.String("stored_name", name), zap.String("reason", reason))
	s.metrics.RecordOrphan("reported")

	orphan := &models.AttachmentOrphan{StoredName: name, Reason: reason}
	if s.orphans != nil {
		if err := s.orphans.Create(ctx, orphan); err != nil {
			s.logger.Error("failed to record attachment orphan", zap.String("stored_name", name), zap.Error(err))
		}
	}
	s.enqueueCleanup(orphan)
}

func (s *AttachmentService) enqueueCleanup(orphan *models.AttachmentOrphan) {
	if s.queue == nil {
		return
	}
	err := s.queue.Enqueue(jobs.Job{
		ID:      orphan.ID,
		Type:    OrphanCleanupJob,
		Payload: orphanJob{OrphanID: orphan.ID, StoredName: orphan.StoredName},
	})
	if err != nil {
		s.logger.Warn("failed to enqueue orphan cleanup", zap.String("stored_name", orphan.StoredName), zap.Error(err))
	}
}

// HandleCleanupJob deletes an orphaned file and marks it resolved. Returned
// errors make the queue retry.
func (s *AttachmentService) HandleCleanupJob(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(orphanJob)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", job.Payload, job.Type)
	}
	if err := s.Delete(ctx, payload.StoredName); err != nil {
		return err
	}
	if s.orphans != nil && payload.OrphanID != "" {
		if err := s.orphans.MarkResolved(ctx, payload.OrphanID, s.now().UTC()); err != nil {
			return err
		}
	}
	s.metrics.RecordOrphan("resolved")
	s.logger.Info("orphaned attachment removed", zap.String("stored_name", payload.StoredName))
	return nil
}

// CleanupAbandoned is invoked when a cleanup job ran out of retries. The
// orphan row stays unresolved for the next RequeueUnresolved.
func (s *AttachmentService) CleanupAbandoned(job jobs.Job, err error) {
	s.metrics.RecordOrphan("abandoned")
	s.logger.Error("giving up on orphaned attachment", zap.String("job_id", job.ID), zap.Error(err))
}

// RequeueUnresolved enqueues cleanup for orphans recorded by earlier runs.
func (s *AttachmentService) RequeueUnresolved(ctx context.Context, limit int) (int, error) {
	if s.orphans == nil {
		return 0, nil
	}
	pending, err := s.orphans.ListUnresolved(ctx, limit)
	if err != nil {
		return 0, err
	}
	for i := range pending {
		s.enqueueCleanup(&pending[i])
	}
	return len(pending), nil
}

func (s *AttachmentService) contentType(upload Upload, head []byte) string {
	detected := mimetype.Detect(head).String()
	if detected == defaultContentType && upload.ContentType != "" {
		return upload.ContentType
	}
	return detected
}

func (s *AttachmentService) newStoredName(original string) string {
	return fmt.Sprintf("%s_%s_%s", s.now().UTC().Format(storedNameTime), uuid.NewString(), sanitizeFilename(original))
}

// OriginalName recovers the sanitized client filename from a stored name.
func OriginalName(stored string) string {
	parts := strings.SplitN(stored, "_", 3)
	if len(parts) == 3 && parts[2] != "" {
		return parts[2]
	}
	return stored
}

// sanitizeFilename keeps a conservative character set so the result is a
// valid storage name on every backend.
func sanitizeFilename(raw string) string {
	raw = filepath.Base(strings.ReplaceAll(raw, "\\", "/"))
	var b strings.Builder
	lastDot := false
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
			lastDot = false
		case r == '.':
			if !lastDot {
				b.WriteRune(r)
			}
			lastDot = true
		default:
			b.WriteRune('_')
			lastDot = false
		}
	}
	name := strings.Trim(b.String(), "._")
	for len(name) > maxOriginalNameLen {
		_, size := utf8.DecodeLastRuneInString(name)
		name = name[:len(name)-size]
	}
	name = strings.TrimRight(name, ".")
	if name == "" {
		return "file"
	}
	return name
}

func baseMediaType(contentType string) string {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		return strings.ToLower(mt)
	}
	return strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
}

type limitedReader struct {
	r         io.Reader
	remaining int64
	read      int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.read += int64(n)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, errTooLarge
	}
	return n, err
}
