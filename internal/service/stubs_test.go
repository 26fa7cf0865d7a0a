package service

import (
	"context"
	"database/sql"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/board-api/internal/models"
	"github.com/noah-isme/board-api/internal/repository"
	"github.com/noah-isme/board-api/pkg/jobs"
	"github.com/noah-isme/board-api/pkg/storage"
)

type memUserRepo struct {
	mu        sync.Mutex
	users     map[string]*models.User
	creates   int
	createErr error
	findErr   error
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: map[string]*models.User{}}
}

func (r *memUserRepo) find(match func(*models.User) bool) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	for _, u := range r.users {
		if match(u) {
			clone := *u
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *memUserRepo) FindByUsername(_ context.Context, username string) (*models.User, error) {
	return r.find(func(u *models.User) bool { return u.Username == username })
}

func (r *memUserRepo) FindByEmail(_ context.Context, email string) (*models.User, error) {
	return r.find(func(u *models.User) bool { return u.Email == email })
}

func (r *memUserRepo) FindByID(_ context.Context, id string) (*models.User, error) {
	return r.find(func(u *models.User) bool { return u.ID == id })
}

func (r *memUserRepo) Create(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	for _, u := range r.users {
		if u.Username == user.Username || u.Email == user.Email {
			return repository.ErrDuplicate
		}
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.CreatedAt = time.Now().UTC()
	user.UpdatedAt = user.CreatedAt
	clone := *user
	r.users[user.ID] = &clone
	r.creates++
	return nil
}

func (r *memUserRepo) UpdatePassword(_ context.Context, id, hash string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	u.PasswordHash = hash
	u.UpdatedAt = at
	return nil
}

func (r *memUserRepo) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, id)
}

type memAuditRepo struct {
	mu      sync.Mutex
	entries []models.AuditLog
	err     error
}

func (r *memAuditRepo) Create(_ context.Context, log *models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.entries = append(r.entries, *log)
	return nil
}

func (r *memAuditRepo) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}

// faultyStore wraps a BlobStore and fails selected operations.
type faultyStore struct {
	storage.BlobStore
	mu        sync.Mutex
	failPut   error
	failDel   map[string]error
	deleteAll error
}

func (f *faultyStore) Put(ctx context.Context, name string, r io.Reader, ct string) error {
	f.mu.Lock()
	err := f.failPut
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.BlobStore.Put(ctx, name, r, ct)
}

func (f *faultyStore) Delete(ctx context.Context, name string) error {
	f.mu.Lock()
	err := f.deleteAll
	if e, ok := f.failDel[name]; ok {
		err = e
	}
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.BlobStore.Delete(ctx, name)
}

func (f *faultyStore) setDeleteErr(err error) {
	f.mu.Lock()
	f.deleteAll = err
	f.mu.Unlock()
}

type memOrphanRepo struct {
	mu       sync.Mutex
	orphans  []models.AttachmentOrphan
	resolved map[string]bool
}

func (r *memOrphanRepo) Create(_ context.Context, o *models.AttachmentOrphan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	r.orphans = append(r.orphans, *o)
	return nil
}

func (r *memOrphanRepo) MarkResolved(_ context.Context, id string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resolved == nil {
		r.resolved = map[string]bool{}
	}
	r.resolved[id] = true
	return nil
}

func (r *memOrphanRepo) ListUnresolved(_ context.Context, _ int) ([]models.AttachmentOrphan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.AttachmentOrphan{}
	for _, o := range r.orphans {
		if !r.resolved[o.ID] {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *memOrphanRepo) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.orphans))
	for _, o := range r.orphans {
		out = append(out, o.StoredName)
	}
	return out
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []jobs.Job
}

func (q *recordingQueue) Enqueue(job jobs.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) drain() []jobs.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.jobs
	q.jobs = nil
	return out
}

type memAnnouncementRepo struct {
	mu        sync.Mutex
	rows      map[string]models.Announcement
	locks     map[string]*sync.Mutex
	createErr error
	writeErr  error
	// commitErr is returned after the write was applied.
	commitErr error
	getErr    error
}

func newMemAnnouncementRepo() *memAnnouncementRepo {
	return &memAnnouncementRepo{rows: map[string]models.Announcement{}, locks: map[string]*sync.Mutex{}}
}

func (r *memAnnouncementRepo) rowLock(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

func (r *memAnnouncementRepo) List(_ context.Context) ([]models.Announcement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Announcement, 0, len(r.rows))
	for _, a := range r.rows {
		out = append(out, a)
	}
	return out, nil
}

func (r *memAnnouncementRepo) GetByID(_ context.Context, id string) (*models.Announcement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	return r.get(id)
}

func (r *memAnnouncementRepo) get(id string) (*models.Announcement, error) {
	a, ok := r.rows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &a, nil
}

func (r *memAnnouncementRepo) Create(_ context.Context, a *models.Announcement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = time.Now().UTC()
	a.UpdatedAt = a.CreatedAt
	r.rows[a.ID] = *a
	return nil
}

func (r *memAnnouncementRepo) UpdateWith(_ context.Context, id string, fn repository.UpdateFunc) (*models.Announcement, error) {
	lock := r.rowLock(id)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	current, err := r.get(id)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	next, err := fn(*current)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writeErr != nil {
		return nil, r.writeErr
	}
	next.ID = current.ID
	next.CreatedBy = current.CreatedBy
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = time.Now().UTC()
	r.rows[id] = *next
	if r.commitErr != nil {
		return nil, r.commitErr
	}
	return next, nil
}

func (r *memAnnouncementRepo) DeleteWith(_ context.Context, id string, fn repository.DeleteFunc) (*models.Announcement, error) {
	lock := r.rowLock(id)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	current, err := r.get(id)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := fn(*current); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writeErr != nil {
		return nil, r.writeErr
	}
	delete(r.rows, id)
	return current, nil
}
