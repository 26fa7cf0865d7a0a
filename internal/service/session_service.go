package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/board-api/internal/models"
	"github.com/noah-isme/board-api/internal/repository"
	appErrors "github.com/noah-isme/board-api/pkg/errors"
)

const (
	tokenBytes = 32
	// tokenLength is the encoded length of a tokenBytes token.
	tokenLength = 43
)

type sessionUserLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// SessionService issues and resolves opaque server-side session tokens.
type SessionService struct {
	store  repository.SessionStore
	users  sessionUserLookup
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewSessionService constructs a SessionService.
func NewSessionService(store repository.SessionStore, users sessionUserLookup, ttl time.Duration, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionService{store: store, users: users, ttl: ttl, logger: logger, now: time.Now}
}

// TTL returns the lifetime of newly created sessions.
func (s *SessionService) TTL() time.Duration { return s.ttl }

// CreateSession binds a fresh token to the user's identity.
func (s *SessionService) CreateSession(ctx context.Context, user *models.User) (string, *models.SessionIdentity, error) {
	token, err := generateToken()
	if err != nil {
		return "", nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate session token")
	}
	now := s.now().UTC()
	identity := models.SessionIdentity{
		UserID:    user.ID,
		Username:  user.Username,
		IsAdmin:   user.IsAdmin,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.store.Save(ctx, token, identity, s.ttl); err != nil {
		return "", nil, appErrors.Wrap(err, appErrors.ErrStoreFailure.Code, appErrors.ErrStoreFailure.Status, "failed to persist session")
	}
	return token, &identity, nil
}

// Resolve maps a token to its identity. Unknown, expired or malformed tokens
// resolve to nil (anonymous). A session whose user vanished is destroyed.
func (s *SessionService) Resolve(ctx context.Context, token string) (*models.SessionIdentity, error) {
	if !wellFormedToken(token) {
		return nil, nil
	}
	identity, err := s.store.Get(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStoreFailure.Code, appErrors.ErrStoreFailure.Status, "failed to load session")
	}
	if !identity.ExpiresAt.IsZero() && !s.now().Before(identity.ExpiresAt) {
		s.destroyQuietly(ctx, token)
		return nil, nil
	}

	user, err := s.users.FindByID(ctx, identity.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Info("destroying session of missing user", zap.String("user_id", identity.UserID))
			s.destroyQuietly(ctx, token)
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStoreFailure.Code, appErrors.ErrStoreFailure.Status, "failed to load session user")
	}
	identity.Username = user.Username
	identity.IsAdmin = user.IsAdmin
	return identity, nil
}

// Destroy invalidates a token. Destroying an unknown token is not an error.
func (s *SessionService) Destroy(ctx context.Context, token string) error {
	if !wellFormedToken(token) {
		return nil
	}
	if err := s.store.Delete(ctx, token); err != nil {
		return appErrors.Wrap(err, appErrors.ErrStoreFailure.Code, appErrors.ErrStoreFailure.Status, "failed to destroy session")
	}
	return nil
}

// DestroyUser invalidates every session of userID.
func (s *SessionService) DestroyUser(ctx context.Context, userID string) error {
	if err := s.store.DeleteUser(ctx, userID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrStoreFailure.Code, appErrors.ErrStoreFailure.Status, "failed to revoke sessions")
	}
	return nil
}

func (s *SessionService) destroyQuietly(ctx context.Context, token string) {
	if err := s.store.Delete(ctx, token); err != nil {
		s.logger.Warn("failed to destroy stale session", zap.Error(err))
	}
}

func generateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func wellFormedToken(token string) bool {
	if len(token) != tokenLength {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(token)
	return err == nil
}
