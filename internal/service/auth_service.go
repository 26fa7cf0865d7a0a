package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/board-api/internal/models"
	"github.com/noah-isme/board-api/internal/repository"
	appErrors "github.com/noah-isme/board-api/pkg/errors"
)

const (
	invalidCredentialsMessage = "invalid username or password"
	maxPasswordBytes          = 72
)

type authUserRepository interface {
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
}

type authSessions interface {
	CreateSession(ctx context.Context, user *models.User) (string, *models.SessionIdentity, error)
	Destroy(ctx context.Context, token string) error
	DestroyUser(ctx context.Context, userID string) error
}

// AuthService provides registration, credential verification and login flows.
type AuthService struct {
	repo      authUserRepository
	sessions  authSessions
	audit     *AuditService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cost      int

	dummyOnce sync.Once
	dummyHash []byte
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(repo authUserRepository, sessions authSessions, audit *AuditService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	svc := &AuthService{
		repo:      repo,
		sessions:  sessions,
		audit:     audit,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cost:      bcrypt.DefaultCost,
	}
	// bcrypt reads at most 72 bytes; the max tag would count runes.
	svc.validator.RegisterValidation("password_bytes", func(fl validator.FieldLevel) bool { //nolint:errcheck
		return len(fl.Field().String()) <= maxPasswordBytes
	})
	return svc
}

// Register creates a non-admin account.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (*models.User, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}

	user, err := s.createUser(ctx, req.Username, req.Email, req.Password, false)
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, &user.ID, models.AuditActionRegister, "user", &user.ID,
		map[string]string{"username": user.Username}, AuditMeta{IP: req.IP, UserAgent: req.UserAgent})
	return user, nil
}

func (s *AuthService) createUser(ctx context.Context, username, email, password string, admin bool) (*models.User, error) {
	if err := s.ensureAvailable(ctx, username, email); err != nil {
		return nil, err
	}

	hash, err := s.hashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		IsAdmin:      admin,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "username or email already registered")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStoreFailure.Code, appErrors.ErrStoreFailure.Status, "failed to create user")
	}
	return user, nil
}

func (s *AuthService) ensureAvailable(ctx context.Context, username, email string) error {
	if _, err := s.repo.FindByUsername(ctx, username); err == nil {
		return appErrors.Clone(appErrors.ErrConflict, "username already registered")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return appErrors.Wrap(err, appErrors.ErrStoreFailure.Code, appErrors.ErrStoreFailure.Status, "failed to check username")
	}
	if _, err := s.repo.FindByEmail(ctx, email); err == nil {
		return appErrors.Clone(appErrors.ErrConflict, "email already registered")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return appErrors.Wrap(err, appErrors.ErrStoreFailure.Code, appErrors.ErrStoreFailure.Status, "failed to check email")
	}
	return nil
}

// Verify checks credentials. A missing user and a wrong password produce the
// same error, and both paths run one bcrypt comparison.
func (s *AuthService) Verify(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.repo.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			_ = bcrypt.CompareHashAndPassword(s.dummy(), []byte(password))
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, invalidCredentialsMessage)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStoreFailure.Code, appErrors.ErrStoreFailure.Status, "failed to fetch user")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, invalidCredentialsMessage)
	}
	return user, nil
}

// Login verifies credentials and opens a session. previousToken, when set, is
// the token the same client already holds and is destroyed first.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest, previousToken string) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.Verify(ctx, req.Username, req.Password)
	if err != nil {
		s.metrics.RecordLogin(false)
		return nil, err
	}

	if previousToken != "" {
		if err := s.sessions.Destroy(ctx, previousToken); err != nil {
			s.logger.Warn("failed to destroy previous session", zap.Error(err))
		}
	}

	token, identity, err := s.sessions.CreateSession(ctx, user)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordLogin(true)

	s.audit.Record(ctx, &user.ID, models.AuditActionLogin, "session", &user.ID,
		map[string]string{"status": "success"}, AuditMeta{IP: req.IP, UserAgent: req.UserAgent})

	return &models.LoginResponse{
		Token:     token,
		ExpiresAt: identity.ExpiresAt,
		User:      user.Info(),
	}, nil
}

// Logout destroys the token. It succeeds for unknown tokens.
func (s *AuthService) Logout(ctx context.Context, token string, identity *models.SessionIdentity, meta AuditMeta) error {
	if err := s.sessions.Destroy(ctx, token); err != nil {
		return err
	}
	if identity != nil {
		s.audit.Record(ctx, &identity.UserID, models.AuditActionLogout, "session", &identity.UserID, nil, meta)
	}
	return nil
}

// ChangePassword replaces the caller's password and revokes all of their sessions.
func (s *AuthService) ChangePassword(ctx context.Context, identity *models.SessionIdentity, req models.ChangePasswordRequest, meta AuditMeta) error {
	if decision := Authorize(identity, RequireAuthenticated()); !decision.Allowed() {
		return decision.Err
	}
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid change password payload")
	}

	user, err := s.repo.FindByID(ctx, identity.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrStoreFailure.Code, appErrors.ErrStoreFailure.Status, "failed to load user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.OldPassword)); err != nil {
		return appErrors.Clone(appErrors.ErrInvalidCredentials, "old password does not match")
	}

	newHash, err := s.hashPassword(req.NewPassword)
	if err != nil {
		return err
	}

	if err := s.repo.UpdatePassword(ctx, user.ID, string(newHash), time.Now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrStoreFailure.Code, appErrors.ErrStoreFailure.Status, "failed to update password")
	}

	if err := s.sessions.DestroyUser(ctx, user.ID); err != nil {
		s.logger.Warn("failed to revoke sessions after password change", zap.String("user_id", user.ID), zap.Error(err))
	}

	s.audit.Record(ctx, &user.ID, models.AuditActionPasswordChange, "user", &user.ID,
		map[string]string{"status": "changed"}, meta)
	return nil
}

// EnsureAdmin creates an administrator account when none with username exists.
// It reports whether an account was created.
func (s *AuthService) EnsureAdmin(ctx context.Context, username, email, password string) (bool, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(strings.ToLower(email))
	if username == "" || password == "" {
		return false, appErrors.Clone(appErrors.ErrValidation, "admin username and password are required")
	}
	if email == "" {
		email = username + "@admin.local"
	}

	existing, err := s.repo.FindByUsername(ctx, username)
	if err == nil {
		if !existing.IsAdmin {
			s.logger.Warn("configured admin username belongs to a regular account", zap.String("username", username))
		}
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, appErrors.Wrap(err, appErrors.ErrStoreFailure.Code, appErrors.ErrStoreFailure.Status, "failed to look up admin")
	}

	req := models.RegisterRequest{Username: username, Email: email, Password: password}
	if err := s.validator.Struct(req); err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid admin account settings")
	}
	user, err := s.createUser(ctx, username, email, password, true)
	if err != nil {
		return false, err
	}
	s.logger.Info("administrator account created", zap.String("username", user.Username))
	return true, nil
}

func (s *AuthService) hashPassword(password string) ([]byte, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "password must not exceed 72 bytes")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	return hash, nil
}

func (s *AuthService) dummy() []byte {
	s.dummyOnce.Do(func() {
		hash, err := bcrypt.GenerateFromPassword([]byte("timing-equalizer"), s.cost)
		if err != nil {
			s.logger.Warn("failed to build dummy hash", zap.Error(err))
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}
