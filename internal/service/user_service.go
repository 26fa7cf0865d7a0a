package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/board-api/internal/models"
	appErrors "github.com/noah-isme/board-api/pkg/errors"
)

const (
	defaultUserPageSize = 20
	maxUserPageSize     = 100
)

type userLister interface {
	List(ctx context.Context, limit, offset int) ([]models.User, int, error)
}

// UserService exposes account listing to administrators.
type UserService struct {
	repo   userLister
	logger *zap.Logger
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userLister, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{repo: repo, logger: logger}
}

// List returns a page of accounts without credential material.
func (s *UserService) List(ctx context.Context, identity *models.SessionIdentity, filter models.UserFilter) ([]models.UserInfo, *models.Pagination, error) {
	if decision := Authorize(identity, RequireAdmin()); !decision.Allowed() {
		return nil, nil, decision.Err
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = defaultUserPageSize
	}
	if pageSize > maxUserPageSize {
		pageSize = maxUserPageSize
	}

	users, total, err := s.repo.List(ctx, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrStoreFailure.Code, appErrors.ErrStoreFailure.Status, "failed to list users")
	}

	infos := make([]models.UserInfo, 0, len(users))
	for i := range users {
		infos = append(infos, users[i].Info())
	}
	return infos, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}
