package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/board-api/internal/models"
	"github.com/noah-isme/board-api/pkg/response"
)

type userService interface {
	List(ctx context.Context, identity *models.SessionIdentity, filter models.UserFilter) ([]models.UserInfo, *models.Pagination, error)
}

// UserListResponse is a page of accounts.
type UserListResponse struct {
	Items      []models.UserInfo  `json:"items"`
	Pagination *models.Pagination `json:"pagination"`
}

// UserHandler exposes account administration endpoints.
type UserHandler struct {
	service userService
}

// NewUserHandler creates a new user handler.
func NewUserHandler(svc userService) *UserHandler {
	return &UserHandler{service: svc}
}

// List godoc
// @Summary List users
// @Description List accounts with pagination. Admin only.
// @Tags Users
// @Produce json
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security SessionToken
// @Router /users [get]
func (h *UserHandler) List(c *gin.Context) {
	var filter models.UserFilter
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil {
		filter.PageSize = size
	}

	users, pagination, err := h.service.List(c.Request.Context(), identityFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, UserListResponse{Items: users, Pagination: pagination})
}
