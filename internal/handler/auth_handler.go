package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/board-api/internal/middleware"
	"github.com/noah-isme/board-api/internal/models"
	"github.com/noah-isme/board-api/internal/service"
	appErrors "github.com/noah-isme/board-api/pkg/errors"
	"github.com/noah-isme/board-api/pkg/response"
)

type authService interface {
	Register(ctx context.Context, req models.RegisterRequest) (*models.User, error)
	Login(ctx context.Context, req models.LoginRequest, previousToken string) (*models.LoginResponse, error)
	Logout(ctx context.Context, token string, identity *models.SessionIdentity, meta service.AuditMeta) error
	ChangePassword(ctx context.Context, identity *models.SessionIdentity, req models.ChangePasswordRequest, meta service.AuditMeta) error
}

// CookieOptions controls the session cookie set at login.
type CookieOptions struct {
	Name   string
	Secure bool
	MaxAge time.Duration
}

// AuthHandler wires HTTP endpoints to the auth service.
type AuthHandler struct {
	service authService
	cookie  CookieOptions
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(svc authService, cookie CookieOptions) *AuthHandler {
	return &AuthHandler{service: svc, cookie: cookie}
}

// Register godoc
// @Summary Register account
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.RegisterRequest true "Registration payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid registration payload"))
		return
	}
	req.IP = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	user, err := h.service.Register(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, user.Info(), "registration successful")
}

// Login godoc
// @Summary Authenticate user
// @Description Verifies credentials and opens a session. The token is returned and set as an HTTP-only cookie.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.LoginRequest true "Login payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid login payload"))
		return
	}
	req.IP = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	res, err := h.service.Login(c.Request.Context(), req, middleware.SessionToken(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	h.setCookie(c, res.Token, int(h.cookie.MaxAge.Seconds()))
	response.JSON(c, http.StatusOK, res, "login successful")
}

// Logout godoc
// @Summary Logout current session
// @Description Destroys the presented session. Succeeds when no session is presented.
// @Tags Authentication
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	if token := middleware.SessionToken(c); token != "" {
		if err := h.service.Logout(c.Request.Context(), token, identityFromContext(c), auditMeta(c)); err != nil {
			response.Error(c, err)
			return
		}
	}
	h.setCookie(c, "", -1)
	response.JSON(c, http.StatusOK, nil, "logged out")
}

// Me godoc
// @Summary Current identity
// @Tags Authentication
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	identity := identityFromContext(c)
	if identity == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	response.JSON(c, http.StatusOK, identity.Info())
}

// ChangePassword godoc
// @Summary Change password
// @Description Changes the caller's password and ends all of their sessions.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.ChangePasswordRequest true "Change password"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/change-password [post]
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req models.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	if err := h.service.ChangePassword(c.Request.Context(), identityFromContext(c), req, auditMeta(c)); err != nil {
		response.Error(c, err)
		return
	}
	h.setCookie(c, "", -1)
	response.JSON(c, http.StatusOK, nil, "password changed, please log in again")
}

func (h *AuthHandler) setCookie(c *gin.Context, value string, maxAge int) {
	if h.cookie.Name == "" {
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookie.Name, value, maxAge, "/", "", h.cookie.Secure, true)
}
