package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/board-api/internal/middleware"
	"github.com/noah-isme/board-api/internal/models"
	"github.com/noah-isme/board-api/internal/service"
	appErrors "github.com/noah-isme/board-api/pkg/errors"
)

type authServiceMock struct {
	registerReq   models.RegisterRequest
	loginReq      models.LoginRequest
	previousToken string
	logoutToken   string
	logoutCalled  bool
	changeCalled  bool
	err           error
}

func (m *authServiceMock) Register(_ context.Context, req models.RegisterRequest) (*models.User, error) {
	m.registerReq = req
	if m.err != nil {
		return nil, m.err
	}
	return &models.User{ID: "u1", Username: req.Username, Email: req.Email, PasswordHash: "secret-hash"}, nil
}

func (m *authServiceMock) Login(_ context.Context, req models.LoginRequest, previousToken string) (*models.LoginResponse, error) {
	m.loginReq = req
	m.previousToken = previousToken
	if m.err != nil {
		return nil, m.err
	}
	return &models.LoginResponse{Token: "new-token", ExpiresAt: time.Now().Add(time.Hour), User: models.UserInfo{ID: "u1", Username: req.Username}}, nil
}

func (m *authServiceMock) Logout(_ context.Context, token string, _ *models.SessionIdentity, _ service.AuditMeta) error {
	m.logoutCalled = true
	m.logoutToken = token
	return m.err
}

func (m *authServiceMock) ChangePassword(_ context.Context, _ *models.SessionIdentity, _ models.ChangePasswordRequest, _ service.AuditMeta) error {
	m.changeCalled = true
	return m.err
}

var testCookie = CookieOptions{Name: "session_token", MaxAge: time.Hour}

func newAuthRouter(mockSvc *authServiceMock) *gin.Engine {
	gin.SetMode(gin.TestMode)
	handler := NewAuthHandler(mockSvc, testCookie)
	r := gin.New()
	r.Use(middleware.Session(noSessions{}, testCookie.Name))
	r.POST("/auth/register", handler.Register)
	r.POST("/auth/login", handler.Login)
	r.POST("/auth/logout", handler.Logout)
	r.GET("/auth/me", handler.Me)
	r.POST("/auth/change-password", handler.ChangePassword)
	return r
}

type noSessions struct{}

func (noSessions) Resolve(context.Context, string) (*models.SessionIdentity, error) { return nil, nil }

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestAuthHandlerRegisterHidesHash(t *testing.T) {
	mockSvc := &authServiceMock{}
	w := httptest.NewRecorder()
	newAuthRouter(mockSvc).ServeHTTP(w, jsonRequest(http.MethodPost, "/auth/register", `{"username":"alice","email":"a@example.com","password":"password1"}`))

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "alice", mockSvc.registerReq.Username)
	assert.NotContains(t, w.Body.String(), "secret-hash")
}

func TestAuthHandlerRegisterConflict(t *testing.T) {
	mockSvc := &authServiceMock{err: appErrors.ErrConflict}
	w := httptest.NewRecorder()
	newAuthRouter(mockSvc).ServeHTTP(w, jsonRequest(http.MethodPost, "/auth/register", `{"username":"alice","email":"a@example.com","password":"password1"}`))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAuthHandlerLoginSetsCookieAndReplacesPrevious(t *testing.T) {
	mockSvc := &authServiceMock{}
	req := jsonRequest(http.MethodPost, "/auth/login", `{"username":"alice","password":"password1"}`)
	req.AddCookie(&http.Cookie{Name: "session_token", Value: "old-token"})
	w := httptest.NewRecorder()
	newAuthRouter(mockSvc).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "old-token", mockSvc.previousToken)
	cookie := w.Header().Get("Set-Cookie")
	assert.Contains(t, cookie, "session_token=new-token")
	assert.Contains(t, cookie, "HttpOnly")
	assert.Contains(t, w.Body.String(), `"token":"new-token"`)
}

func TestAuthHandlerLoginInvalidCredentials(t *testing.T) {
	mockSvc := &authServiceMock{err: appErrors.ErrInvalidCredentials}
	w := httptest.NewRecorder()
	newAuthRouter(mockSvc).ServeHTTP(w, jsonRequest(http.MethodPost, "/auth/login", `{"username":"alice","password":"nope"}`))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, w.Header().Get("Set-Cookie"))
}

func TestAuthHandlerLogoutIsIdempotent(t *testing.T) {
	mockSvc := &authServiceMock{}
	w := httptest.NewRecorder()
	newAuthRouter(mockSvc).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, mockSvc.logoutCalled)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer tok")
	w = httptest.NewRecorder()
	newAuthRouter(mockSvc).ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "tok", mockSvc.logoutToken)
	assert.Contains(t, w.Header().Get("Set-Cookie"), "Max-Age=0")
}

func TestAuthHandlerMeAnonymous(t *testing.T) {
	w := httptest.NewRecorder()
	newAuthRouter(&authServiceMock{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthHandlerMe(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewAuthHandler(&authServiceMock{}, testCookie)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	c.Set(middleware.ContextUserKey, &models.SessionIdentity{UserID: "u1", Username: "alice", IsAdmin: true})

	handler.Me(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"username":"alice"`)
	assert.Contains(t, w.Body.String(), `"is_admin":true`)
}

func TestAuthHandlerChangePasswordClearsCookie(t *testing.T) {
	mockSvc := &authServiceMock{}
	w := httptest.NewRecorder()
	newAuthRouter(mockSvc).ServeHTTP(w, jsonRequest(http.MethodPost, "/auth/change-password", `{"old_password":"password1","new_password":"password2"}`))

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, mockSvc.changeCalled)
	assert.Contains(t, w.Header().Get("Set-Cookie"), "session_token=;")
}
