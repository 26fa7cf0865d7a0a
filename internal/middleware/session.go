package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/board-api/internal/models"
	"github.com/noah-isme/board-api/pkg/response"
)

// ContextUserKey is the gin context key storing the resolved session identity.
const ContextUserKey = "currentUser"

const contextTokenKey = "sessionToken"

type sessionResolver interface {
	Resolve(ctx context.Context, token string) (*models.SessionIdentity, error)
}

// Session resolves the presented token, if any, and attaches the identity.
// Requests without a valid session continue as anonymous.
func Session(resolver sessionResolver, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := TokenFromRequest(c, cookieName)
		if token == "" {
			c.Next()
			return
		}
		c.Set(contextTokenKey, token)

		identity, err := resolver.Resolve(c.Request.Context(), token)
		if err != nil {
			response.Abort(c, err)
			return
		}
		if identity != nil {
			c.Set(ContextUserKey, identity)
		}
		c.Next()
	}
}

// TokenFromRequest returns the bearer token, falling back to the session cookie.
func TokenFromRequest(c *gin.Context, cookieName string) string {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if cookieName == "" {
		return ""
	}
	if cookie, err := c.Cookie(cookieName); err == nil {
		return cookie
	}
	return ""
}

// CurrentIdentity returns the session identity or nil for anonymous callers.
func CurrentIdentity(c *gin.Context) *models.SessionIdentity {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil
	}
	identity, ok := value.(*models.SessionIdentity)
	if !ok {
		return nil
	}
	return identity
}

// SessionToken returns the token presented with the request, valid or not.
func SessionToken(c *gin.Context) string {
	return c.GetString(contextTokenKey)
}
