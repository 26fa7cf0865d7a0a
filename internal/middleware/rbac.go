package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/board-api/internal/service"
	"github.com/noah-isme/board-api/pkg/response"
)

// Require evaluates the authorization gate for the route. Owner requirements
// need the record and are checked by the services instead.
func Require(req service.Requirement) gin.HandlerFunc {
	return func(c *gin.Context) {
		decision := service.Authorize(CurrentIdentity(c), req)
		if !decision.Allowed() {
			response.Abort(c, decision.Err)
			return
		}
		c.Next()
	}
}

// RequireAuth admits any signed-in caller.
func RequireAuth() gin.HandlerFunc {
	return Require(service.RequireAuthenticated())
}

// RequireAdmin admits administrators only.
func RequireAdmin() gin.HandlerFunc {
	return Require(service.RequireAdmin())
}
