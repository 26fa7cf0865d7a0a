package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/board-api/internal/service"
)

// Audit records an audit entry after successful requests. The route's :id
// parameter, when present, is stored as the resource id.
func Audit(audit *service.AuditService, action, resource string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now().UTC()
		c.Next()

		if c.Writer.Status() >= 400 {
			return
		}

		var userID *string
		if identity := CurrentIdentity(c); identity != nil {
			userID = &identity.UserID
		}
		var resourceID *string
		if id := c.Param("id"); id != "" {
			resourceID = &id
		}

		audit.Record(c.Request.Context(), userID, action, resource, resourceID, map[string]interface{}{
			"path":    c.FullPath(),
			"method":  c.Request.Method,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).Milliseconds(),
		}, service.AuditMeta{IP: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")})
	}
}
