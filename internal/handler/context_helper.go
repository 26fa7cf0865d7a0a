package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/board-api/internal/middleware"
	"github.com/noah-isme/board-api/internal/models"
	"github.com/noah-isme/board-api/internal/service"
)

func identityFromContext(c *gin.Context) *models.SessionIdentity {
	return middleware.CurrentIdentity(c)
}

func auditMeta(c *gin.Context) service.AuditMeta {
	return service.AuditMeta{IP: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
}
