package handler

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/board-api/internal/middleware"
	"github.com/noah-isme/board-api/internal/models"
	"github.com/noah-isme/board-api/internal/service"
	"github.com/noah-isme/board-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/board-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/board-api/pkg/middleware/requestid"
)

// RouterConfig collects everything the HTTP layer needs.
type RouterConfig struct {
	APIPrefix      string
	AllowedOrigins []string
	CookieName     string
	EnableDocs     bool

	Logger       *zap.Logger
	Metrics      *service.MetricsService
	Audit        *service.AuditService
	Sessions     *service.SessionService
	LoginLimiter *middleware.IPRateLimiter

	Auth          *AuthHandler
	Announcements *AnnouncementHandler
	Users         *UserHandler
	Observability *MetricsHandler
}

// NewRouter builds the gin engine with the middleware chain and all routes.
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(cfg.Logger))
	r.Use(middleware.Metrics(cfg.Metrics))
	r.Use(corsmiddleware.New(cfg.AllowedOrigins))

	r.GET("/health", cfg.Observability.Health)
	r.GET("/ready", cfg.Observability.Ready)
	r.GET("/metrics", cfg.Observability.Prometheus)
	if cfg.EnableDocs {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.Session(cfg.Sessions, cfg.CookieName))

	auth := api.Group("/auth")
	auth.POST("/register", cfg.LoginLimiter.Middleware(), cfg.Auth.Register)
	auth.POST("/login", cfg.LoginLimiter.Middleware(), cfg.Auth.Login)
	auth.POST("/logout", cfg.Auth.Logout)
	auth.GET("/me", middleware.RequireAuth(), cfg.Auth.Me)
	auth.POST("/change-password", middleware.RequireAuth(), cfg.LoginLimiter.Middleware(), cfg.Auth.ChangePassword)

	announcements := api.Group("/announcements")
	announcements.GET("", cfg.Announcements.List)
	announcements.GET("/:id", cfg.Announcements.Get)
	announcements.GET("/:id/attachment",
		middleware.Audit(cfg.Audit, models.AuditActionAttachmentDownload, "announcement"),
		cfg.Announcements.Download)
	announcements.POST("", middleware.RequireAuth(), cfg.Announcements.Create)
	announcements.PUT("/:id", middleware.RequireAuth(), cfg.Announcements.Update)
	announcements.PATCH("/:id", middleware.RequireAuth(), cfg.Announcements.Update)
	announcements.DELETE("/:id", middleware.RequireAuth(), cfg.Announcements.Delete)

	if cfg.Users != nil {
		api.GET("/users", middleware.RequireAdmin(), cfg.Users.List)
	}

	return r
}
