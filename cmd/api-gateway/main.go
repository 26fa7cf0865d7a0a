package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/noah-isme/board-api/api/swagger"
	"github.com/noah-isme/board-api/internal/handler"
	"github.com/noah-isme/board-api/internal/middleware"
	"github.com/noah-isme/board-api/internal/repository"
	"github.com/noah-isme/board-api/internal/service"
	"github.com/noah-isme/board-api/pkg/cache"
	"github.com/noah-isme/board-api/pkg/config"
	"github.com/noah-isme/board-api/pkg/database"
	"github.com/noah-isme/board-api/pkg/jobs"
	"github.com/noah-isme/board-api/pkg/logger"
	"github.com/noah-isme/board-api/pkg/storage"
)

const (
	shutdownTimeout    = 15 * time.Second
	sessionSweepEvery  = 5 * time.Minute
	tempUploadMaxAge   = time.Hour
	orphanRequeueLimit = 500
	readHeaderTimeout  = 10 * time.Second
	orphanQueueName    = "attachment-orphans"
	sessionStorePrefix = "board"
)

// @title Board API
// @version 1.0.0
// @description Announcement board with server-side sessions and file attachments
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := run(cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close() //nolint:errcheck

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db.DB); err != nil {
			return err
		}
		logr.Info("database migrations applied")
	}

	checks := map[string]handler.ReadinessCheck{
		"database": func(ctx context.Context) error { return db.PingContext(ctx) },
	}

	sessionStore, closeSessions, err := newSessionStore(ctx, cfg, logr, checks)
	if err != nil {
		return err
	}
	defer closeSessions()

	blobStore, err := newBlobStore(ctx, cfg, logr)
	if err != nil {
		return err
	}

	metrics := service.NewMetricsService()
	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	announcementRepo := repository.NewAnnouncementRepository(db)
	orphanRepo := repository.NewOrphanRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	auditSvc := service.NewAuditService(auditRepo, logr)
	sessionSvc := service.NewSessionService(sessionStore, userRepo, cfg.Session.TTL, logr)
	authSvc := service.NewAuthService(userRepo, sessionSvc, auditSvc, metrics, validate, logr)
	attachmentSvc := service.NewAttachmentService(blobStore, orphanRepo, metrics, logr, service.AttachmentConfig{
		MaxFileSize:  cfg.Attachments.MaxFileSizeBytes,
		AllowedMIMEs: cfg.Attachments.AllowedMIMEs,
	})
	announcementSvc := service.NewAnnouncementService(announcementRepo, attachmentSvc, auditSvc, validate, logr)
	userSvc := service.NewUserService(userRepo, logr)

	orphanQueue := startOrphanQueue(ctx, cfg, logr, attachmentSvc)
	defer orphanQueue.Stop()

	if cfg.Admin.Username != "" && cfg.Admin.Password != "" {
		created, err := authSvc.EnsureAdmin(ctx, cfg.Admin.Username, cfg.Admin.Email, cfg.Admin.Password)
		if err != nil {
			return fmt.Errorf("ensure admin account: %w", err)
		}
		if !created {
			logr.Info("administrator account already present", zap.String("username", cfg.Admin.Username))
		}
	}

	router := handler.NewRouter(handler.RouterConfig{
		APIPrefix:      cfg.APIPrefix,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		CookieName:     cfg.Session.CookieName,
		EnableDocs:     cfg.Env != config.EnvProduction,
		Logger:         logr,
		Metrics:        metrics,
		Audit:          auditSvc,
		Sessions:       sessionSvc,
		LoginLimiter:   middleware.NewIPRateLimiter(cfg.LoginLimit.RatePerSecond, cfg.LoginLimit.Burst),
		Auth: handler.NewAuthHandler(authSvc, handler.CookieOptions{
			Name:   cfg.Session.CookieName,
			Secure: cfg.Session.CookieSecure,
			MaxAge: sessionSvc.TTL(),
		}),
		Announcements: handler.NewAnnouncementHandler(announcementSvc, cfg.APIPrefix, cfg.Attachments.MaxFileSizeBytes),
		Users:         handler.NewUserHandler(userSvc),
		Observability: handler.NewMetricsHandler(metrics, checks),
	})

	return serve(ctx, cfg, logr, router)
}

func newSessionStore(ctx context.Context, cfg *config.Config, logr *zap.Logger, checks map[string]handler.ReadinessCheck) (repository.SessionStore, func(), error) {
	switch cfg.Session.Store {
	case config.SessionStoreRedis:
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		checks["redis"] = func(ctx context.Context) error { return cache.Ping(ctx, client) }
		logr.Info("using redis session store", zap.String("addr", cache.Addr(cfg.Redis)))
		return repository.NewRedisSessionStore(client, sessionPrefix(cfg)), closeRedis(client, logr), nil
	case config.SessionStoreMemory, "":
		store := repository.NewMemorySessionStore()
		go sweepSessions(ctx, store, logr)
		logr.Info("using in-memory session store")
		return store, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown session store %q", cfg.Session.Store)
	}
}

func sessionPrefix(cfg *config.Config) string {
	if cfg.Session.KeyPrefix != "" {
		return cfg.Session.KeyPrefix
	}
	return sessionStorePrefix
}

func closeRedis(client *redis.Client, logr *zap.Logger) func() {
	return func() {
		if err := client.Close(); err != nil {
			logr.Warn("failed to close redis client", zap.Error(err))
		}
	}
}

func sweepSessions(ctx context.Context, store *repository.MemorySessionStore, logr *zap.Logger) {
	ticker := time.NewTicker(sessionSweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := store.Sweep(); removed > 0 {
				logr.Debug("expired sessions swept", zap.Int("removed", removed))
			}
		}
	}
}

func newBlobStore(ctx context.Context, cfg *config.Config, logr *zap.Logger) (storage.BlobStore, error) {
	switch cfg.Attachments.Driver {
	case config.AttachmentsDriverS3:
		store, err := storage.NewS3Storage(ctx, storage.S3Config{
			Region:    cfg.S3.Region,
			Bucket:    cfg.S3.Bucket,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Endpoint:  cfg.S3.Endpoint,
			Prefix:    cfg.S3.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("init s3 attachments: %w", err)
		}
		logr.Info("using s3 attachment storage", zap.String("bucket", cfg.S3.Bucket))
		return store, nil
	case config.AttachmentsDriverLocal, "":
		store, err := storage.NewLocalStorage(cfg.Attachments.StorageDir)
		if err != nil {
			return nil, fmt.Errorf("init local attachments: %w", err)
		}
		removed, err := store.CleanupTempFiles(tempUploadMaxAge)
		if err != nil {
			logr.Warn("failed to clean interrupted uploads", zap.Error(err))
		} else if len(removed) > 0 {
			logr.Info("removed interrupted uploads", zap.Int("count", len(removed)))
		}
		logr.Info("using local attachment storage", zap.String("dir", cfg.Attachments.StorageDir))
		return store, nil
	default:
		return nil, fmt.Errorf("unknown attachments driver %q", cfg.Attachments.Driver)
	}
}

func startOrphanQueue(ctx context.Context, cfg *config.Config, logr *zap.Logger, attachments *service.AttachmentService) *jobs.Queue {
	queue := jobs.NewQueue(orphanQueueName, attachments.HandleCleanupJob, jobs.QueueConfig{
		Workers:    cfg.Orphans.Workers,
		MaxRetries: cfg.Orphans.Retries,
		RetryDelay: cfg.Orphans.RetryDelay,
		Logger:     logr,
		OnGiveUp:   attachments.CleanupAbandoned,
	})
	queue.Start(ctx)
	attachments.SetCleanupQueue(queue)

	if n, err := attachments.RequeueUnresolved(ctx, orphanRequeueLimit); err != nil {
		logr.Warn("failed to requeue attachment orphans", zap.Error(err))
	} else if n > 0 {
		logr.Info("requeued attachment orphans", zap.Int("count", n))
	}
	return queue
}

func serve(ctx context.Context, cfg *config.Config, logr *zap.Logger, router http.Handler) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}
