package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"cvforge/internal/api/middleware"
	"cvforge/internal/auth"
	"cvforge/internal/cache"
	"cvforge/internal/config"
	"cvforge/internal/document"
	"cvforge/internal/metrics"
	"cvforge/internal/sections"
	"cvforge/internal/storage"
	"cvforge/internal/validate"
)

// RegisterRoutes 注册 API 路由，不包含 /api 前缀。
func RegisterRoutes(
	router *gin.Engine,
	cfg *config.Config,
	db *gorm.DB,
	asynqClient *asynq.Client,
	authService *auth.AuthService,
	redisClient redis.UniversalClient,
	logger *slog.Logger,
	storageClient *storage.Client,
) {
	validator := validate.New()
	invalidator := cache.NewRedisInvalidator(redisClient, logger)
	store := document.NewStore(db, validator, invalidator, logger)

	sectionDeps := sections.Deps{
		DB:          db,
		Validator:   validator,
		Invalidator: invalidator,
		Observer:    metrics.SectionObserver{},
		Logger:      logger,
	}
	registry := NewSectionRegistry(sectionDeps)

	resumeHandler := NewResumeHandler(db, store, asynqClient, storageClient, redisClient, logger, cfg.Limits.MaxResumes)
	authHandler := NewAuthHandler(db, authService, redisClient, logger,
		cfg.Auth.LoginRateLimitPerHour, cfg.Auth.LoginLockThreshold, cfg.Auth.LoginLockTTL, cfg.API.CookieDomain)
	wsHandler := NewWsHandler(redisClient, authService, store, logger, nil)
	assetHandler := NewAssetHandler(storageClient, logger, cfg.API.ClamdAddr,
		cfg.Limits.MaxUploadBytes, cfg.Limits.MaxPhotosPerUser)
	templateHandler := NewTemplateHandler(db)
	authMiddleware := middleware.AuthMiddleware(authService)

	v1 := router.Group("/v1")
	{
		v1.GET("/ws", wsHandler.HandleConnection)

		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/refresh", authHandler.Refresh)
			authGroup.POST("/change-password", authMiddleware, authHandler.ChangePassword)
			authGroup.POST("/logout", authMiddleware, authHandler.Logout)
		}

		resumeGroup := v1.Group("/resumes")
		resumeGroup.Use(authMiddleware)
		{
			resumeGroup.GET("", resumeHandler.ListResumes)
			resumeGroup.POST("", resumeHandler.CreateResume)
			resumeGroup.GET("/latest", resumeHandler.GetLatestResume)
			resumeGroup.GET("/:id", resumeHandler.GetResume)
			resumeGroup.PUT("/:id", resumeHandler.UpdateResume)
			resumeGroup.DELETE("/:id", resumeHandler.DeleteResume)
			resumeGroup.GET("/:id/document", resumeHandler.GetDocument)
			resumeGroup.PUT("/:id/document", resumeHandler.PutDocument)
			resumeGroup.POST("/:id/export", resumeHandler.ExportResume)
			resumeGroup.GET("/:id/download-link", resumeHandler.GetDownloadLink)

			registry.Mount(resumeGroup)
		}

		templateGroup := v1.Group("/templates")
		templateGroup.Use(authMiddleware)
		{
			templateGroup.POST("", templateHandler.CreateTemplate)
			templateGroup.GET("", templateHandler.ListTemplates)
			templateGroup.GET("/:id", templateHandler.GetTemplate)
			templateGroup.DELETE("/:id", templateHandler.DeleteTemplate)
		}

		assetGroup := v1.Group("/assets")
		assetGroup.Use(authMiddleware)
		{
			assetGroup.POST("/upload", assetHandler.UploadAsset)
			assetGroup.GET("", assetHandler.ListAssets)
			assetGroup.GET("/view", assetHandler.GetAssetURL)
			assetGroup.DELETE("", assetHandler.DeleteAsset)
		}

		internalGroup := v1.Group("/internal")
		internalGroup.Use(middleware.InternalSecretMiddleware(cfg.API.InternalSecret))
		{
			internalGroup.GET("/resumes/:id/print", resumeHandler.PrintResume)
		}
	}
}
