package main

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/trackersync/internal/config"
	"github.com/huangang/trackersync/internal/handlers"
	"github.com/huangang/trackersync/internal/middleware"
	"github.com/huangang/trackersync/internal/services"
	"github.com/huangang/trackersync/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, cfg *config.Config, svc *appServices) {
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS(cfg.Server.CORSOrigins))
	if svc.limiter != nil {
		r.Use(svc.limiter.Middleware())
	}

	healthHandler := handlers.NewHealthHandler(svc.db, cfg, svc.taskQueue)
	r.GET("/health", healthHandler.CheckHealth)

	authHandler := handlers.NewAuthHandler(cfg)
	issueHandler := handlers.NewIssueHandler(svc.db, cfg)
	syncHandler := handlers.NewSyncHandler(svc.taskQueue, svc.coordinator, services.NewIssueService(svc.db, cfg))
	searchHandler := handlers.NewSearchHandler(svc.searcher)
	systemLogHandler := handlers.NewSystemLogHandler(svc.db)

	api := r.Group("/api")
	{
		api.POST("/auth/token", middleware.AuditLog(), authHandler.Token)

		// Read access for any authenticated client
		protected := api.Group("")
		protected.Use(middleware.AuthRequired())
		{
			protected.GET("/sync/schedules", syncHandler.Schedules)
			protected.GET("/issues", issueHandler.List)
			protected.GET("/issues/:external_id", issueHandler.Get)
			protected.GET("/issues/:external_id/payload", issueHandler.Payload)
			protected.GET("/issues/:external_id/diff", issueHandler.Diff)
			protected.POST("/search", searchHandler.Search)
		}

		operator := api.Group("")
		operator.Use(middleware.AuthRequired(), middleware.RoleRequired(middleware.RoleOperator), middleware.AuditLog())
		{
			operator.POST("/sync/:kind", syncHandler.Trigger)
		}

		admin := api.Group("")
		admin.Use(middleware.AuthRequired(), middleware.RoleRequired(middleware.RoleAdmin))
		{
			admin.GET("/system-logs", systemLogHandler.List)
			admin.GET("/system-logs/modules", systemLogHandler.GetModules)
		}
	}
}
