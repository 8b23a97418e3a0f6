package main

import (
	"github.com/huangang/trackersync/internal/config"
	"github.com/huangang/trackersync/internal/handlers"
	"github.com/huangang/trackersync/internal/middleware"
	"github.com/huangang/trackersync/internal/models"
	"github.com/huangang/trackersync/internal/services"
	"github.com/huangang/trackersync/internal/services/embedding"
	"github.com/huangang/trackersync/internal/utils"
	"github.com/huangang/trackersync/pkg/logger"
	"gorm.io/gorm"
)

// appServices holds the long-lived components shared by the routes.
type appServices struct {
	db          *gorm.DB
	coordinator *services.RefreshCoordinator
	searcher    handlers.Searcher
	taskQueue   services.TaskQueue
	worker      *services.Worker
	scheduler   *services.SyncScheduler
	limiter     *middleware.RateLimiter
}

// bootstrap opens the store and starts the queue, worker and schedulers.
func bootstrap(cfg *config.Config) *appServices {
	utils.SetJWTSecret(cfg.JWT.Secret)

	if err := models.InitDB(&cfg.Database); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}
	db := models.GetDB()

	services.InitSystemLogger(db)
	services.StartLogCleanupScheduler(db, cfg.Log.RetentionDays)

	var refresher embedding.Refresher
	var searcher handlers.Searcher
	if embeddingService, err := services.NewEmbeddingService(db, cfg); err != nil {
		logger.Warn().Err(err).Msg("Embedding backend unavailable, semantic search disabled")
	} else {
		refresher = embeddingService
		searcher = embeddingService
	}
	coordinator := services.NewRefreshCoordinator(db, cfg, refresher)

	// Redis queue when enabled, otherwise in-process
	taskQueue := services.InitTaskQueue(cfg)
	if syncQueue, ok := taskQueue.(*services.SyncQueue); ok {
		syncQueue.SetProcessor(coordinator.Process)
	}

	var worker *services.Worker
	if taskQueue.IsAsync() {
		worker = services.InitWorker(&cfg.Redis)
		if worker != nil {
			worker.SetProcessor(coordinator.Process)
			if err := worker.Start(); err != nil {
				logger.Error().Err(err).Msg("Failed to start sync worker")
			}
		}
	}

	scheduler := services.NewSyncScheduler(&cfg.Sync, taskQueue)
	scheduler.Start()

	var limiter *middleware.RateLimiter
	if cfg.Server.RateLimit > 0 {
		limiter = middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
	}

	return &appServices{
		db:          db,
		coordinator: coordinator,
		searcher:    searcher,
		taskQueue:   taskQueue,
		worker:      worker,
		scheduler:   scheduler,
		limiter:     limiter,
	}
}

// shutdown stops the scheduler first, then drains the queue.
func (s *appServices) shutdown() {
	s.scheduler.Stop()
	logger.Info().Msg("Scheduler stopped")

	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.worker != nil {
		s.worker.Stop()
	}
	if s.taskQueue != nil {
		if err := s.taskQueue.Close(); err != nil {
			logger.Warn().Err(err).Msg("Task queue close failed")
		}
	}
}
