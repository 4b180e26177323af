package main

import (
	"context"
	"time"

	"github.com/monkbot/gateway/internal/config"
	"github.com/monkbot/gateway/internal/handlers"
	"github.com/monkbot/gateway/internal/middleware"
	"github.com/monkbot/gateway/internal/models"
	"github.com/monkbot/gateway/internal/services"
	"github.com/monkbot/gateway/internal/utils"
	"github.com/monkbot/gateway/pkg/logger"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// appServices holds all initialized services and handlers needed by the application.
type appServices struct {
	db          *gorm.DB
	taskQueue   services.TaskQueue
	worker      *services.Worker
	scheduler   *services.Scheduler
	limiter     middleware.Limiter
	redisClient *redis.Client

	pluginHandler    *handlers.PluginHandler
	authHandler      *handlers.AuthHandler
	userHandler      *handlers.UserHandler
	adminHandler     *handlers.AdminHandler
	systemLogHandler *handlers.SystemLogHandler
	healthHandler    *handlers.HealthHandler
	metricsHandler   *handlers.MetricsHandler
}

// bootstrap initializes all application dependencies: database, services, schedulers.
func bootstrap(cfg *config.Config) *appServices {
	utils.SetJWTSecret(cfg.JWT.Secret)
	utils.SetServiceSecret(cfg.Admin.TokenSecret)

	// Initialize database
	if err := models.InitDB(&cfg.Database); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Auto migrate database
	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	db := models.GetDB()

	// Initialize system logger
	services.InitSystemLogger(db)

	keyService := services.NewKeyService(db, services.KeyPolicy{
		DefaultModel:    cfg.OpenAI.Model,
		DefaultCredits:  cfg.Credits.DefaultFree,
		FreeDomainLimit: cfg.Plans.FreeDomainLimit,
		RetainPlaintext: cfg.Keys.RetainPlaintext,
	})
	creditService := services.NewCreditService(db)
	chatLogService := services.NewChatLogService(db)
	systemLogService := services.NewSystemLogService(db)
	authService := services.NewAuthService(db, keyService, &cfg.JWT)

	upstream := services.NewOpenAIUpstream(&cfg.OpenAI)
	if !upstream.Configured() {
		logger.Warn().Msg("OPENAI_API_KEY is not set; chat completions will be refused")
	}

	// Initialize task queue (uses Redis if enabled, otherwise sync mode)
	taskQueue := services.InitTaskQueue(cfg)
	if syncQueue, ok := taskQueue.(*services.SyncQueue); ok {
		syncQueue.SetProcessor(chatLogService.Write)
	}

	// Start async worker if the queue is Redis backed
	var worker *services.Worker
	if taskQueue.IsAsync() {
		worker = services.NewWorker(&cfg.Redis)
		if worker != nil {
			worker.SetProcessor(chatLogService.Write)
			if err := worker.Start(); err != nil {
				logger.Error().Err(err).Msg("Failed to start chat log worker")
			}
		}
	}

	scheduler := services.NewScheduler(creditService, chatLogService, systemLogService, services.NewJobLocker(db), cfg.Jobs)
	if err := scheduler.Start(); err != nil {
		logger.Fatalf("Failed to start scheduler: %v", err)
	}

	// Create default admin user
	if err := authService.CreateAdminIfNotExists(context.Background(), cfg.Admin.Email, cfg.Admin.Password); err != nil {
		logger.Warn().Err(err).Msg("Failed to create admin user")
	}

	limiter, redisClient := newLimiter(cfg)

	completionService := services.NewCompletionService(creditService, upstream, taskQueue, cfg.OpenAI.Model)

	return &appServices{
		db:          db,
		taskQueue:   taskQueue,
		worker:      worker,
		scheduler:   scheduler,
		limiter:     limiter,
		redisClient: redisClient,

		pluginHandler:    handlers.NewPluginHandler(services.NewPluginAuthService(db), completionService),
		authHandler:      handlers.NewAuthHandler(authService),
		userHandler:      handlers.NewUserHandler(keyService),
		adminHandler:     handlers.NewAdminHandler(keyService, creditService, authService, chatLogService),
		systemLogHandler: handlers.NewSystemLogHandler(systemLogService),
		healthHandler:    handlers.NewHealthHandler(db, taskQueue, limiter),
		metricsHandler:   handlers.NewMetricsHandler(db, taskQueue),
	}
}

// newLimiter shares plugin rate limits through Redis when it is enabled
// and reachable, and keeps them in process otherwise.
func newLimiter(cfg *config.Config) (middleware.Limiter, *redis.Client) {
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		err := client.Ping(ctx).Err()
		if err == nil {
			logger.Infof("[RateLimit] using Redis at %s", cfg.Redis.Addr)
			return middleware.NewRedisLimiter(client, cfg.RateLimit.RPS, cfg.RateLimit.Burst), client
		}
		logger.Warnf("[RateLimit] Redis unavailable, limiting in process: %v", err)
		client.Close()
	}
	return middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst), nil
}

// shutdown gracefully stops all services.
func (s *appServices) shutdown() {
	s.scheduler.Stop()
	logger.Info().Msg("All schedulers stopped")

	if s.worker != nil {
		s.worker.Stop()
	}
	if s.taskQueue != nil {
		if err := s.taskQueue.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close task queue")
		}
	}
	if rl, ok := s.limiter.(*middleware.RateLimiter); ok {
		rl.Close()
	}
	if s.redisClient != nil {
		s.redisClient.Close()
	}
	if sqlDB, err := s.db.DB(); err == nil {
		sqlDB.Close()
	}
}
