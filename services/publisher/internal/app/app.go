package app

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"ai-influencer/pkg/cache"
	"ai-influencer/pkg/config"
	"ai-influencer/pkg/database"
	"ai-influencer/pkg/jwt"
	"ai-influencer/pkg/lock"
	"ai-influencer/pkg/logger"
	"ai-influencer/pkg/metrics"
	"ai-influencer/pkg/middleware"
	"ai-influencer/pkg/platform"
	"ai-influencer/pkg/queue"
	"ai-influencer/pkg/s3"
	publishHTTP "ai-influencer/services/publisher/internal/controller/http"
	"ai-influencer/services/publisher/internal/controller/worker"
	"ai-influencer/services/publisher/internal/ratelimit"
	"ai-influencer/services/publisher/internal/repo/persistent"
	"ai-influencer/services/publisher/internal/scheduler"
	"ai-influencer/services/publisher/internal/usecase"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gorm.io/gorm"

	_ "ai-influencer/services/publisher/docs" // Swagger docs
)

// Platforms served by the dry-run adapter in development.
var dryRunPlatforms = []string{"twitter", "instagram", "tiktok", "threads", "fanvue"}

type App struct {
	cfg         *config.Config
	log         *logger.Logger
	db          *gorm.DB
	redisClient *redis.Client
	s3Client    *s3.Client
	queueClient *queue.Client
	jwtService  *jwt.Service
	metrics     *metrics.Metrics
	adapters    *platform.Registry
	httpServer  *http.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewApp(cfg *config.Config, adapters *platform.Registry) (*App, error) {
	log := logger.NewWithOptions(cfg.LogLevel, cfg.LogFormat).WithService(cfg.ServiceName)

	db, err := database.NewPostgresDB(cfg)
	if err != nil {
		log.Error("Failed to connect to database: %v", err)
		return nil, err
	}

	// Redis backs the content locks, so the publisher cannot run without it.
	redisClient, err := cache.NewRedisClient(cfg)
	if err != nil {
		log.Error("Failed to connect to redis: %v", err)
		return nil, err
	}

	s3Client, err := s3.NewClient(cfg)
	if err != nil {
		log.Error("Failed to create S3 client: %v (media references are passed through as local paths)", err)
		s3Client = nil
	}

	queueClient, err := queue.NewRabbitMQClient(cfg, log)
	if err != nil {
		log.Error("Failed to connect to RabbitMQ: %v (continuing without queue)", err)
		queueClient = nil
	}

	if adapters == nil {
		adapters = platform.NewRegistry()
	}
	if cfg.PublishDryRun {
		for _, name := range dryRunPlatforms {
			adapters.Register(name, platform.NewDryRunFactory(log))
		}
		log.Warn("PUBLISH_DRY_RUN is set, posts are logged and never sent")
	}
	if len(adapters.Platforms()) == 0 {
		log.Warn("No platform adapters registered, every publish will fail as unsupported")
	}

	return &App{
		cfg:         cfg,
		log:         log,
		db:          db,
		redisClient: redisClient,
		s3Client:    s3Client,
		queueClient: queueClient,
		jwtService:  jwt.NewService(cfg.JWTSecret),
		metrics:     metrics.New(cfg.ServiceName),
		adapters:    adapters,
	}, nil
}

func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	// Initialize repositories
	contentRepo := persistent.NewContentRepository(a.db)
	accountRepo := persistent.NewAccountRepository(a.db)
	personaRepo := persistent.NewPersonaRepository(a.db)

	locker := lock.NewLocker(a.redisClient, a.cfg.LockLease, a.log)
	limiter := ratelimit.NewLimiter(ratelimit.PolicyFromMap(a.cfg.RateLimits), a.cfg.Timezone)

	var media usecase.MediaFetcher
	if a.s3Client != nil {
		media = a.s3Client
	}

	// Initialize use cases
	publishUseCase := usecase.NewPublishUseCase(
		contentRepo,
		accountRepo,
		personaRepo,
		locker,
		limiter,
		a.adapters,
		media,
		a.metrics,
		a.log,
		usecase.OptionsFromConfig(a.cfg),
	)

	// Initialize handlers
	var taskQueue publishHTTP.TaskQueue
	if a.queueClient != nil {
		taskQueue = a.queueClient
	}
	publishHandler := publishHTTP.NewPublishHandler(publishUseCase, taskQueue, a.log)

	if a.queueClient != nil {
		taskHandler := worker.NewTaskHandler(publishUseCase, a.log)
		if err := a.queueClient.ConsumeTasks(ctx, taskHandler.Handle); err != nil {
			a.log.Error("Error starting task consumer: %v", err)
		}

		if a.cfg.SchedulerEnabled {
			sched := scheduler.New(locker, a.queueClient, a.log, scheduler.JobsFromConfig(a.cfg)...)
			a.wg.Add(1)
			go func() {
				defer a.wg.Done()
				sched.Run(ctx)
			}()
		}
	} else if a.cfg.SchedulerEnabled {
		a.log.Warn("Scheduler disabled: no task queue")
	}

	// Setup router
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery(), a.metrics.Middleware())

	// CORS middleware
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000", "http://127.0.0.1:3000"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(a.metrics.Handler()))

	// Swagger documentation
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := r.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(a.jwtService))
	api.Use(middleware.RateLimitMiddleware(a.redisClient, middleware.APIRateLimit{
		Limit:  100,
		Window: time.Minute,
		Exempt: []string{jwt.RoleWorker},
	}))

	publish := api.Group("")
	publish.Use(middleware.RequireRole(jwt.RoleOperator, jwt.RoleAdmin, jwt.RoleWorker))
	{
		publish.POST("/content/:id/publish", publishHandler.Publish)
		publish.GET("/content/:id/publish-status", publishHandler.GetPublishStatus)
		publish.GET("/accounts/:id/limits", publishHandler.GetAccountLimits)
	}

	ops := api.Group("/queue")
	ops.Use(middleware.RequireRole(jwt.RoleAdmin, jwt.RoleWorker))
	{
		ops.POST("/process", publishHandler.ProcessQueue)
		ops.POST("/retry", publishHandler.RetryFailed)
		ops.POST("/reconcile", publishHandler.ReconcileStale)
		ops.GET("/stats", publishHandler.QueueStats)
	}

	// Create HTTP server
	a.httpServer = &http.Server{
		Addr:    ":" + a.cfg.ServerPort,
		Handler: r,
	}

	// Start server in a goroutine
	go func() {
		a.log.Info("Publisher service starting on port %s", a.cfg.ServerPort)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Error("Failed to start server: %v", err)
			panic(err)
		}
	}()

	return nil
}

func (a *App) Wait() {
	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	a.log.Info("Shutting down publisher service...")
}

func (a *App) Shutdown() error {
	// The context is used to inform the server it has 5 seconds to finish
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var shutdownErr error
	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(ctx); err != nil {
			a.log.Error("Server forced to shutdown: %v", err)
			shutdownErr = err
		}
	}

	// Stop the consumer and scheduler; the scheduler hands back leadership.
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	// Close RabbitMQ connection
	if a.queueClient != nil {
		if err := a.queueClient.Close(); err != nil {
			a.log.Error("Error closing RabbitMQ: %v", err)
		}
	}

	// Close Redis connection
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Error("Error closing Redis: %v", err)
		}
	}

	// Close database connection
	sqlDB, err := a.db.DB()
	if err == nil {
		if err := sqlDB.Close(); err != nil {
			a.log.Error("Error closing database: %v", err)
		}
	}

	a.log.Info("Publisher service exited")
	return shutdownErr
}
