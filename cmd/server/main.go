package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"foodlog/internal/config"
	"foodlog/internal/database"
	"foodlog/internal/handlers"
	"foodlog/internal/jobs"
	"foodlog/internal/llm"
	"foodlog/internal/logging"
	"foodlog/internal/middleware"
	"foodlog/internal/preflight"
	"foodlog/internal/promptcache"
	"foodlog/internal/services"
	"foodlog/internal/store"
	"foodlog/pkg/auth"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting foodlog server...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}
	log.Printf("📋 Configuration loaded (Port: %s, Environment: %s)", cfg.Port, cfg.Environment)

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Initialize(); err != nil {
		log.Fatalf("❌ Failed to initialize database: %v", err)
	}
	sqlStore := store.NewSQLStore(db)

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	// Prompt cache: Redis when configured, in-process otherwise
	var cache promptcache.Cache
	if cfg.RedisURL != "" {
		redisClient, err := promptcache.NewRedisClient(rootCtx, cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️  Redis unavailable, using in-memory prompt cache: %v", err)
			cache = promptcache.NewMemoryCache()
		} else {
			defer redisClient.Close()
			cache = promptcache.NewRedisCache(redisClient)
			log.Println("✅ Prompt cache backed by Redis")
		}
	} else {
		log.Println("⚠️  REDIS_URL not set, using in-memory prompt cache")
		cache = promptcache.NewMemoryCache()
	}

	// LLM providers, hot-reloaded from the providers file
	providersCfg, err := config.LoadProviders(cfg.ProvidersFile)
	if err != nil {
		log.Fatalf("❌ Failed to load LLM providers from %s: %v", cfg.ProvidersFile, err)
	}
	if results := preflight.NewChecker(db, cfg, providersCfg).RunAll(); preflight.HasFailures(results) {
		log.Fatal("❌ Pre-flight checks failed, refusing to start")
	}

	router, err := llm.NewRouter(providersCfg, cache)
	if err != nil {
		log.Fatalf("❌ Failed to build LLM router: %v", err)
	}
	go config.WatchProviders(rootCtx, cfg.ProvidersFile, func(updated *config.ProvidersConfig) {
		if err := router.Reload(updated); err != nil {
			log.Printf("⚠️  [LLM] Reload rejected, keeping previous routes: %v", err)
		}
	})

	// Matching pipeline
	usdaClient := services.NewUSDAClient(cfg.USDABaseURL, cfg.USDAAPIKey, cfg.USDARateLimit)
	webFinder := services.NewWebFoodFinder(services.NewWebSearcher(cfg), services.NewScraperService(cfg), router)
	matcher := services.NewFoodMatcher(sqlStore, router, usdaClient, webFinder, cfg.MatchThreshold, cfg.USDAThreshold)
	servingResolver := services.NewServingResolver(router)
	splitter := services.NewFoodSplitter(router)

	foodLogService := services.NewFoodLogService(sqlStore, sqlStore, splitter, matcher, servingResolver)
	queue := jobs.NewProcessingQueue(foodLogService, cfg.QueueSize, cfg.WorkerConcurrency)
	foodLogService.SetQueue(queue)
	queue.Start()

	// Maintenance jobs
	backfillService := services.NewBackfillService(sqlStore, sqlStore, router)
	duplicateFinder := services.NewDuplicateFinder(sqlStore)

	scheduler, err := jobs.NewJobScheduler()
	if err != nil {
		log.Fatalf("❌ Failed to create job scheduler: %v", err)
	}
	if err := scheduler.Register(jobs.BackfillJobName, cfg.BackfillCron, jobs.NewBackfillJob(backfillService)); err != nil {
		log.Fatalf("❌ Failed to register backfill job: %v", err)
	}
	if err := scheduler.Register(jobs.DedupeJobName, cfg.DedupeCron, jobs.NewDedupeJob(duplicateFinder)); err != nil {
		log.Fatalf("❌ Failed to register duplicate report job: %v", err)
	}
	scheduler.Start()

	// Authentication
	var jwtAuth *auth.LocalJWTAuth
	if cfg.JWTSecret != "" {
		jwtAuth, err = auth.NewLocalJWTAuth(cfg.JWTSecret, 0)
		if err != nil {
			log.Fatalf("❌ Failed to initialize JWT auth: %v", err)
		}
		log.Println("🔐 JWT authentication enabled")
	} else {
		log.Println("⚠️  JWT_SECRET not set, requests run as dev-user (development only)")
	}

	app := fiber.New(fiber.Config{
		AppName:      "foodlog v1.0",
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second, // serving resolution waits on the model
		IdleTimeout:  120 * time.Second,
		BodyLimit:    1 * 1024 * 1024,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())

	// Prometheus metrics middleware
	prometheus := fiberprometheus.New("foodlog")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	rateLimitConfig := middleware.LoadRateLimitConfig()
	log.Printf("🛡️  [RATE-LIMIT] Loaded config: Global=%d/min, Auth=%d/min, LLM=%d/min",
		rateLimitConfig.GlobalAPIMax,
		rateLimitConfig.AuthenticatedMax,
		rateLimitConfig.LLMMax,
	)

	// Fiber's CORS middleware does not allow AllowCredentials with wildcard origins
	allowCredentials := strings.TrimSpace(cfg.AllowedOrigins) != "*"
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     "GET,POST,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization",
		AllowCredentials: allowCredentials,
	}))
	log.Printf("🔒 [SECURITY] CORS allowed origins: %s", cfg.AllowedOrigins)

	// Global API rate limiter, excludes health checks and metrics
	app.Use("/api", middleware.GlobalAPIRateLimiter(rateLimitConfig))

	handlers.SetupRoutes(app, handlers.Routes{
		Config:    cfg,
		JWTAuth:   jwtAuth,
		RateLimit: rateLimitConfig,
		Health:    handlers.NewHealthHandler(db),
		Food:      handlers.NewFoodHandler(sqlStore, matcher, servingResolver),
		FoodLog:   handlers.NewFoodLogHandler(foodLogService),
		Admin:     handlers.NewAdminHandler(duplicateFinder, backfillService, scheduler),
	})

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		defer close(done)
		<-quit
		log.Println("\n🛑 Shutting down server...")

		if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Printf("⚠️  Server shutdown error: %v", err)
		}

		scheduler.Stop()

		drainCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		queue.Stop(drainCtx)

		cancelRoot()
		log.Println("✅ Shutdown complete")
	}()

	log.Printf("✅ Server listening on :%s", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Server error: %v", err)
	}
	<-done
}
