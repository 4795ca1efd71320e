package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/quizforge/credpool/src/cache"
	"github.com/quizforge/credpool/src/config"
	"github.com/quizforge/credpool/src/database"
	"github.com/quizforge/credpool/src/handlers"
	"github.com/quizforge/credpool/src/logging"
	"github.com/quizforge/credpool/src/middleware"
	"github.com/quizforge/credpool/src/services"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logging
	logging.Setup(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	log.Info().
		Int("port", cfg.Port).
		Str("log_level", cfg.LogLevel).
		Msg("starting credential pool")

	// Initialize database
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	db, err := database.New(ctx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer db.Close()

	log.Info().Msg("database connected")

	// Initialize JWT secret in middleware
	if err := middleware.SetJWTSecret(cfg.JWTSecret); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize JWT secret")
	}

	// Exhaustion cache: Redis when configured, in-process otherwise. The
	// cache is advisory either way, so a missing Redis is not fatal.
	var cacheStore cache.Store
	if cfg.RedisAddr != "" {
		redisStore := cache.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisStore.Ping(pingCtx)
		pingCancel()
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable, continuing anyway")
		} else {
			log.Info().Str("addr", cfg.RedisAddr).Msg("redis exhaustion cache connected")
		}
		cacheStore = redisStore
		defer redisStore.Close()
	} else {
		cacheStore = cache.NewMemoryStore()
		log.Info().Msg("using in-process exhaustion cache (REDIS_ADDR not set)")
	}

	// Initialize encryption (optional; empty key disables)
	cipher, err := services.NewCipher(cfg.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize encryption")
	}
	if cipher != nil {
		log.Info().Msg("credential encryption enabled (AES-256-CBC)")
	} else {
		log.Warn().Msg("credential encryption disabled (ENCRYPTION_KEY not set)")
	}

	// Initialize services
	store := services.NewCredentialStore(db.GetPool(), cipher)
	adminService := services.NewAdminService(db.GetPool())
	quota := services.NewQuotaTracker(store)
	breaker := services.NewCircuitBreaker(store, cfg.FailureThreshold, cfg.TempBlockDuration)
	rotation := services.NewRotationOrderBuilder(cfg.PriorityRanges)
	engine := services.NewSelectionEngine(store, cacheStore, rotation, quota, breaker,
		cfg.ExhaustionCacheTTL, cfg.TempBlockDuration)
	maintenance := services.NewMaintenanceService(quota, breaker, cacheStore,
		cfg.EnableMaintenance, cfg.SweepInterval, cfg.ResetHourUTC)

	// Auto-seed admin user on first run (if ADMIN_USERNAME and ADMIN_PASSWORD are set)
	if cfg.AdminUsername != "" && cfg.AdminPassword != "" {
		hasAdmins, err := adminService.HasAdmins(context.Background())
		if err != nil {
			log.Error().Err(err).Msg("failed to check for existing admin users")
		} else if !hasAdmins {
			if _, err := adminService.CreateAdminUser(context.Background(), cfg.AdminUsername, cfg.AdminPassword); err != nil {
				log.Error().Err(err).Msg("failed to create initial admin user")
			} else {
				log.Info().Str("username", cfg.AdminUsername).Msg("initial admin user created")
			}
		}
	}

	// Start background services
	go maintenance.Start(context.Background())

	var healthMonitor *services.HealthMonitor
	if cfg.EnableHealthMonitor {
		healthMonitor = services.NewHealthMonitor(store, breaker, cfg.HealthCheckInterval)
		go healthMonitor.Start(context.Background())
		log.Info().Dur("interval", cfg.HealthCheckInterval).Msg("key health monitor started")
	}

	// Create Gin router
	router := gin.New()

	// Add middleware
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogging())
	router.Use(gin.Recovery())

	// CORS for the admin dashboard; pool endpoints are called
	// server-to-server and never need it
	corsConfig := cors.Config{
		AllowOriginFunc: func(origin string) bool {
			// Allow localhost for development
			if origin == "http://localhost" || origin == "http://localhost:8080" || origin == "http://localhost:8081" {
				return true
			}
			return false
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	// Setup routes
	setupRoutes(router, db, cacheStore, store, adminService, engine)

	// Create HTTP server with timeouts (protect from Slowloris attack)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Int("port", cfg.Port).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	// Stop background services
	maintenance.Stop()
	if healthMonitor != nil {
		healthMonitor.Stop()
	}

	// Graceful shutdown with timeout
	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	log.Info().Msg("server shut down successfully")
}

func setupRoutes(router *gin.Engine, db *database.Database, cacheStore cache.Store, store *services.CredentialStore, adminService *services.AdminService, engine *services.SelectionEngine) {
	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(db, cacheStore)
	adminHandler := handlers.NewAdminHandler(store, adminService)
	poolHandler := handlers.NewPoolHandler(engine)

	// Health check endpoints
	router.GET("/health", healthHandler.HandleHealth)
	router.GET("/ready", healthHandler.HandleReady)
	router.GET("/info", healthHandler.HandleInfo)

	// Selection contract for in-house callers, rate limited per caller
	pool := router.Group("/pool")
	pool.Use(middleware.NewPoolRateLimitingMiddleware(middleware.RateLimitConfig{
		RequestsPerMinute: 600,
		Burst:             50,
	}))
	{
		pool.POST("/select", poolHandler.HandleSelect)
		pool.POST("/outcome", poolHandler.HandleOutcome)
	}

	// Admin authentication endpoints
	router.POST("/admin/login", middleware.AuthRateLimitMiddleware(), adminHandler.HandleAdminLogin)
	router.POST("/admin/logout", middleware.AdminAuthMiddleware(), adminHandler.HandleAdminLogout)
	router.GET("/admin/status", middleware.AdminAuthMiddleware(), adminHandler.HandleAdminStatus)

	// Admin endpoints (all require authentication)
	admin := router.Group("/admin")
	admin.Use(middleware.AdminAuthMiddleware())
	{
		admin.GET("/accounts", adminHandler.HandleListAccounts)
		admin.POST("/accounts", adminHandler.HandleUpsertAccount)
		admin.GET("/keys", adminHandler.HandleListKeys)
		admin.POST("/keys", adminHandler.HandleRegisterKey)
		admin.POST("/keys/:id/reenable", adminHandler.HandleReenableKey)
		admin.GET("/pool/stats", adminHandler.HandlePoolStats)
	}
}
