package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"gambit/presence-service/config"
	"gambit/presence-service/db"
	"gambit/presence-service/handlers"
	"gambit/presence-service/middleware"
	"gambit/presence-service/services"
	"gambit/presence-service/utils"
)

func main() {
	// Load configuration
	cfg := config.LoadConfig()

	// Initialize logger
	logger := utils.NewLogger()

	// Connect to database
	database, err := db.Connect(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database", "error", err)
	}

	// Initialize Redis client
	redisClient, err := services.NewRedisClient(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", "error", err)
	}
	defer redisClient.Close()

	// Initialize services; the store is constructed once and shared by
	// reference across the query and notification components.
	store := services.NewPresenceStore(redisClient, cfg, logger)
	directory := services.NewDirectoryStore(database, logger)
	engine := services.NewQueryEngine(store, directory, cfg.OnlineIndexLimit, logger)
	notifier := services.NewChangeNotifier(logger)
	sweeper := services.NewSweeper(store, notifier, cfg.SweepInterval, logger)

	// Initialize handlers
	presenceHandler := handlers.NewPresenceHandler(store, engine, notifier, logger)
	streamHandler := handlers.NewStreamHandler(engine, notifier, logger)

	// Start cleanup sweeper
	sweeper.Start()

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.CORS())

	// Health check endpoint
	router.GET("/health", handlers.HealthCheck)

	// API routes
	v1 := router.Group("/api/v1")
	v1.Use(middleware.Auth(cfg.JWTSecret))
	{
		presence := v1.Group("/presence")
		{
			presence.POST("/heartbeat", presenceHandler.Heartbeat)
			presence.GET("/status", presenceHandler.GetStatus)
			presence.GET("/friends", presenceHandler.Friends)
			presence.GET("/opponents", presenceHandler.Opponents)
			presence.GET("/lobby", presenceHandler.Lobby)
			presence.GET("/contextual", presenceHandler.Contextual)
		}
	}

	// WebSocket push surface
	ws := router.Group("/ws")
	ws.Use(middleware.Auth(cfg.JWTSecret))
	{
		ws.GET("/presence", streamHandler.Subscribe)
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Starting Presence Service", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Stop background components; in-flight publishes to torn-down
	// subscriptions are silently dropped.
	sweeper.Stop()
	notifier.Close()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", "error", err)
	}

	logger.Info("Server exited")
}
