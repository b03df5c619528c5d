package main

import (
	"collab-session-server/internal/config"
	"collab-session-server/internal/content"
	"collab-session-server/internal/db"
	"collab-session-server/internal/middleware"
	"collab-session-server/internal/session"
	"collab-session-server/internal/user"
	"collab-session-server/internal/worker"
	"collab-session-server/internal/ws"
	"collab-session-server/redis"
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	config.LoadConfig()

	// Connect to database
	db.ConnectDb()
	defer db.CloseDb()

	// Migrate database schema
	db.Migrate()

	// Seed database with initial data (for development)
	db.SeedData()

	// Initialize Redis
	redis.InitRedis()
	cache := redis.NewCache(redis.RedisClient)

	// Background workers for non-critical persistence
	pool := worker.NewWorkerPool(config.AppConfig.WorkerPoolSize)
	defer pool.Shutdown()

	// Initialize repositories
	userRepo := user.NewRepository(db.AppDb)
	contentRepo := content.NewRepository(db.AppDb)
	sessionRepo := session.NewRepository(db.AppDb)

	// Initialize services
	userService := user.NewService(userRepo)
	contentService := content.NewService(contentRepo)
	sessionService := session.NewService(sessionRepo, contentService, cache)

	// Initialize handlers
	userHandler := user.NewHandler(userService)
	contentHandler := content.NewHandler(contentService)
	sessionHandler := session.NewHandler(sessionService)

	// Live collaboration protocol
	registry := ws.NewRegistry()
	wsHandler := ws.NewHandler(registry, sessionService, contentService, pool)

	authMiddleware := &middleware.Auth{UserService: userService}

	// Initialize Gin router
	router := gin.Default()
	router.Use(middleware.ErrorHandler())

	// cors setting
	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
	}

	if config.AppConfig.Environment == "development" {
		// Allow all origins in development
		corsConfig.AllowAllOrigins = true
	} else {
		// Restrict origins in production
		corsConfig.AllowOrigins = []string{config.AppConfig.FrontendAddress}
	}
	router.Use(cors.New(corsConfig))

	// User routes
	router.POST("/register", userHandler.Register)
	router.POST("/login", userHandler.Login)
	router.DELETE("/logout", authMiddleware.AuthMiddleWare(), userHandler.Logout)
	router.GET("/profile", authMiddleware.AuthMiddleWare(), userHandler.GetProfile)
	router.GET("/users", authMiddleware.AuthMiddleWare(), userHandler.SearchUsers)

	// Content routes
	router.POST("/contents", authMiddleware.AuthMiddleWare(), contentHandler.Create)
	router.GET("/contents", authMiddleware.AuthMiddleWare(), contentHandler.ShowUserContents)
	router.GET("/contents/:id", authMiddleware.AuthMiddleWare(), contentHandler.ShowContent)
	router.GET("/contents/:id/versions", authMiddleware.AuthMiddleWare(), contentHandler.ShowVersions)
	router.DELETE("/contents/:id", authMiddleware.AuthMiddleWare(), contentHandler.DeleteContent)

	// Session routes
	router.POST("/sessions", authMiddleware.AuthMiddleWare(), sessionHandler.Create)
	router.POST("/sessions/join", authMiddleware.AuthMiddleWare(), sessionHandler.JoinByCode)
	router.GET("/sessions", authMiddleware.AuthMiddleWare(), sessionHandler.ShowUserSessions)
	router.GET("/sessions/:id", authMiddleware.AuthMiddleWare(), sessionHandler.ShowSession)
	router.POST("/sessions/:id/complete", authMiddleware.AuthMiddleWare(), sessionHandler.Complete)
	router.GET("/sessions/:id/history", authMiddleware.AuthMiddleWare(), sessionHandler.ShowHistory)
	router.POST("/sessions/:id/record_action", authMiddleware.AuthMiddleWare(), sessionHandler.RecordAction)
	router.POST("/sessions/:id/comments", authMiddleware.AuthMiddleWare(), sessionHandler.AddComment)
	router.DELETE("/comments/:id", authMiddleware.AuthMiddleWare(), sessionHandler.DeleteComment)
	router.PUT("/sessions/:id/participants/:participantId/role", authMiddleware.AuthMiddleWare(), sessionHandler.ChangeRole)
	router.DELETE("/sessions/:id/participants/:participantId", authMiddleware.AuthMiddleWare(), sessionHandler.RemoveParticipant)

	// Live collaboration websocket
	router.GET("/ws/sessions/:id", authMiddleware.AuthMiddleWare(), wsHandler.Serve)

	// Server configuration
	serverPort := config.AppConfig.ServerPort
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", serverPort),
		Handler: router.Handler(),
	}

	// Start server
	go func() {
		log.Printf("Server listening on port %s", serverPort)
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Println("Server shutdown error:", err)
	}

	<-ctx.Done()
	log.Println("Server shutdown complete")
}
