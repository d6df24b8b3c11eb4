package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat_relay/internal/config"
	"chat_relay/internal/handler"
	"chat_relay/internal/middleware"
	"chat_relay/internal/relay"
	"chat_relay/internal/repository"
	"chat_relay/internal/service"
	"chat_relay/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	appLogger := logger.New(cfg.Log.Level)

	// Подключение к PostgreSQL
	dbPool, err := pgxpool.New(context.Background(), cfg.Database.DSN)
	if err != nil {
		appLogger.Fatal("Failed to connect to database", "error", err)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(context.Background()); err != nil {
		appLogger.Fatal("Failed to ping database", "error", err)
	}
	appLogger.Info("Database connection established")

	// Подключение к Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		appLogger.Fatal("Failed to connect to Redis", "error", err)
	}
	appLogger.Info("Redis connection established")

	// Каталог загрузок
	if err := os.MkdirAll(cfg.Upload.Dir, 0o755); err != nil {
		appLogger.Fatal("Failed to create upload dir", "error", err)
	}

	// Инициализация репозиториев и сервисов
	repos := repository.NewRepositories(dbPool, rdb, appLogger)
	services := service.NewServices(repos, cfg, appLogger)

	// Ядро relay: реестр соединений, движок, supervisor
	registry := relay.NewRegistry()
	engine := relay.NewEngine(registry, services.Membership, services.Message, cfg.Relay.EventDeadline, appLogger)
	supervisor := relay.NewSupervisor(registry, services.Auth, appLogger)

	// Middleware и handlers
	authMiddleware := middleware.NewAuthMiddleware(services.Auth, appLogger)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(services.RateLimit, appLogger)
	handlers := handler.NewHandlers(services, registry, supervisor, engine, cfg, appLogger)

	router := setupRouter(handlers, authMiddleware, rateLimitMiddleware, cfg)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		appLogger.Info("Starting server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("Failed to start server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Fatal("Server forced to shutdown", "error", err)
	}

	appLogger.Info("Server exited")
}

func setupRouter(
	handlers *handler.Handlers,
	authMiddleware *middleware.AuthMiddleware,
	rateLimitMiddleware *middleware.RateLimitMiddleware,
	cfg *config.Config,
) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.ErrorHandler())

	// Health check
	router.GET("/health", handlers.Health.Check)

	// Публичные endpoints
	router.POST("/register", rateLimitMiddleware.Limit(), handlers.Auth.Register)
	router.POST("/login", rateLimitMiddleware.Limit(), handlers.Auth.Login)
	router.PATCH("/verify", handlers.Auth.Verify)

	// Статика загруженных файлов
	router.Static(cfg.Upload.PublicPath, cfg.Upload.Dir)

	// Защищенные endpoints
	protected := router.Group("")
	protected.Use(authMiddleware.RequireAuth())
	{
		users := protected.Group("/users")
		{
			users.GET("/receivers", handlers.User.GetReceivers)
			users.POST("/receivers", handlers.User.AddReceiver)
		}

		protected.GET("/chats", handlers.Chat.GetChats)
		protected.DELETE("/chats/messages/:messageId", handlers.Chat.DeleteMessage)

		protected.POST("/upload", handlers.Upload.Upload)

		groups := protected.Group("/groups")
		{
			groups.GET("", handlers.Group.List)
			groups.POST("", handlers.Group.Create)
			groups.GET("/:id", handlers.Group.GetByID)
			groups.PUT("/:id", handlers.Group.Update)
			groups.DELETE("/:id", handlers.Group.Delete)
			groups.POST("/:id/leave", handlers.Group.Leave)
			groups.GET("/:id/members", handlers.Group.GetMembers)
			groups.POST("/:id/members", handlers.Group.AddMember)
			groups.DELETE("/:id/members/:memberId", handlers.Group.RemoveMember)
			groups.PUT("/:id/members/:memberId/role", handlers.Group.UpdateMemberRole)
		}
	}

	// WebSocket endpoint relay
	router.GET("/ws", handlers.WebSocket.Handle)

	return router
}
