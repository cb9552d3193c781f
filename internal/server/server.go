// Package server contains the HTTP handlers of the conversation API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"parley/internal/cache"
	"parley/internal/config"
	"parley/internal/database"
	"parley/internal/decrypt"
	"parley/internal/middleware"
	"parley/internal/repository"
	"parley/internal/service"
	"parley/internal/transformer"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	promMiddleware *fiberprometheus.FiberPrometheus
	store          *repository.Store
	chatService    *service.ChatService
	messageService *service.MessageService
}

// NewServer creates a new server instance with all dependencies
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	cache.InitRedis(cfg.RedisURL)
	return NewServerWithDeps(cfg, db, cache.GetClient())
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// Use this in tests or when a bootstrap layer establishes DB/Redis itself.
// A nil redisClient disables caching and the change feed.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	store := repository.NewStore(db)

	var decryptor transformer.Decryptor
	if key := cfg.DecryptorKey(); key != nil {
		d, err := decrypt.NewPSKDecryptor(key)
		if err != nil {
			return nil, fmt.Errorf("decryptor setup failed: %w", err)
		}
		decryptor = d
		middleware.Logger.Info("development decryptor enabled")
	}

	// Cached reads go through the package client of cache.
	if redisClient != cache.GetClient() {
		cache.SetClient(redisClient)
	}
	var notifier transformer.ChangeNotifier
	if redisClient != nil {
		notifier = cache.NewFeed(redisClient)
	}

	server := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		store:          store,
		chatService:    service.NewChatService(store.Accounts(), store.Chats(), store.Messages(), time.Duration(cfg.OverviewCacheTTLSeconds)*time.Second),
		messageService: service.NewMessageService(store, decryptor, notifier),
	}
	if cfg.MetricsEnabled {
		server.promMiddleware = middleware.InitMetrics("parley-api")
	}
	return server, nil
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	// Panic recovery
	app.Use(recover.New())

	// Request ID for tracing
	app.Use(requestid.New())

	if s.config.TracingEnabled {
		app.Use(middleware.TracingMiddleware())
	}

	// Context Middleware to propagate Request ID and trace ID
	app.Use(middleware.ContextMiddleware())

	// Prometheus Metrics
	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	// Structured Logging middleware (after requestid and context middleware)
	app.Use(middleware.StructuredLogger())
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	api := app.Group("/api")

	accounts := api.Group("/accounts/:account")
	accounts.Get("/chats", s.GetChats)
	accounts.Get("/bookmarks", s.GetBookmarks)
	accounts.Put("/bookmarks", s.PutBookmarks)
	accounts.Post("/muc-states/reset", s.ResetMucStates)
	accounts.Post("/stanzas", s.PostStanza)
	accounts.Post("/archive-pages", s.PostArchivePage)
	accounts.Get("/archives/:archive/checkpoint", s.GetCheckpoint)

	chats := api.Group("/chats")
	chats.Get("/:id/messages", s.GetMessages)
	chats.Put("/:id/muc-state", s.PutMucState)
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests. Redis is optional: an
// unconfigured cache reports "disabled" and does not fail the check.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "disabled"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus != "healthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now(),
	})
}

// Shutdown releases the database and Redis connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.redis != nil {
		if err := cache.Close(); err != nil {
			middleware.Logger.WarnContext(ctx, "redis close failed", slog.String("error", err.Error()))
		}
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
