package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/codebuildervaibhav/mediascribe/internal/logging"
)

// Version is reported by /health and /api/system/status.
const Version = "1.0.0"

// Options configures the HTTP application.
type Options struct {
	Engine         Engine
	Stats          StatsReader
	Logs           *logging.LogBuffer
	UploadDir      string
	MaxFileSizeMB  int
	MaxActiveTasks int
	// DefaultModel is used when a submission names no model.
	DefaultModel string
	// AccessLog enables fiber's request logger.
	AccessLog bool
	Logger    *zap.Logger
}

// NewApp builds the fiber application with every route registered.
func NewApp(opts Options) *fiber.App {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	app := fiber.New(fiber.Config{
		AppName:               "mediascribe",
		BodyLimit:             opts.MaxFileSizeMB * 1024 * 1024,
		DisableStartupMessage: true,
	})

	// Middleware
	app.Use(recover.New())
	if opts.AccessLog {
		app.Use(logger.New())
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	// Initialize handlers
	taskHandler := NewTaskHandler(opts.Engine, opts.MaxActiveTasks, opts.UploadDir, log.Named("tasks"))
	taskHandler.defaultModel = opts.DefaultModel
	uploadHandler := NewUploadHandler(taskHandler, opts.UploadDir, opts.MaxFileSizeMB, log.Named("upload"))
	streamHandler := NewStreamHandler(opts.Engine, log.Named("stream"))
	systemHandler := NewSystemHandler(opts.Engine, opts.Stats, opts.Logs, Version)
	systemHandler.defaultModel = opts.DefaultModel

	// Routes
	app.Get("/health", systemHandler.Health)

	api := app.Group("/api")
	api.Post("/tasks", taskHandler.Create)
	api.Get("/tasks", taskHandler.List)
	api.Get("/tasks/:id", taskHandler.Get)
	api.Post("/tasks/:id/cancel", taskHandler.Cancel)
	api.Delete("/tasks/:id", taskHandler.Delete)

	api.Get("/files/:id/result", taskHandler.Result)
	api.Get("/files/:id/media", taskHandler.Media)

	api.Post("/upload", uploadHandler.Handle)

	api.Get("/system/status", systemHandler.Status)
	api.Get("/system/models", systemHandler.Models)
	api.Get("/system/stats", systemHandler.Stats)
	api.Get("/logs", systemHandler.Logs)

	// WebSocket routes
	ws := app.Group("/ws", streamHandler.Upgrade)
	ws.Get("/tasks", websocket.New(streamHandler.Handle))
	ws.Get("/tasks/:id", websocket.New(streamHandler.Handle))

	return app
}
