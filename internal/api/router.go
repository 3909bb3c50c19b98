package api

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	swagger "github.com/go-swagno/swagno-fiber/swagger"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/api/docs"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/api/handler"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/api/middleware"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/database"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/ratelimit"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/ws"
)

type Dependencies struct {
	Analyses      handler.AnalysisService
	Hub           *ws.Hub
	DB            database.Pinger
	Limiter       *ratelimit.Limiter
	APIKey        string
	MaxUploadSize int
	Version       string
}

type Router struct {
	app    *fiber.App
	logger *slog.Logger
	deps   *Dependencies
}

func NewRouter(logger *slog.Logger, deps *Dependencies) *Router {
	cfg := fiber.Config{
		ErrorHandler: middleware.ErrorHandler(logger),
		AppName:      "Deepscan API",
		ReadTimeout:  5 * time.Minute,
	}
	if deps != nil && deps.MaxUploadSize > 0 {
		cfg.BodyLimit = deps.MaxUploadSize
	}

	return &Router{
		app:    fiber.New(cfg),
		logger: logger,
		deps:   deps,
	}
}

func (r *Router) Setup() {
	// Global middlewares
	r.app.Use(requestid.New())
	r.app.Use(middleware.Recover(r.logger))
	r.app.Use(middleware.Logger(r.logger))
	r.app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Swagger documentation (no auth required)
	sw := docs.NewSwagger()
	swagger.SwaggerHandler(r.app, sw.MustToJson())

	var db database.Pinger
	version := ""
	if r.deps != nil {
		db = r.deps.DB
		version = r.deps.Version
	}

	// Health check endpoints (no auth required)
	healthHandler := handler.NewHealthHandler(db, version, r.logger)
	r.app.Get("/health", healthHandler.Health)
	r.app.Get("/ready", healthHandler.Ready)

	// Only configure authenticated routes if dependencies were provided
	if r.deps == nil || r.deps.Analyses == nil {
		return
	}

	v1 := r.app.Group("/v1")
	v1.Use(middleware.Auth(r.deps.APIKey))
	if r.deps.Limiter != nil {
		v1.Use(middleware.RateLimit(r.deps.Limiter))
	}

	analysisHandler := handler.NewAnalysisHandler(r.deps.Analyses, int64(r.deps.MaxUploadSize), r.logger)
	v1.Post("/analyses", analysisHandler.Submit)
	v1.Get("/analyses/:id", analysisHandler.Get)
	v1.Delete("/analyses/:id", analysisHandler.Cancel)
	v1.Get("/analyses/:id/report", analysisHandler.Report)
	v1.Get("/analyses/:id/similar", analysisHandler.Similar)

	if r.deps.Hub != nil {
		v1.Get("/ws/analyses/:id", ws.UpgradeMiddleware(), ws.Handler(r.deps.Hub))
	}
}

func (r *Router) App() *fiber.App {
	return r.app
}

func (r *Router) Listen(addr string) error {
	return r.app.Listen(addr)
}

func (r *Router) Shutdown() error {
	return r.app.Shutdown()
}
