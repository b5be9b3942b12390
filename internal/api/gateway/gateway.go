package gateway

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	fiberLogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"treasure-map/server/internal/db"
	"treasure-map/server/internal/middleware"
	"treasure-map/server/internal/quest"
	"treasure-map/server/internal/services/progress"
	progHandlers "treasure-map/server/internal/services/progress/handlers"
	"treasure-map/server/internal/services/session"
	sessionHandlers "treasure-map/server/internal/services/session/handlers"
	"treasure-map/server/pkg/config"
)

// APIGateway owns the HTTP router, the global middleware and the services
// behind it.
type APIGateway struct {
	router      *fiber.App
	logger      *zap.Logger
	cfg         config.Config
	db          db.DBTX
	progressSvc progress.Service
}

// NewAPIGateway creates a gateway serving the quest registry. Without a
// database only the health check is mounted.
func NewAPIGateway(cfg config.Config, logger *zap.Logger, db db.DBTX, registry *quest.Registry) *APIGateway {
	app := fiber.New(fiber.Config{
		AppName: "Treasure Map Quest API",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			if code >= fiber.StatusInternalServerError {
				logger.Error("gateway error", zap.Error(err))
			}
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	gw := &APIGateway{
		router: app,
		logger: logger,
		cfg:    cfg,
		db:     db,
	}

	gw.applyMiddleware()
	gw.setupHealthCheck()

	if db != nil && registry != nil {
		sessionSvc := session.NewSessionService(cfg, logger, db)
		gw.progressSvc = progress.NewProgressService(cfg, logger, db, registry, sessionSvc)
		gw.registerRoutes(sessionSvc, gw.progressSvc)
	}

	return gw
}

func (g *APIGateway) registerRoutes(sessionSvc session.Service, progressSvc progress.Service) {
	sessionMiddleware := middleware.SessionMiddleware(sessionSvc, g.logger)

	// Session routes
	sessionH := sessionHandlers.NewSessionHandlers(sessionSvc, progressSvc, g.logger)
	sessionsGroup := g.MountGroup("/sessions")
	sessionsGroup.Post("/", sessionH.CreateSession)
	sessionsGroup.Get("/me", sessionMiddleware, sessionH.GetSession)
	sessionsGroup.Delete("/me", sessionMiddleware, sessionH.EndSession)

	progressH := progHandlers.NewProgressHandlers(progressSvc, g.logger)

	// Catalog is public so the map can render before a session exists.
	g.router.Get("/quests", progressH.GetCatalog)

	// Progress routes
	progressGroup := g.MountGroup("/progress", sessionMiddleware)
	progressGroup.Get("/", progressH.GetProgress)
	progressGroup.Get("/events", progressH.ListEvents)
	progressGroup.Post("/quests/:id/start", progressH.StartQuest)
	progressGroup.Post("/quests/:id/complete", progressH.CompleteQuest)
}

// applyMiddleware sets up global middleware for the gateway.
func (g *APIGateway) applyMiddleware() {
	g.router.Use(cors.New(cors.Config{
		AllowOrigins: g.cfg.Server.CORSAllowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))
	g.router.Use(fiberLogger.New())
	g.router.Use(recover.New())
	g.router.Use(limiter.New(limiter.Config{
		Max:        g.cfg.Server.RateLimitMax,
		Expiration: g.cfg.Server.RateLimitDuration,
	}))
}

// setupHealthCheck adds a basic health check endpoint to the gateway.
func (g *APIGateway) setupHealthCheck() {
	g.router.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	})
}

// MountGroup mounts a route group on the gateway.
func (g *APIGateway) MountGroup(prefix string, handlers ...fiber.Handler) fiber.Router {
	return g.router.Group(prefix, handlers...)
}

// Router returns the underlying Fiber app.
func (g *APIGateway) Router() *fiber.App {
	return g.router
}

// Start begins listening on the configured host and port.
func (g *APIGateway) Start() error {
	addr := fmt.Sprintf("%s:%d", g.cfg.Server.Host, g.cfg.Server.Port)
	g.logger.Info("Starting API Gateway", zap.String("address", addr))
	return g.router.Listen(addr)
}

// Shutdown stops accepting requests, then releases the progress stores.
func (g *APIGateway) Shutdown(ctx context.Context) error {
	g.logger.Info("Shutting down API Gateway...")
	err := g.router.ShutdownWithContext(ctx)
	if g.progressSvc != nil {
		g.progressSvc.Shutdown()
	}
	return err
}
