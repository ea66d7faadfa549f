package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"transferdesk/internal/cache"
	"transferdesk/internal/config"
	"transferdesk/internal/database"
	"transferdesk/internal/middleware"
	"transferdesk/internal/models"
	"transferdesk/internal/notifications"
	"transferdesk/internal/repository"
	"transferdesk/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
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
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc

	requestRepo repository.RequestRepository
	commRepo    repository.CommunicationRepository
	userRepo    repository.UserRepository
	issuerRepo  repository.IssuerRepository

	dispatcher     *notifications.Dispatcher
	events         *notifications.Events
	requestService *service.RequestService
}

// NewServer creates a new server instance with all dependencies
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	cache.InitRedis(cfg.RedisURL)
	redisClient := cache.GetClient()

	// Outbound email rendering/transport is an external service; until it is
	// wired, dispatched messages land in the structured log.
	return NewServerWithDeps(cfg, db, redisClient, notifications.NewLogSender())
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// Use this in tests or when a bootstrap layer establishes DB/Redis and the
// delivery capability.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, sender notifications.Sender) (*Server, error) {
	requestRepo := repository.NewRequestRepository(db)
	commRepo := repository.NewCommunicationRepository(db)
	userRepo := repository.NewUserRepository(db)
	issuerRepo := repository.NewIssuerRepository(db)

	prom := fiberprometheus.New("transferdesk-api")

	shutdownCtx, shutdownFn := context.WithCancel(context.Background())

	srv := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: prom,
		shutdownCtx:    shutdownCtx,
		shutdownFn:     shutdownFn,
		requestRepo:    requestRepo,
		commRepo:       commRepo,
		userRepo:       userRepo,
		issuerRepo:     issuerRepo,
	}

	srv.dispatcher = notifications.NewDispatcher(sender, userRepo, cfg.NotifyQueueSize)
	srv.dispatcher.Start(shutdownCtx)
	if redisClient != nil {
		srv.events = notifications.NewEvents(redisClient)
	}

	srv.requestService = service.NewRequestService(
		db, requestRepo, commRepo, userRepo, issuerRepo,
		srv.dispatcher, srv.events, cfg.ActionBaseURL,
	)

	middleware.InitMiddleware(cfg)

	return srv, nil
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	// Panic recovery
	app.Use(recover.New())

	// Request ID for tracing
	app.Use(requestid.New())

	// Context Middleware to propagate Request ID and User ID
	app.Use(middleware.ContextMiddleware())

	// Prometheus Metrics
	if s.promMiddleware != nil {
		app.Use(s.promMiddleware.Middleware)
	}

	// Security headers
	app.Use(helmet.New())

	// Structured Logging middleware (after requestid and context middleware)
	app.Use(middleware.StructuredLogger())

	// CORS middleware should run before middlewares that can short-circuit
	// (e.g. limiter) so browser clients still receive CORS headers on error
	// responses.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000"
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	// Global rate limiting (100 requests per minute per IP)
	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		// Never rate-limit preflight requests; they should be handled by CORS.
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	api := app.Group("/api")

	// Health checks
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)

	// Metrics endpoint for Prometheus
	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	// Token-bearing action link routes are public: the token is the
	// capability. Registered before the protected group so they match first.
	api.Get("/transfer-requests/action", s.ResolveBrokerAction)
	api.Post("/transfer-requests/action", middleware.RateLimit(
		s.redis, 10, time.Minute, "broker_action"), s.ApplyBrokerAction)

	// Protected routes
	protected := api.Group("", middleware.AuthRequired, s.LoadActor())

	requests := protected.Group("/transfer-requests")
	requests.Get("/", s.GetTransferRequests)
	requests.Post("/", middleware.RateLimit(
		s.redis, 20, time.Minute, "create_request"), s.CreateTransferRequest)
	requests.Post("/broker-split", middleware.RateLimit(
		s.redis, 10, time.Minute, "create_broker_split"), s.CreateBrokerSplitRequest)
	requests.Patch("/", s.UpdateTransferRequest)
	requests.Get("/:id/communications", s.GetRequestCommunications)
	requests.Post("/:id/communications", s.CreateRequestCommunication)
	requests.Get("/:id/actions", s.GetRequestActions)
	requests.Post("/:id/complete", s.CompleteTransferRequest)
}

// LoadActor resolves the authenticated user's role into an explicit Actor
// capability stored in locals. Every store and lifecycle call receives this
// actor; role is never re-derived mid-flow.
func (s *Server) LoadActor() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, ok := c.Locals("userID").(uint)
		if !ok {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("authentication required"))
		}

		var user models.User
		if err := s.db.WithContext(c.UserContext()).
			Select("id", "role").
			First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.RespondWithError(c, fiber.StatusUnauthorized,
					models.NewUnauthorizedError("unknown user"))
			}
			return models.RespondWithError(c, fiber.StatusInternalServerError, err)
		}

		c.Locals("actor", models.Actor{ID: user.ID, Role: user.Role})
		return c.Next()
	}
}

// LivenessCheck handles GET /health/live.
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// ReadinessCheck handles GET /health/ready. Redis is optional, so only the
// database gates readiness.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "db unavailable"})
	}
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "db unavailable"})
	}

	redisStatus := "absent"
	if s.redis != nil {
		redisStatus = "ok"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unavailable"
		}
	}

	return c.JSON(fiber.Map{"status": "ok", "redis": redisStatus})
}

// Shutdown releases server resources: stops the dispatcher worker and waits
// for queued notifications to drain.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownFn()
	if s.dispatcher != nil {
		return s.dispatcher.Shutdown(ctx)
	}
	return nil
}
