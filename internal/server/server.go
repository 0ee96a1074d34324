package server

import (
	"github.com/daeungkim/ta-dah/internal/auth"
	"github.com/daeungkim/ta-dah/internal/config"
	"github.com/daeungkim/ta-dah/internal/driving"
	"github.com/daeungkim/ta-dah/internal/geo"
	"github.com/daeungkim/ta-dah/internal/matching"
	"github.com/daeungkim/ta-dah/internal/metrics"
	"github.com/daeungkim/ta-dah/internal/stream"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	App    *fiber.App
	Cfg    config.Config
	DB     *pgxpool.Pool
	Redis  *redis.Client
	Stream *stream.Hub
	Engine *driving.Engine
}

// NewServer assembles the application. It fails fast when the configured
// reference systems cannot produce a transformer.
func NewServer(cfg config.Config, db *pgxpool.Pool, redisClient *redis.Client) (*Server, error) {
	if cfg.SourceEPSG == 0 {
		cfg.SourceEPSG = 4326
	}
	if cfg.TargetEPSG == 0 {
		cfg.TargetEPSG = 32652
	}

	transformer, err := geo.NewTransformer(cfg.SourceEPSG, cfg.TargetEPSG)
	if err != nil {
		return nil, err
	}

	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	hub := stream.NewHub(redisClient)
	matcher := matching.NewRoadMatcher(db, cfg.TargetEPSG, cfg.MatchToleranceM)
	store := driving.NewPostgresStore(db, cfg.TargetEPSG)
	engine := driving.NewEngine(transformer, matcher, store, hub, driving.EngineConfig{
		OperationTimeout: cfg.OperationTimeout,
		AppendRetries:    cfg.AppendRetries,
	})

	s := &Server{
		App:    app,
		Cfg:    cfg,
		DB:     db,
		Redis:  redisClient,
		Stream: hub,
		Engine: engine,
	}

	registerRoutes(s)
	return s, nil
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	metrics.RegisterRoutes(s.App)

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	auth.RegisterRoutes(s.App.Group("/auth"), auth.NewService(s.Cfg.JWTSecret, s.DB))
	driving.RegisterRoutes(s.App.Group("/driving", jwtMiddleware), s.Engine, auth.RequireRole(auth.RoleDriver))
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream)
}
