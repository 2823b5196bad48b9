package server

import (
	"backend-runtrack/internal/auth"
	"backend-runtrack/internal/config"
	"backend-runtrack/internal/events"
	"backend-runtrack/internal/journal"
	"backend-runtrack/internal/metrics"
	"backend-runtrack/internal/runs"
	"backend-runtrack/internal/stream"
	"backend-runtrack/internal/tracking"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Infra holds the optional backing services. Nil members switch their feature off.
type Infra struct {
	DB     *pgxpool.Pool
	Redis  *redis.Client
	Events *events.Publisher
}

type Server struct {
	App     *fiber.App
	Cfg     config.Config
	Infra   Infra
	Stream  *stream.Hub
	Source  *tracking.PushSource
	Tracker *tracking.Tracker
	Runs    *runs.Client
	Journal *journal.Service
}

func NewServer(cfg config.Config, infra Infra) *Server {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{
		App:    app,
		Cfg:    cfg,
		Infra:  infra,
		Stream: stream.NewHub(infra.Redis),
		Source: tracking.NewPushSource(),
		Runs:   runs.NewClient(cfg.RunsAPIURL, cfg.RunsAPITimeout),
	}

	observers := tracking.Observers{s.Stream, metrics.Observer{}}
	if infra.DB != nil {
		s.Journal = journal.NewService(infra.DB, 1024, cfg.MinPaceDistanceM)
		observers = append(observers, s.Journal)
	}
	if infra.Events != nil {
		observers = append(observers, infra.Events)
	}
	s.Tracker = tracking.NewTracker(TrackingConfig(cfg), s.Source, s.Runs, observers)

	registerRoutes(s)
	return s
}

// TrackingConfig maps environment settings onto the engine configuration.
func TrackingConfig(cfg config.Config) tracking.Config {
	tc := tracking.DefaultConfig()
	if cfg.MaxAccuracyM > 0 {
		tc.Thresholds.MaxAccuracyM = cfg.MaxAccuracyM
	}
	if cfg.MaxJumpM > 0 {
		tc.Thresholds.MaxJumpM = cfg.MaxJumpM
	}
	if cfg.MinPaceDistanceM > 0 {
		tc.MinPaceDistanceM = cfg.MinPaceDistanceM
	}
	if cfg.TickInterval > 0 {
		tc.TickInterval = cfg.TickInterval
	}
	tc.Watch = tracking.WatchOptions{
		HighAccuracy: cfg.HighAccuracy,
		MaximumAge:   cfg.SampleMaxAge,
		Timeout:      cfg.SampleTimeout,
	}
	tc.Record = tracking.RecordOptions{
		RetainAccuracy:   cfg.RetainAccuracy,
		RetainTimestamps: cfg.RetainTimestamps,
	}
	return tc
}

// Close drops any active run and drains the background writers.
func (s *Server) Close() {
	s.Tracker.Abort()
	if s.Journal != nil {
		s.Journal.Close()
	}
	s.Stream.Close()
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "run": s.Tracker.State()})
	})
	s.App.Get("/metrics", metrics.Handler())

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	tracking.RegisterRoutes(s.App.Group("/run"), s.Tracker, s.Source, jwtMiddleware)
	runs.RegisterRoutes(s.App, s.Runs, jwtMiddleware)
	if s.Journal != nil {
		journal.RegisterRoutes(s.App.Group("/journal"), s.Journal, jwtMiddleware)
	}
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream)
}
