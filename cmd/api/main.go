package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backend-runtrack/internal/config"
	"backend-runtrack/internal/db"
	"backend-runtrack/internal/events"
	"backend-runtrack/internal/server"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

var mainDepsProvider = defaultDeps
var mainRunner = realMain

func main() {
	mainRunner(mainDepsProvider())
}

type mainDeps struct {
	loadEnv         func(...string) error
	loadConfig      func() config.Config
	connectPostgres func(config.Config) (*pgxpool.Pool, error)
	connectRedis    func(config.Config) *redis.Client
	connectBroker   func(config.Config) (*events.Publisher, error)
	notify          func(chan<- os.Signal, ...os.Signal)
	run             func(context.Context, config.Config, server.Infra, <-chan os.Signal, ListenFunc) error
}

func defaultDeps() mainDeps {
	return mainDeps{
		loadEnv:         godotenv.Load,
		loadConfig:      config.Load,
		connectPostgres: db.ConnectPostgres,
		connectRedis:    db.ConnectRedis,
		connectBroker:   connectBroker,
		notify:          signal.Notify,
		run:             Run,
	}
}

func connectBroker(cfg config.Config) (*events.Publisher, error) {
	if cfg.AMQPURL == "" {
		return nil, nil
	}
	return events.Connect(cfg.AMQPURL, cfg.AMQPExchange)
}

func realMain(deps mainDeps) {
	if err := deps.loadEnv(); err != nil {
		log.Printf("no .env loaded: %v", err)
	}
	cfg := deps.loadConfig()

	pg, err := deps.connectPostgres(cfg)
	if err != nil {
		log.Printf("postgres connection failed, journal disabled: %v", err)
		pg = nil
	}

	rdb := deps.connectRedis(cfg)

	publisher, err := deps.connectBroker(cfg)
	if err != nil {
		log.Printf("amqp connection failed, run events disabled: %v", err)
		publisher = nil
	}

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	infra := server.Infra{DB: pg, Redis: rdb, Events: publisher}
	if err := deps.run(context.Background(), cfg, infra, signals, nil); err != nil {
		log.Printf("server exited with error: %v", err)
	}
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

var shutdownFn = func(app *fiber.App, ctx context.Context) error {
	return app.ShutdownWithContext(ctx)
}

// Run starts the HTTP server and waits for termination signals. On the way out
// any active run is aborted and the journal is drained before pools close.
func Run(ctx context.Context, cfg config.Config, infra server.Infra, signals <-chan os.Signal, listen ListenFunc) error {
	srv := server.NewServer(cfg, infra)

	if srv.Journal != nil {
		schemaCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := srv.Journal.EnsureSchema(schemaCtx); err != nil {
			log.Printf("journal schema setup failed: %v", err)
		}
		cancel()
	}

	if listen == nil {
		listen = defaultListen
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen(srv.App, cfg.ServerPort)
	}()

	select {
	case <-signals:
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			srv.Close()
			closeInfra(infra)
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := shutdownFn(srv.App, shutdownCtx)
	srv.Close()
	closeInfra(infra)
	return err
}

func closeInfra(infra server.Infra) {
	if infra.Events != nil {
		if err := infra.Events.Close(); err != nil {
			log.Printf("amqp close: %v", err)
		}
	}
	if infra.DB != nil {
		infra.DB.Close()
	}
	if infra.Redis != nil {
		_ = infra.Redis.Close()
	}
}
